package chain

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pelletier/go-toml/v2"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

type fileConfig struct {
	Chains []fileChain `toml:"chains"`
}

type fileToken struct {
	Address  string `toml:"address"`
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
}

type fileChain struct {
	ID            uint64      `toml:"id"`
	Name          string      `toml:"name"`
	V2Factory     string      `toml:"v2_factory"`
	V3Factory     string      `toml:"v3_factory"`
	QuoterV2      string      `toml:"quoter_v2"`
	Router        string      `toml:"router"`
	Multicall3    string      `toml:"multicall3"`
	NativeSymbol  string      `toml:"native_symbol"`
	WrappedNative fileToken   `toml:"wrapped_native"`
	BaseTokens    []fileToken `toml:"base_tokens"`
	V3FeeTiers    []uint32    `toml:"v3_fee_tiers"`
	V2FeePips     uint32      `toml:"v2_fee_pips"`
	RPCURL        string      `toml:"rpc_url"`
	WSURL         string      `toml:"ws_url"`
	IndexerV2URL  string      `toml:"indexer_v2_url"`
	IndexerV3URL  string      `toml:"indexer_v3_url"`
	GasBase       uint64      `toml:"gas_base"`
	GasPerHop     uint64      `toml:"gas_per_hop"`
}

// LoadRegistry reads a TOML chain registry file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain registry file: %w", err)
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	var cfg fileConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse chain registry: %w", err)
	}
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("no chains in registry")
	}

	chains := make([]Chain, 0, len(cfg.Chains))
	for _, fc := range cfg.Chains {
		c, err := fc.toChain()
		if err != nil {
			return nil, err
		}
		chains = append(chains, c)
	}
	return NewRegistry(chains...)
}

func (fc fileChain) toChain() (Chain, error) {
	id := domain.ChainID(fc.ID)
	addr := func(field, s string) (common.Address, error) {
		if s == "" {
			return common.Address{}, nil
		}
		if !common.IsHexAddress(s) {
			return common.Address{}, fmt.Errorf("chain %d: invalid %s address %q", fc.ID, field, s)
		}
		return common.HexToAddress(s), nil
	}
	token := func(ft fileToken) (domain.Token, error) {
		a, err := addr("token", ft.Address)
		if err != nil {
			return domain.Token{}, err
		}
		return domain.Token{ChainID: id, Address: a, Symbol: ft.Symbol, Decimals: ft.Decimals}, nil
	}

	c := Chain{
		ID:           id,
		Name:         fc.Name,
		NativeSymbol: fc.NativeSymbol,
		V3FeeTiers:   fc.V3FeeTiers,
		V2FeePips:    fc.V2FeePips,
		RPCURL:       fc.RPCURL,
		WSURL:        fc.WSURL,
		IndexerV2URL: fc.IndexerV2URL,
		IndexerV3URL: fc.IndexerV3URL,
		GasBase:      fc.GasBase,
		GasPerHop:    fc.GasPerHop,
	}

	var err error
	if c.V2Factory, err = addr("v2_factory", fc.V2Factory); err != nil {
		return Chain{}, err
	}
	if c.V3Factory, err = addr("v3_factory", fc.V3Factory); err != nil {
		return Chain{}, err
	}
	if c.QuoterV2, err = addr("quoter_v2", fc.QuoterV2); err != nil {
		return Chain{}, err
	}
	if c.Router, err = addr("router", fc.Router); err != nil {
		return Chain{}, err
	}
	if c.Multicall3, err = addr("multicall3", fc.Multicall3); err != nil {
		return Chain{}, err
	}
	if c.WrappedNative, err = token(fc.WrappedNative); err != nil {
		return Chain{}, err
	}
	for _, ft := range fc.BaseTokens {
		t, err := token(ft)
		if err != nil {
			return Chain{}, err
		}
		c.BaseTokens = append(c.BaseTokens, t)
	}
	if c.V2FeePips == 0 {
		c.V2FeePips = DefaultV2FeePips
	}
	if c.GasBase == 0 {
		c.GasBase = DefaultGasBase
	}
	if c.GasPerHop == 0 {
		c.GasPerHop = DefaultGasPerHop
	}
	return c, nil
}
