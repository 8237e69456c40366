package chain

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

const (
	Ethereum domain.ChainID = 1
	Base     domain.ChainID = 8453

	DefaultV2FeePips = 3000
	// Swap router overhead plus a typical pool interaction, in gas units.
	DefaultGasBase   = 90_000
	DefaultGasPerHop = 60_000
)

var (
	multicall3 = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

	defaultFeeTiers = []uint32{100, 500, 3000, 10000}
)

func tok(id domain.ChainID, addr, symbol string, decimals uint8) domain.Token {
	return domain.Token{ChainID: id, Address: common.HexToAddress(addr), Symbol: symbol, Decimals: decimals}
}

func ethereumMainnet() Chain {
	weth := tok(Ethereum, "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "WETH", 18)
	return Chain{
		ID:            Ethereum,
		Name:          "ethereum",
		V2Factory:     common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"),
		V3Factory:     common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"),
		QuoterV2:      common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e"),
		Router:        common.HexToAddress("0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45"),
		Multicall3:    multicall3,
		NativeSymbol:  "ETH",
		WrappedNative: weth,
		BaseTokens: []domain.Token{
			weth,
			tok(Ethereum, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "USDC", 6),
			tok(Ethereum, "0xdAC17F958D2ee523a2206206994597C13D831ec7", "USDT", 6),
			tok(Ethereum, "0x6B175474E89094C44Da98b954EedeAC495271d0F", "DAI", 18),
			tok(Ethereum, "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", "WBTC", 8),
		},
		V3FeeTiers: defaultFeeTiers,
		V2FeePips:  DefaultV2FeePips,
		GasBase:    DefaultGasBase,
		GasPerHop:  DefaultGasPerHop,
	}
}

func baseMainnet() Chain {
	weth := tok(Base, "0x4200000000000000000000000000000000000006", "WETH", 18)
	return Chain{
		ID:            Base,
		Name:          "base",
		V2Factory:     common.HexToAddress("0x8909Dc15e40173Ff4699343b6eB8132c65e18eC6"),
		V3Factory:     common.HexToAddress("0x33128a8fC17869897dcE68Ed026d694621f6FDfD"),
		QuoterV2:      common.HexToAddress("0x3d4e44Eb1374240CE5F1B871ab261CD16335B76a"),
		Router:        common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481"),
		Multicall3:    multicall3,
		NativeSymbol:  "ETH",
		WrappedNative: weth,
		BaseTokens: []domain.Token{
			weth,
			tok(Base, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "USDC", 6),
		},
		V3FeeTiers: defaultFeeTiers,
		V2FeePips:  DefaultV2FeePips,
		GasBase:    DefaultGasBase,
		GasPerHop:  DefaultGasPerHop,
	}
}

// DefaultRegistry returns the built-in chains. Endpoints are empty and must be
// supplied through WithEndpoints or a registry file.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(ethereumMainnet(), baseMainnet())
	if err != nil {
		panic(err)
	}
	return r
}
