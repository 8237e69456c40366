package blockchain

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const multicall3ABIJSON = `[
  {"inputs":[{"components":[{"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"callData","type":"bytes"}],"name":"calls","type":"tuple[]"}],
   "name":"aggregate3","outputs":[{"components":[{"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}],"name":"returnData","type":"tuple[]"}],
   "stateMutability":"payable","type":"function"},
  {"inputs":[],"name":"getBlockNumber","outputs":[{"name":"blockNumber","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const uniswapV2ABIJSON = `[
  {"inputs":[{"type":"address"},{"type":"address"}],"name":"getPair","outputs":[{"type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"}
]`

const uniswapV3ABIJSON = `[
  {"inputs":[{"type":"address"},{"type":"address"},{"type":"uint24"}],"name":"getPool","outputs":[{"type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"slot0","outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"observationIndex","type":"uint16"},{"name":"observationCardinality","type":"uint16"},{"name":"observationCardinalityNext","type":"uint16"},{"name":"feeProtocol","type":"uint8"},{"name":"unlocked","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"liquidity","outputs":[{"type":"uint128"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"tickSpacing","outputs":[{"type":"int24"}],"stateMutability":"view","type":"function"}
]`

const quoterV2ABIJSON = `[
  {"inputs":[{"components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"fee","type":"uint24"},{"name":"sqrtPriceLimitX96","type":"uint160"}],"name":"params","type":"tuple"}],
   "name":"quoteExactInputSingle","outputs":[{"name":"amountOut","type":"uint256"},{"name":"sqrtPriceX96After","type":"uint160"},{"name":"initializedTicksCrossed","type":"uint32"},{"name":"gasEstimate","type":"uint256"}],
   "stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amount","type":"uint256"},{"name":"fee","type":"uint24"},{"name":"sqrtPriceLimitX96","type":"uint160"}],"name":"params","type":"tuple"}],
   "name":"quoteExactOutputSingle","outputs":[{"name":"amountIn","type":"uint256"},{"name":"sqrtPriceX96After","type":"uint160"},{"name":"initializedTicksCrossed","type":"uint32"},{"name":"gasEstimate","type":"uint256"}],
   "stateMutability":"nonpayable","type":"function"}
]`

const erc20StringABIJSON = `[
  {"inputs":[],"name":"decimals","outputs":[{"type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"symbol","outputs":[{"type":"string"}],"stateMutability":"view","type":"function"}
]`

const erc20Bytes32ABIJSON = `[
  {"inputs":[],"name":"symbol","outputs":[{"type":"bytes32"}],"stateMutability":"view","type":"function"}
]`

type parsedABIs struct {
	multicall3   abi.ABI
	uniswapV2    abi.ABI
	uniswapV3    abi.ABI
	quoterV2     abi.ABI
	erc20        abi.ABI
	erc20Bytes32 abi.ABI
}

var (
	abisOnce sync.Once
	abis     parsedABIs
	abisErr  error
)

func loadABIs() (*parsedABIs, error) {
	abisOnce.Do(func() {
		for _, item := range []struct {
			dst  *abi.ABI
			json string
		}{
			{&abis.multicall3, multicall3ABIJSON},
			{&abis.uniswapV2, uniswapV2ABIJSON},
			{&abis.uniswapV3, uniswapV3ABIJSON},
			{&abis.quoterV2, quoterV2ABIJSON},
			{&abis.erc20, erc20StringABIJSON},
			{&abis.erc20Bytes32, erc20Bytes32ABIJSON},
		} {
			parsed, err := abi.JSON(strings.NewReader(item.json))
			if err != nil {
				abisErr = err
				return
			}
			*item.dst = parsed
		}
	})
	return &abis, abisErr
}

func pack(pick func(*parsedABIs) abi.ABI, method string, args ...interface{}) ([]byte, error) {
	a, err := loadABIs()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	parsed := pick(a)
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}

func unpack(pick func(*parsedABIs) abi.ABI, method string, data []byte) ([]interface{}, error) {
	a, err := loadABIs()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	parsed := pick(a)
	values, err := parsed.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func v2(a *parsedABIs) abi.ABI { return a.uniswapV2 }
func v3(a *parsedABIs) abi.ABI { return a.uniswapV3 }
func quoter(a *parsedABIs) abi.ABI { return a.quoterV2 }
func erc20(a *parsedABIs) abi.ABI { return a.erc20 }
func multicall(a *parsedABIs) abi.ABI { return a.multicall3 }

// Factories

func PackGetPair(tokenA, tokenB common.Address) ([]byte, error) {
	return pack(v2, "getPair", tokenA, tokenB)
}

func PackGetPool(tokenA, tokenB common.Address, feePips uint32) ([]byte, error) {
	return pack(v3, "getPool", tokenA, tokenB, new(big.Int).SetUint64(uint64(feePips)))
}

// UnpackAddress decodes a getPair/getPool result.
func UnpackAddress(method string, data []byte) (common.Address, error) {
	pick := v3
	if method == "getPair" {
		pick = v2
	}
	values, err := unpack(pick, method, data)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unpack %s: unexpected type %T", method, values[0])
	}
	return addr, nil
}

// Pool state

func PackGetReserves() ([]byte, error) {
	return pack(v2, "getReserves")
}

func UnpackReserves(data []byte) (*big.Int, *big.Int, error) {
	values, err := unpack(v2, "getReserves", data)
	if err != nil {
		return nil, nil, err
	}
	r0, ok0 := values[0].(*big.Int)
	r1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("unpack getReserves: unexpected types %T %T", values[0], values[1])
	}
	return r0, r1, nil
}

func PackSlot0() ([]byte, error) {
	return pack(v3, "slot0")
}

func UnpackSlot0(data []byte) (*big.Int, int32, error) {
	values, err := unpack(v3, "slot0", data)
	if err != nil {
		return nil, 0, err
	}
	sqrtPrice, ok := values[0].(*big.Int)
	if !ok {
		return nil, 0, fmt.Errorf("unpack slot0: unexpected sqrtPriceX96 type %T", values[0])
	}
	tick, err := int24(values[1])
	if err != nil {
		return nil, 0, fmt.Errorf("unpack slot0: %w", err)
	}
	return sqrtPrice, tick, nil
}

func PackLiquidity() ([]byte, error) {
	return pack(v3, "liquidity")
}

func UnpackLiquidity(data []byte) (*big.Int, error) {
	values, err := unpack(v3, "liquidity", data)
	if err != nil {
		return nil, err
	}
	l, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack liquidity: unexpected type %T", values[0])
	}
	return l, nil
}

func PackTickSpacing() ([]byte, error) {
	return pack(v3, "tickSpacing")
}

func UnpackTickSpacing(data []byte) (int32, error) {
	values, err := unpack(v3, "tickSpacing", data)
	if err != nil {
		return 0, err
	}
	return int24(values[0])
}

// ERC20

func PackDecimals() ([]byte, error) {
	return pack(erc20, "decimals")
}

func UnpackDecimals(data []byte) (uint8, error) {
	values, err := unpack(erc20, "decimals", data)
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unpack decimals: unexpected type %T", values[0])
	}
	return d, nil
}

func PackSymbol() ([]byte, error) {
	return pack(erc20, "symbol")
}

// UnpackSymbol accepts both string and bytes32 encodings (MKR-style tokens return bytes32).
func UnpackSymbol(data []byte) (string, error) {
	if values, err := unpack(erc20, "symbol", data); err == nil {
		if s, ok := values[0].(string); ok {
			return s, nil
		}
	}
	values, err := unpack(func(a *parsedABIs) abi.ABI { return a.erc20Bytes32 }, "symbol", data)
	if err != nil {
		return "", err
	}
	raw, ok := values[0].([32]byte)
	if !ok {
		return "", fmt.Errorf("unpack symbol: unexpected type %T", values[0])
	}
	return string(bytes.TrimRight(raw[:], "\x00")), nil
}

// QuoterV2

type QuoteSingleParams struct {
	TokenIn  common.Address
	TokenOut common.Address
	Amount   *big.Int
	FeePips  uint32
}

type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

type quoteExactOutputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Amount            *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// QuoteSingleResult is the decoded QuoterV2 answer. Amount is amountOut for
// exact-input quotes and amountIn for exact-output quotes.
type QuoteSingleResult struct {
	Amount            *big.Int
	SqrtPriceX96After *big.Int
	TicksCrossed      uint32
	GasEstimate       uint64
}

func PackQuoteSingle(p QuoteSingleParams, exactIn bool) ([]byte, error) {
	fee := new(big.Int).SetUint64(uint64(p.FeePips))
	if exactIn {
		return pack(quoter, "quoteExactInputSingle", quoteExactInputSingleParams{
			TokenIn:           p.TokenIn,
			TokenOut:          p.TokenOut,
			AmountIn:          p.Amount,
			Fee:               fee,
			SqrtPriceLimitX96: new(big.Int),
		})
	}
	return pack(quoter, "quoteExactOutputSingle", quoteExactOutputSingleParams{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		Amount:            p.Amount,
		Fee:               fee,
		SqrtPriceLimitX96: new(big.Int),
	})
}

func UnpackQuoteSingle(data []byte, exactIn bool) (QuoteSingleResult, error) {
	method := "quoteExactOutputSingle"
	if exactIn {
		method = "quoteExactInputSingle"
	}
	values, err := unpack(quoter, method, data)
	if err != nil {
		return QuoteSingleResult{}, err
	}
	amount, ok0 := values[0].(*big.Int)
	sqrtAfter, ok1 := values[1].(*big.Int)
	ticks, ok2 := values[2].(uint32)
	gas, ok3 := values[3].(*big.Int)
	if !ok0 || !ok1 || !ok2 || !ok3 {
		return QuoteSingleResult{}, fmt.Errorf("unpack %s: unexpected output types", method)
	}
	res := QuoteSingleResult{Amount: amount, SqrtPriceX96After: sqrtAfter, TicksCrossed: ticks}
	if gas.IsUint64() {
		res.GasEstimate = gas.Uint64()
	}
	return res, nil
}

// Multicall3

type multicallCall struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type multicallResult struct {
	Success    bool
	ReturnData []byte
}

func packAggregate3(calls []multicallCall) ([]byte, error) {
	return pack(multicall, "aggregate3", calls)
}

func unpackAggregate3(data []byte) ([]multicallResult, error) {
	values, err := unpack(multicall, "aggregate3", data)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(values[0], new([]multicallResult)).(*[]multicallResult), nil
}

func PackGetBlockNumber() ([]byte, error) {
	return pack(multicall, "getBlockNumber")
}

func UnpackBlockNumber(data []byte) (uint64, error) {
	values, err := unpack(multicall, "getBlockNumber", data)
	if err != nil {
		return 0, err
	}
	n, ok := values[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("unpack getBlockNumber: unexpected value %v", values[0])
	}
	return n.Uint64(), nil
}

func int24(v interface{}) (int32, error) {
	switch t := v.(type) {
	case *big.Int:
		if !t.IsInt64() {
			return 0, fmt.Errorf("int24 out of range: %s", t)
		}
		return int32(t.Int64()), nil
	case int32:
		return t, nil
	default:
		return 0, fmt.Errorf("unexpected int24 type %T", v)
	}
}
