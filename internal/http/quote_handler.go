package http

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/http/httputil"
	"github.com/hxuan190/evm-route-engine/internal/services/router"
)

const quoteTimeout = 10 * time.Second

type QuoteHandler struct {
	aggregatorSvc Aggregator
}

func NewQuoteHandler(aggregatorSvc Aggregator) *QuoteHandler {
	return &QuoteHandler{aggregatorSvc: aggregatorSvc}
}

func (h *QuoteHandler) SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup) {
	pub.GET("", h.getQuote)
}

func (h *QuoteHandler) Root() string {
	return "/quote"
}

// QuoteRequest represents the parameters for requesting a swap quote
type QuoteRequest struct {
	// EVM chain id, e.g. 1 for Ethereum mainnet
	ChainID string `form:"chainId" binding:"required" example:"1"`

	// Input token address (0x-prefixed hex)
	TokenIn string `form:"tokenIn" binding:"required" example:"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"`

	// Output token address (0x-prefixed hex)
	TokenOut string `form:"tokenOut" binding:"required" example:"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"`

	// Amount in raw token units. Exact-input: amount sold. Exact-output: amount bought.
	Amount string `form:"amount" binding:"required" example:"1000000000000000000"`

	// exactIn (default) or exactOut
	TradeType string `form:"tradeType" enums:"exactIn,exactOut" example:"exactIn"`

	// Slippage tolerance in basis points. Default: 50 (0.5%)
	SlippageBps uint16 `form:"slippageBps" example:"50"`

	// Optional search bounds; capped by the server configuration
	MaxHops   int `form:"maxHops" example:"3"`
	MaxSplits int `form:"maxSplits" example:"3"`

	// Unix seconds after which the swap must revert. Default: now + 20 minutes
	Deadline int64 `form:"deadline" example:"0"`
}

// TokenInfo is a token with its metadata
type TokenInfo struct {
	Address  string `json:"address" example:"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"`
	Symbol   string `json:"symbol,omitempty" example:"WETH"`
	Decimals uint8  `json:"decimals" example:"18"`
}

// HopInfo describes one pool of a route
type HopInfo struct {
	Pool     string `json:"pool" example:"0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"`
	Protocol string `json:"protocol" enums:"uniswap-v2,uniswap-v3" example:"uniswap-v3"`
	FeePips  uint32 `json:"feePips" example:"500"`
	TokenIn  string `json:"tokenIn"`
	TokenOut string `json:"tokenOut"`
}

// RouteInfo is one leg of a (possibly split) plan
type RouteInfo struct {
	// Share of the trade carried by this route
	Percent        uint8     `json:"percent" example:"100"`
	AmountIn       string    `json:"amountIn" example:"1000000000000000000"`
	AmountOut      string    `json:"amountOut" example:"3012345678"`
	GasEstimate    uint64    `json:"gasEstimate" example:"150000"`
	PriceImpactBps uint16    `json:"priceImpactBps" example:"12"`
	Path           []string  `json:"path"`
	Hops           []HopInfo `json:"hops"`
}

// QuoteResponse is the swap plan returned for a quote request
type QuoteResponse struct {
	RequestID string    `json:"requestId"`
	ChainID   uint64    `json:"chainId" example:"1"`
	TokenIn   TokenInfo `json:"tokenIn"`
	TokenOut  TokenInfo `json:"tokenOut"`
	TradeType string    `json:"tradeType" enums:"exactIn,exactOut" example:"exactIn"`
	Amount    string    `json:"amount" example:"1000000000000000000"`

	AmountIn  string `json:"amountIn" example:"1000000000000000000"`
	AmountOut string `json:"amountOut" example:"3012345678"`

	// Minimum output (exactIn) or maximum input (exactOut) after slippage
	AmountThreshold string `json:"amountThreshold" example:"2997283949"`
	SlippageBps     uint16 `json:"slippageBps" example:"50"`
	Deadline        int64  `json:"deadline" example:"1767225600"`

	PriceImpactBps      uint16 `json:"priceImpactBps" example:"12"`
	PriceImpactPercent  string `json:"priceImpactPercent" example:"0.12%"`
	PriceImpactSeverity string `json:"priceImpactSeverity" enums:"none,low,moderate,high,extreme" example:"none"`

	GasEstimate         uint64 `json:"gasEstimate" example:"150000"`
	GasPriceWei         string `json:"gasPriceWei" example:"20000000000"`
	GasCostInQuoteToken string `json:"gasCostInQuoteToken" example:"9036000"`

	BlockNumber uint64      `json:"blockNumber" example:"21000000"`
	Optimal     bool        `json:"optimal" example:"true"`
	Routes      []RouteInfo `json:"routes"`
	Warnings    []string    `json:"warnings,omitempty"`
}

func (h *QuoteHandler) parseQuoteRequest(c *gin.Context) (domain.RouteRequest, bool) {
	var req QuoteRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httputil.HandleBadRequest(c, "invalid query parameters: "+err.Error())
		return domain.RouteRequest{}, false
	}

	chainID, err := parseChainID(req.ChainID)
	if err != nil {
		httputil.HandleBadRequest(c, err.Error())
		return domain.RouteRequest{}, false
	}
	tokenIn, err := parseAddress("tokenIn", req.TokenIn)
	if err != nil {
		httputil.HandleBadRequest(c, err.Error())
		return domain.RouteRequest{}, false
	}
	tokenOut, err := parseAddress("tokenOut", req.TokenOut)
	if err != nil {
		httputil.HandleBadRequest(c, err.Error())
		return domain.RouteRequest{}, false
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		httputil.HandleBadRequest(c, "invalid amount: must be a positive integer")
		return domain.RouteRequest{}, false
	}

	tradeType, ok := domain.ParseTradeType(req.TradeType)
	if !ok {
		httputil.HandleBadRequest(c, "invalid tradeType: must be exactIn or exactOut")
		return domain.RouteRequest{}, false
	}

	return domain.RouteRequest{
		ChainID:              chainID,
		TokenIn:              tokenIn,
		TokenOut:             tokenOut,
		Amount:               amount,
		TradeType:            tradeType,
		MaxHops:              req.MaxHops,
		MaxSplits:            req.MaxSplits,
		SlippageToleranceBps: req.SlippageBps,
		DeadlineUnix:         req.Deadline,
	}, true
}

func tokenInfo(t domain.Token) TokenInfo {
	return TokenInfo{Address: t.Address.Hex(), Symbol: t.Symbol, Decimals: t.Decimals}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func NewQuoteResponse(plan *domain.SwapPlan) QuoteResponse {
	routes := make([]RouteInfo, 0, len(plan.Routes))
	for _, q := range plan.Routes {
		info := RouteInfo{
			Percent:        q.Percent,
			AmountIn:       bigString(q.AmountIn),
			AmountOut:      bigString(q.AmountOut),
			GasEstimate:    q.GasEstimate,
			PriceImpactBps: q.PriceImpactBps,
			Path:           make([]string, 0, len(q.Route.Path)),
			Hops:           make([]HopInfo, 0, len(q.Route.Pools)),
		}
		for _, t := range q.Route.Path {
			info.Path = append(info.Path, t.Address.Hex())
		}
		for i, p := range q.Route.Pools {
			info.Hops = append(info.Hops, HopInfo{
				Pool:     p.Address.Hex(),
				Protocol: string(p.Protocol),
				FeePips:  p.Kind.FeePips(),
				TokenIn:  q.Route.Path[i].Address.Hex(),
				TokenOut: q.Route.Path[i+1].Address.Hex(),
			})
		}
		routes = append(routes, info)
	}

	return QuoteResponse{
		RequestID:           plan.RequestID,
		ChainID:             uint64(plan.ChainID),
		TokenIn:             tokenInfo(plan.TokenIn),
		TokenOut:            tokenInfo(plan.TokenOut),
		TradeType:           plan.TradeType.String(),
		Amount:              bigString(plan.Amount),
		AmountIn:            bigString(plan.TotalAmountIn),
		AmountOut:           bigString(plan.TotalAmountOut),
		AmountThreshold:     bigString(plan.AmountThreshold),
		SlippageBps:         plan.SlippageToleranceBps,
		Deadline:            plan.Deadline,
		PriceImpactBps:      plan.PriceImpactBps,
		PriceImpactPercent:  fmt.Sprintf("%.2f%%", float64(plan.PriceImpactBps)/100.0),
		PriceImpactSeverity: string(router.GetPriceImpactSeverity(plan.PriceImpactBps)),
		GasEstimate:         plan.TotalGasEstimate,
		GasPriceWei:         bigString(plan.GasPriceWei),
		GasCostInQuoteToken: bigString(plan.GasCostInQuoteToken),
		BlockNumber:         plan.BlockNumber,
		Optimal:             plan.Optimal,
		Routes:              routes,
		Warnings:            plan.Warnings,
	}
}

// @Summary Get swap quote
// @Description Computes the best swap plan for a token pair on one EVM chain. The router:
// @Description - selects candidate Uniswap V2 / V3 pools around the pair and the chain's base tokens
// @Description - enumerates routes up to maxHops
// @Description - splits the trade across up to maxSplits routes when that nets more after gas
// @Description
// @Description Amounts are raw token units (wei for 18-decimal tokens). For exactIn the
// @Description amountThreshold is the minimum output; for exactOut it is the maximum input.
// @Tags quote
// @Produce json
// @Param chainId query string true "EVM chain id" example(1)
// @Param tokenIn query string true "Input token address" example(0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2)
// @Param tokenOut query string true "Output token address" example(0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48)
// @Param amount query string true "Amount in raw token units" example(1000000000000000000)
// @Param tradeType query string false "exactIn or exactOut" Enums(exactIn, exactOut) default(exactIn)
// @Param slippageBps query int false "Slippage tolerance in basis points" default(50)
// @Param maxHops query int false "Maximum hops per route"
// @Param maxSplits query int false "Maximum routes in the plan"
// @Param deadline query int false "Unix deadline in seconds"
// @Success 200 {object} httputil.Response{data=QuoteResponse} "Swap plan"
// @Failure 400 {object} httputil.Response "Invalid request or unsupported chain"
// @Failure 404 {object} httputil.Response "No candidate pools or no route"
// @Failure 503 {object} httputil.Response "Pool data or gas price unavailable"
// @Failure 504 {object} httputil.Response "Upstream timeout"
// @Router /api/v1/quote [get]
func (h *QuoteHandler) getQuote(c *gin.Context) {
	req, ok := h.parseQuoteRequest(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), quoteTimeout)
	defer cancel()

	plan, err := h.aggregatorSvc.Route(ctx, req)
	if err != nil {
		httputil.HandleRoutingError(c, err)
		return
	}
	httputil.HandleSuccess(c, NewQuoteResponse(plan))
}
