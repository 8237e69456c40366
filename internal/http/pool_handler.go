package http

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/http/httputil"
)

type PoolHandler struct {
	aggregatorSvc Aggregator
}

func NewPoolHandler(aggregatorSvc Aggregator) *PoolHandler {
	return &PoolHandler{aggregatorSvc: aggregatorSvc}
}

func (h *PoolHandler) SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup) {
	pub.GET("/stats", h.getStats)
	pub.GET("/candidates", h.listCandidates)
}

func (h *PoolHandler) Root() string {
	return "/pools"
}

// PoolStatsResponse contains cache statistics
type PoolStatsResponse struct {
	// Pool snapshots currently held in-process
	SnapshotCount int `json:"snapshot_count" example:"12"`
}

// @Summary Pool cache statistics
// @Tags pools
// @Produce json
// @Success 200 {object} httputil.Response{data=PoolStatsResponse}
// @Router /api/v1/pools/stats [get]
func (h *PoolHandler) getStats(c *gin.Context) {
	httputil.HandleSuccess(c, PoolStatsResponse{
		SnapshotCount: h.aggregatorSvc.SnapshotCount(),
	})
}

// PoolInfo describes a candidate pool
type PoolInfo struct {
	Address  string    `json:"address" example:"0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"`
	Protocol string    `json:"protocol" enums:"uniswap-v2,uniswap-v3" example:"uniswap-v3"`
	Kind     string    `json:"kind" enums:"ConstantProduct,ConcentratedLiquidity" example:"ConcentratedLiquidity"`
	Token0   TokenInfo `json:"token0"`
	Token1   TokenInfo `json:"token1"`
	FeePips  uint32    `json:"fee_pips" example:"500"`
	TVLUSD   string    `json:"tvl_usd" example:"251234567.12"`
	// Why the pool was selected, e.g. direct-pair,base-token-pair
	Rules       []string `json:"rules"`
	BlockNumber uint64   `json:"block_number" example:"21000000"`
}

// CandidatePoolsResponse is a page of the candidate pool set of a pair
type CandidatePoolsResponse struct {
	Pools       []PoolInfo `json:"pools"`
	Source      string     `json:"source" enums:"indexer,onchain" example:"indexer"`
	BlockNumber uint64     `json:"block_number" example:"21000000"`

	Total int `json:"total" example:"30"`
	Page  int `json:"page" example:"1"`
	// Number of pools per page (max 500)
	Limit int `json:"limit" example:"100"`
	Pages int `json:"pages" example:"1"`
}

func NewPoolInfo(c domain.CandidatePool) PoolInfo {
	p := c.Pool
	return PoolInfo{
		Address:     p.Address.Hex(),
		Protocol:    string(p.Protocol),
		Kind:        p.Kind.Tag.String(),
		Token0:      tokenInfo(p.Token0),
		Token1:      tokenInfo(p.Token1),
		FeePips:     p.Kind.FeePips(),
		TVLUSD:      p.TVLUSD.StringFixed(2),
		Rules:       c.Rules.Names(),
		BlockNumber: p.BlockNumber,
	}
}

// @Summary Candidate pools of a pair
// @Description Returns the bounded pool set the router would search for tokenIn -> tokenOut.
// @Tags pools
// @Produce json
// @Param chainId query string true "EVM chain id" example(1)
// @Param tokenIn query string true "Input token address"
// @Param tokenOut query string true "Output token address"
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Page size, max 500" default(100)
// @Success 200 {object} httputil.Response{data=CandidatePoolsResponse}
// @Failure 400 {object} httputil.Response
// @Failure 404 {object} httputil.Response
// @Failure 503 {object} httputil.Response
// @Router /api/v1/pools/candidates [get]
func (h *PoolHandler) listCandidates(c *gin.Context) {
	chainID, err := parseChainID(c.Query("chainId"))
	if err != nil {
		httputil.HandleBadRequest(c, err.Error())
		return
	}
	tokenIn, err := parseAddress("tokenIn", c.Query("tokenIn"))
	if err != nil {
		httputil.HandleBadRequest(c, err.Error())
		return
	}
	tokenOut, err := parseAddress("tokenOut", c.Query("tokenOut"))
	if err != nil {
		httputil.HandleBadRequest(c, err.Error())
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	set, err := h.aggregatorSvc.CandidatePools(c.Request.Context(), chainID, tokenIn, tokenOut)
	if err != nil {
		httputil.HandleRoutingError(c, err)
		return
	}

	total := set.Len()
	pages := (total + limit - 1) / limit
	offset := min((page-1)*limit, total)
	end := min(offset+limit, total)

	pools := make([]PoolInfo, 0, end-offset)
	for _, cp := range set.Pools[offset:end] {
		pools = append(pools, NewPoolInfo(cp))
	}

	httputil.HandleSuccess(c, CandidatePoolsResponse{
		Pools:       pools,
		Source:      set.Source,
		BlockNumber: set.BlockNumber,
		Total:       total,
		Page:        page,
		Limit:       limit,
		Pages:       pages,
	})
}
