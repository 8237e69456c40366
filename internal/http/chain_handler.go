package http

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/http/httputil"
)

const headLookupTimeout = 2 * time.Second

type ChainHandler struct {
	aggregatorSvc Aggregator
}

func NewChainHandler(aggregatorSvc Aggregator) *ChainHandler {
	return &ChainHandler{aggregatorSvc: aggregatorSvc}
}

func (h *ChainHandler) SetRoutes(pub *gin.RouterGroup, private *gin.RouterGroup, admin *gin.RouterGroup) {
	pub.GET("", h.listChains)
	pub.GET("/:id", h.getChain)
}

func (h *ChainHandler) Root() string {
	return "/chains"
}

// ChainInfo describes a supported chain
type ChainInfo struct {
	ID            uint64      `json:"id" example:"1"`
	Name          string      `json:"name" example:"ethereum"`
	NativeSymbol  string      `json:"nativeSymbol" example:"ETH"`
	WrappedNative TokenInfo   `json:"wrappedNative"`
	BaseTokens    []TokenInfo `json:"baseTokens"`
	Protocols     []string    `json:"protocols" example:"uniswap-v2,uniswap-v3"`
	V3FeeTiers    []uint32    `json:"v3FeeTiers,omitempty" example:"100,500,3000,10000"`
	// Whether pools come from a subgraph indexer or on-chain discovery only
	Indexed bool `json:"indexed" example:"true"`
	// Simulation through QuoterV2 is available
	Simulation bool `json:"simulation" example:"true"`
	// Latest observed block; only set on the single chain endpoint
	LatestBlock uint64 `json:"latestBlock,omitempty" example:"21000000"`
}

func NewChainInfo(ch *chain.Chain) ChainInfo {
	info := ChainInfo{
		ID:            uint64(ch.ID),
		Name:          ch.Name,
		NativeSymbol:  ch.NativeSymbol,
		WrappedNative: tokenInfo(ch.WrappedNative),
		BaseTokens:    make([]TokenInfo, 0, len(ch.BaseTokens)),
		Indexed:       ch.IndexerV2URL != "" || ch.IndexerV3URL != "",
		Simulation:    ch.HasV3() && ch.QuoterV2 != (common.Address{}),
	}
	for _, t := range ch.BaseTokens {
		info.BaseTokens = append(info.BaseTokens, tokenInfo(t))
	}
	if ch.HasV2() {
		info.Protocols = append(info.Protocols, "uniswap-v2")
	}
	if ch.HasV3() {
		info.Protocols = append(info.Protocols, "uniswap-v3")
		info.V3FeeTiers = ch.V3FeeTiers
	}
	return info
}

// @Summary List supported chains
// @Tags chains
// @Produce json
// @Success 200 {object} httputil.Response{data=[]ChainInfo}
// @Router /api/v1/chains [get]
func (h *ChainHandler) listChains(c *gin.Context) {
	chains := h.aggregatorSvc.Chains()
	out := make([]ChainInfo, 0, len(chains))
	for _, ch := range chains {
		out = append(out, NewChainInfo(ch))
	}
	httputil.HandleSuccess(c, out)
}

// @Summary Get one chain
// @Tags chains
// @Produce json
// @Param id path string true "EVM chain id" example(1)
// @Success 200 {object} httputil.Response{data=ChainInfo}
// @Failure 400 {object} httputil.Response "Unsupported chain"
// @Router /api/v1/chains/{id} [get]
func (h *ChainHandler) getChain(c *gin.Context) {
	id, err := parseChainID(c.Param("id"))
	if err != nil {
		httputil.HandleBadRequest(c, err.Error())
		return
	}
	ch, err := h.aggregatorSvc.Chain(id)
	if err != nil {
		httputil.HandleRoutingError(c, err)
		return
	}

	info := NewChainInfo(ch)
	if ch.RPCURL != "" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), headLookupTimeout)
		defer cancel()
		if head, err := h.aggregatorSvc.LatestBlock(ctx, id); err == nil {
			info.LatestBlock = head
		} else {
			log.Debug().Err(err).Str("chain", ch.Name).Msg("[chainHandler] head unavailable")
		}
	}
	httputil.HandleSuccess(c, info)
}
