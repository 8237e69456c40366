package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/hxuan190/evm-route-engine/internal/adapters/blockchain"
	"github.com/hxuan190/evm-route-engine/internal/aggregator"
	"github.com/hxuan190/evm-route-engine/internal/common"
	"github.com/hxuan190/evm-route-engine/internal/config"
	"github.com/hxuan190/evm-route-engine/internal/http"
)

// @title EVM Route Engine API
// @version 1.0
// @description Smart order router for Uniswap V2 / V3 style DEXs on EVM chains.
// @description
// @description ## Features
// @description - **Candidate selection**: direct pairs, base-token pairs and the deepest pools around a trade
// @description - **Multi-hop routing**: routes up to 3 hops through WETH, USDC and the other base tokens
// @description - **Split routing**: a trade is split across up to 3 routes when the net result after gas improves
// @description - **Gas aware**: gas cost is priced in the quote token and charged per hop
// @description - **Slippage protection**: every plan carries a minimum output or maximum input
// @description
// @description ## Usage Tips
// @description - Amounts are raw token units: 1 WETH = 1000000000000000000, 1 USDC = 1000000
// @description - Default slippage is 50 bps (0.5%)
// @description - Plans are computed at the latest observed block and cached for one block
// @description
// @BasePath /
// @schemes https http
// @tag.name quote
// @tag.description Swap plans with split routes, price impact and gas cost
// @tag.name chains
// @tag.description Supported chains and their base tokens
// @tag.name pools
// @tag.description Candidate pool sets and cache statistics

func main() {
	// load env; a missing .env is fine, the process environment still applies
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Error().Err(err).Msg("failed to load env")
		return
	}

	general := &config.GeneralConfig{}
	if err := general.Load(); err != nil {
		log.Error().Err(err).Msg("invalid general config")
		return
	}
	common.InitLogger(general.LogLevel, general.Env)
	common.InitRuntime(general.RuntimeProfile)

	// di container config
	conf := container.NewConf(
		general,
		&config.ChainConfig{},
		&config.RouterConfig{},
		&config.ProviderConfig{},
		&config.CacheConfig{},
	)

	// di container
	dic, err := container.New(
		// config
		conf,

		// services
		// adapters
		&blockchain.ClientService{},
		&blockchain.HeadCacheService{},

		// core
		&aggregator.Service{},

		&http.HTTPService{},
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to create di container")
		return
	}

	// Run waits for SIGINT/SIGTERM
	if err := dic.Run(); err != nil {
		log.Error().Err(err).Msg("failed to run di container")
		return
	}

	// Run doesn't call Stop(), we must do it manually
	log.Info().Msg("Shutting down services...")
	if err := dic.Stop(); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	log.Info().Msg("Shutdown complete")
}
