package config

import (
	"errors"

	"github.com/hxuan190/evm-route-engine/internal/common"
)

type ServerEnv = string

var (
	DevEnv     ServerEnv = "dev"
	StagingEnv ServerEnv = "staging"
	ProdEnv    ServerEnv = "prod"
)

const (
	GENERAL_CONFIG_KEY  = "general-config"
	CHAIN_CONFIG_KEY    = "chain-config"
	ROUTER_CONFIG_KEY   = "router-config"
	PROVIDER_CONFIG_KEY = "provider-config"
	CACHE_CONFIG_KEY    = "cache-config"
)

type GeneralConfig struct {
	HTTPPort       string
	HTTPHost       string
	Env            string
	LogLevel       string
	RuntimeProfile string
	RateLimitRPS   float64
	RateLimitBurst int
}

func (gc *GeneralConfig) Key() string {
	return GENERAL_CONFIG_KEY
}

func (gc *GeneralConfig) Load() error {
	gc.HTTPPort = common.GetEnvOrDefault("HTTP_PORT", "8080")
	gc.HTTPHost = common.GetEnvOrDefault("HTTP_HOST", "localhost")
	gc.Env = common.GetEnvOrDefault("ENV", DevEnv)
	gc.LogLevel = common.GetEnvOrDefault("LOG_LEVEL", "INFO")
	gc.RuntimeProfile = common.GetEnvOrDefault("RUNTIME_PROFILE", "auto")
	gc.RateLimitRPS = common.GetEnvOrDefaultFloat("HTTP_RATE_LIMIT_RPS", 10)
	gc.RateLimitBurst = common.GetEnvOrDefaultInt("HTTP_RATE_LIMIT_BURST", 20)
	return gc.Validate()
}

func (gc *GeneralConfig) Validate() error {
	if gc.HTTPPort == "" || gc.HTTPHost == "" || gc.Env == "" {
		return errors.New("invalid server config")
	}
	if gc.RateLimitRPS <= 0 || gc.RateLimitBurst <= 0 {
		return errors.New("invalid http rate limit config")
	}
	return nil
}
