package config

import (
	"errors"
	"time"

	"github.com/hxuan190/evm-route-engine/internal/common"
)

type CacheConfig struct {
	PoolSnapshotTTL time.Duration

	// Redis is optional; an empty RedisAddr keeps snapshots in-process only.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

func (c *CacheConfig) Key() string {
	return CACHE_CONFIG_KEY
}

func (c *CacheConfig) Load() error {
	c.PoolSnapshotTTL = common.GetEnvOrDefaultDuration("POOL_SNAPSHOT_TTL", 12*time.Second)
	c.RedisAddr = common.GetEnvOrDefault("REDIS_ADDR", "")
	c.RedisPassword = common.GetEnvOrDefault("REDIS_PASSWORD", "")
	c.RedisDB = common.GetEnvOrDefaultInt("REDIS_DB", 0)
	c.RedisPrefix = common.GetEnvOrDefault("REDIS_PREFIX", "route-engine")
	return c.Validate()
}

func (c *CacheConfig) Validate() error {
	if c.PoolSnapshotTTL <= 0 {
		return errors.New("invalid cache config: snapshot ttl must be positive")
	}
	return nil
}

func (c *CacheConfig) RedisEnabled() bool {
	return c.RedisAddr != ""
}
