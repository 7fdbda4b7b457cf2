package engine

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"tradeengine/src/cache"
)

type Config struct {
	// OpsServer co-hosts the HTTP ops API inside the engine process. Turn
	// it off when a dedicated server deployment fronts the same database.
	OpsServer bool `envconfig:"ENGINE_OPS_SERVER" default:"true"`

	// CacheBackend is "memory" or "redis". A single engine process runs
	// fine on memory; replicas need redis so dedup keys and drawdown peaks
	// are shared.
	CacheBackend    string `envconfig:"CACHE_BACKEND" default:"memory"`
	CacheMaxEntries int    `envconfig:"CACHE_MAX_ENTRIES" default:"8192"`
	CacheKeyPrefix  string `envconfig:"CACHE_KEY_PREFIX" default:"tradeengine"`
	RedisAddr       string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword   string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB         int    `envconfig:"REDIS_DB" default:"0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// CacheConfig builds the store config for one named cache.
func (c Config) CacheConfig(name string, ttl time.Duration) cache.Config {
	return cache.Config{
		Backend:       c.CacheBackend,
		DefaultTTL:    ttl,
		MaxEntries:    c.CacheMaxEntries,
		KeyPrefix:     c.CacheKeyPrefix + ":" + name,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
	}
}
