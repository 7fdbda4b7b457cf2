package cache

import (
	"fmt"

	logger "github.com/sirupsen/logrus"
)

// New builds a TTLStore for the configured backend. Unknown or empty
// backends fall back to the in-memory store so the engine runs without any
// external service.
func New(cfg Config) (TTLStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.MaxEntries, cfg.DefaultTTL), nil
	case "redis":
		store, err := NewRedisStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("cache backend redis: %w", err)
		}
		logger.WithField("addr", cfg.RedisAddr).Info("[cache] using redis backend")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
