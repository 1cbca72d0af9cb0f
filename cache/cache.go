// Package cache provides the warmup cache that catalog jobs populate ahead
// of demand. Two backends exist: an in-process TTL map for single-node
// deployments and tests, and Redis for deployments that share the cache
// across web processes.
package cache

import (
	"context"
	"time"

	"github.com/curioshelf/curio/config"
	"github.com/curioshelf/curio/errors"
)

// Cache stores values under string keys with per-entry TTLs.
type Cache interface {
	// Get returns the value for key. The bool reports whether the key was
	// present and unexpired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key. A non-positive ttl falls back to the
	// backend's default TTL.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// New builds the cache backend selected by configuration.
func New(cfg config.CacheConfig) (Cache, error) {
	defaultTTL := time.Duration(cfg.DefaultTTLSeconds) * time.Second

	switch cfg.Backend {
	case "", "memory":
		return NewMemoryCache(defaultTTL), nil
	case "redis":
		return NewRedisCache(cfg.RedisURL, defaultTTL)
	default:
		return nil, errors.Newf("unknown cache backend: %q", cfg.Backend)
	}
}
