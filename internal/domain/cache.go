package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching finalized runs so repeated
// findings fetches skip the repository. All methods require tenantID for
// strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a raw value. Returns nil, nil if the key is absent.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a raw value with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetRun retrieves a cached run with its findings.
	GetRun(ctx context.Context, tenantID string, runID string) (*Run, error)

	// SetRun caches a finalized run.
	SetRun(ctx context.Context, tenantID string, run *Run, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" koanf:"type"`

	// Local LRU settings (Community tier)
	LocalMaxSize int           `json:"localMaxSize" koanf:"local_max_size"`
	LocalTTL     time.Duration `json:"localTtl" koanf:"local_ttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr" koanf:"redis_addr"`
	RedisPassword string `json:"redisPassword" koanf:"redis_password"`
	RedisDB       int    `json:"redisDb" koanf:"redis_db"`
}
