package cache

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend selects the cache implementation.
type Backend string

const (
	BackendNone  Backend = "none"
	BackendLRU   Backend = "lru"
	BackendRedis Backend = "redis"
)

// CacheConfig holds configuration for the availability snapshot cache.
type CacheConfig struct {
	// Backend selects the implementation. BackendNone disables caching:
	// every snapshot is computed from the database.
	Backend Backend

	// TTL bounds how stale a dashboard snapshot may get when an
	// invalidation is missed.
	TTL time.Duration

	// MaxSize is the maximum number of entries of the lru backend.
	MaxSize int

	// RedisAddr, RedisPassword and RedisDB configure the redis backend.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KeyPrefix namespaces keys on a shared redis.
	KeyPrefix string
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Backend:   BackendLRU,
		TTL:       30 * time.Second,
		MaxSize:   1000,
		RedisAddr: "localhost:6379",
		KeyPrefix: "ledger:",
	}
}

// ConfigFromEnv reads cache configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - LEDGER_CACHE_BACKEND: none, lru or redis (default: lru)
//   - LEDGER_CACHE_TTL: duration in seconds (default: 30)
//   - LEDGER_CACHE_MAX_SIZE: max entries of the lru backend (default: 1000)
//   - LEDGER_CACHE_REDIS_ADDR, LEDGER_CACHE_REDIS_PASSWORD, LEDGER_CACHE_REDIS_DB
func ConfigFromEnv() *CacheConfig {
	cfg := DefaultCacheConfig()

	if v := os.Getenv("LEDGER_CACHE_BACKEND"); v != "" {
		switch b := Backend(strings.ToLower(v)); b {
		case BackendNone, BackendLRU, BackendRedis:
			cfg.Backend = b
		}
	}

	if v := os.Getenv("LEDGER_CACHE_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.TTL = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("LEDGER_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}

	if v := os.Getenv("LEDGER_CACHE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	cfg.RedisPassword = os.Getenv("LEDGER_CACHE_REDIS_PASSWORD")
	if v := os.Getenv("LEDGER_CACHE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RedisDB = n
		}
	}

	return cfg
}
