// Package cache stores availability snapshots shown on dashboards. Nothing
// read from it ever gates a write; gating reads go to the database inside
// the writing transaction.
package cache

import (
	"context"
	"fmt"
)

// Store is a byte cache with per-entry expiry.
type Store interface {
	// Get returns the cached value of key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}

// New builds the Store selected by cfg. A nil cfg or BackendNone yields a
// NopStore.
func New(cfg *CacheConfig) (Store, error) {
	if cfg == nil {
		return NopStore{}, nil
	}
	switch cfg.Backend {
	case BackendNone, "":
		return NopStore{}, nil
	case BackendLRU:
		return NewLRUCache(cfg.MaxSize, cfg.TTL), nil
	case BackendRedis:
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, WithTTL(cfg.TTL), WithPrefix(cfg.KeyPrefix)), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// NopStore never holds anything.
type NopStore struct{}

func (NopStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (NopStore) Set(context.Context, string, []byte) error         { return nil }
func (NopStore) Delete(context.Context, ...string) error           { return nil }
