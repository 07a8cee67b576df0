// Package cache stores explanations keyed by the exact block they explain,
// so a repeated block costs no provider call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fabfab/codexplain/config"
)

// ErrCacheMiss is returned when an entry is not found or has expired.
var ErrCacheMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Key derives the cache key for an explanation request. The model, system
// prompt and temperature take part so a configuration change never serves
// stale text.
func Key(model, system string, temperature float32, block string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%.3f\x00", model, system, temperature)
	_, _ = io.WriteString(h, block)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// New builds the cache selected by cfg.Cache.Backend. It returns nil for
// the "none" backend.
func New(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second

	switch cfg.Backend {
	case config.CacheNone, "":
		return nil, nil
	case config.CacheMemory:
		return NewMemory(cfg.MaxEntries, ttl), nil
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		return NewRedis(client, ttl), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}
