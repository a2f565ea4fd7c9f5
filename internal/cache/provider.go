package cache

// Package cache provides the dedup store for inbound gateway notifications.
// It is an optimization in front of the database transition guard, never the
// mechanism that makes transitions idempotent.

import (
	"context"
	"fmt"
	"time"
)

type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Provider              string
	RedisConnectionString string
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider()
	case "redis":
		return NewRedisProvider(cfg.RedisConnectionString)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}

// NotificationKey identifies one inbound gateway notification for dedup.
func NotificationKey(gateway, token string) string {
	return fmt.Sprintf("webhook:%s:%s", gateway, token)
}
