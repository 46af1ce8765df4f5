package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wagerline/wagerline-core/internal/infrastructure/config"
)

var (
	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("ephemeral: store unavailable")

	// ErrInvalidTTL is returned by Put for a non-positive ttl.
	ErrInvalidTTL = errors.New("ephemeral: ttl must be positive")
)

// Store holds values for a bounded time. Take returns a value at most once.
type Store interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Take(ctx context.Context, key string) (string, bool, error)
	Close() error
}

// New builds the store selected by cfg. For the memory backend the caller
// should run MemoryStore.Run to evict expired entries.
func New(cfg config.EphemeralConfig, rcfg config.RedisConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     rcfg.Addr,
			Password: rcfg.Password,
			DB:       rcfg.DB,
		})
		return NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("ephemeral: unknown backend %q", cfg.Backend)
	}
}
