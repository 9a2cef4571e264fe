package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionCache replays checkout responses for repeated idempotency keys so a
// double-submitted purchase returns the same hosted checkout URL instead of
// opening a second session.
type SessionCache struct {
	client    redis.UniversalClient
	namespace string
	log       *slog.Logger
}

func NewSessionCache(client redis.UniversalClient, namespace string, log *slog.Logger) *SessionCache {
	return &SessionCache{
		client:    client,
		namespace: namespace,
		log:       log,
	}
}

func (c *SessionCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session cache get: %w", err)
	}
	return val, true, nil
}

// Set uses SET NX so the first writer wins in a race between two concurrent
// identical requests.
func (c *SessionCache) Set(ctx context.Context, key string, result string, ttl time.Duration) error {
	if err := c.client.SetNX(ctx, c.key(key), result, ttl).Err(); err != nil {
		return fmt.Errorf("session cache set: %w", err)
	}
	return nil
}

func (c *SessionCache) key(key string) string {
	return c.namespace + ":checkout:" + key
}

type Config struct {
	Addr     string
	Password string
	// Redis logical database number
	DB int
}

func NewClient(cfg Config) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

func Ping(ctx context.Context, client redis.UniversalClient) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
