package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felipepmaragno/llm-router/internal/crypto"
	"github.com/felipepmaragno/llm-router/internal/domain"
)

// RedisCache is the remote cache sink. Payloads are the tagged response
// envelope, optionally sealed with the cache key as associated data.
type RedisCache struct {
	client    *redis.Client
	encryptor *crypto.Encryptor
	logger    *slog.Logger
}

func NewRedisCache(redisURL string, encryptor *crypto.Encryptor, logger *slog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return newRedisCache(client, encryptor, logger), nil
}

func newRedisCache(client *redis.Client, encryptor *crypto.Encryptor, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, encryptor: encryptor, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) (domain.Response, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("remote cache get failed", "error", err)
		}
		return nil, false
	}

	if c.encryptor != nil {
		data, err = c.encryptor.Open(data, []byte(key))
		if err != nil {
			c.logger.Warn("remote cache entry could not be opened", "error", err)
			return nil, false
		}
	}

	resp, err := domain.UnmarshalResponse(data)
	if err != nil {
		c.logger.Warn("remote cache entry could not be decoded", "error", err)
		return nil, false
	}
	return resp, true
}

func (c *RedisCache) Set(ctx context.Context, key string, resp domain.Response, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	data, err := domain.MarshalResponse(resp)
	if err != nil {
		return err
	}

	if c.encryptor != nil {
		data, err = c.encryptor.Seal(data, []byte(key))
		if err != nil {
			return err
		}
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) PingContext(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
