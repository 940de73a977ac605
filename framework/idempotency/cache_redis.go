package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCacheConfig конфигурация кэша
type RedisCacheConfig struct {
	Prefix string
	TTL    time.Duration
}

// DefaultRedisCacheConfig возвращает конфигурацию по умолчанию
func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{
		Prefix: "ordering:idempotency",
		TTL:    24 * time.Hour,
	}
}

// RedisCache кэш завершенных записей в Redis.
// Источником истины остается Store, кэш только сокращает чтения.
type RedisCache struct {
	client redis.UniversalClient
	config RedisCacheConfig
}

// NewRedisCache создает новый кэш
func NewRedisCache(client redis.UniversalClient, config RedisCacheConfig) *RedisCache {
	return &RedisCache{client: client, config: config}
}

func (c *RedisCache) key(requestID string) string {
	return c.config.Prefix + ":" + requestID
}

// Get возвращает запись из кэша
func (c *RedisCache) Get(ctx context.Context, requestID string) (*Record, bool, error) {
	data, err := c.client.Get(ctx, c.key(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read idempotency cache: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached record: %w", err)
	}
	return &rec, true, nil
}

// Set кладет завершенную запись в кэш
func (c *RedisCache) Set(ctx context.Context, record *Record) error {
	if !record.Completed() {
		return nil
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := c.client.Set(ctx, c.key(record.RequestID), data, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to write idempotency cache: %w", err)
	}
	return nil
}

// HealthCheck проверяет доступность Redis
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
