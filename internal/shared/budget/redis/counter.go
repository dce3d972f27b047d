// Package redis 基于 Redis 的预算计数器
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Counter Redis 预算计数器
type Counter struct {
	client *goredis.Client
}

// NewCounter 创建 Redis 计数器
func NewCounter(client *goredis.Client) *Counter {
	return &Counter{client: client}
}

// Get 读取当前计数
func (c *Counter) Get(ctx context.Context, key string) (int64, error) {
	val, err := c.client.Get(ctx, key).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// IncrBy 原子累加，首次写入时设置过期时间
func (c *Counter) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	total, err := c.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incrby %s: %w", key, err)
	}
	// INCRBY 创建的 key 无 TTL，仅在此时补设，避免覆盖已有过期时间
	if total == delta {
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			return total, fmt.Errorf("redis expire %s: %w", key, err)
		}
	}
	return total, nil
}
