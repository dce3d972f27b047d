// Package redis 基于 Redis 的生成缓存后端
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"testforge/internal/shared/gencache"
)

// Store Redis 缓存
type Store struct {
	client *goredis.Client
}

// NewStore 创建 Redis 缓存
func NewStore(client *goredis.Client) *Store {
	return &Store{client: client}
}

// Get 查询缓存
func (s *Store) Get(ctx context.Context, key string) (*gencache.Entry, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var entry gencache.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// 损坏的条目当作未命中处理
		return nil, nil
	}
	return &entry, nil
}

// Set 写入缓存
func (s *Store) Set(ctx context.Context, key string, entry *gencache.Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
