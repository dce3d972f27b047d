package gencache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	entry    *Entry
	deadline time.Time
}

// MemoryStore 内存缓存，用于单机部署与测试
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

// NewMemoryStore 创建内存缓存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem)}
}

// Get 查询缓存
func (m *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	if !ok || time.Now().After(item.deadline) {
		return nil, nil
	}
	return item.entry, nil
}

// Set 写入缓存
func (m *MemoryStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	m.mu.Lock()
	m.items[key] = memoryItem{entry: entry, deadline: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}
