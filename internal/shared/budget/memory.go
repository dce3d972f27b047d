package budget

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter 内存计数器，用于单机部署与测试
type MemoryCounter struct {
	mu       sync.Mutex
	counts   map[string]int64
	deadline map[string]time.Time
}

// NewMemoryCounter 创建内存计数器
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts:   make(map[string]int64),
		deadline: make(map[string]time.Time),
	}
}

// Get 读取当前计数
func (m *MemoryCounter) Get(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	return m.counts[key], nil
}

// IncrBy 原子累加
func (m *MemoryCounter) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	if _, ok := m.counts[key]; !ok {
		m.deadline[key] = time.Now().Add(ttl)
	}
	m.counts[key] += delta
	return m.counts[key], nil
}

func (m *MemoryCounter) expireLocked(key string) {
	if d, ok := m.deadline[key]; ok && time.Now().After(d) {
		delete(m.counts, key)
		delete(m.deadline, key)
	}
}
