// Package relay 进程内进度事件中继
//
// 编排器与客户端流之间的单向桥：编排器 Publish，流端点 Subscribe。
// 无订阅者时 Publish 静默丢弃；队列写满时丢弃新事件而非阻塞编排器。
// 每个 Run 假定最多一个活跃订阅者，中继不感知租户与权限。
package relay

import (
	"log"
	"sync"
	"time"
)

// DefaultCapacity 每个 Run 的待消费事件上限
const DefaultCapacity = 1000

// ============================================================
// 事件定义
// ============================================================

// EventType 事件类型
type EventType string

const (
	EventRunning   EventType = "running"   // 步骤开始执行
	EventComplete  EventType = "complete"  // 步骤完成或 Run 终结
	EventError     EventType = "error"     // 步骤失败
	EventHeartbeat EventType = "heartbeat" // 流端点保活，编排器不发布
)

// Event 一条进度事件
type Event struct {
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// ============================================================
// 中继
// ============================================================

// Relay 进程内事件中继
type Relay struct {
	mu       sync.RWMutex
	queues   map[string]chan Event
	capacity int
}

// New 创建中继
func New() *Relay {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity 创建指定队列容量的中继
func NewWithCapacity(capacity int) *Relay {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Relay{
		queues:   make(map[string]chan Event),
		capacity: capacity,
	}
}

// Publish 发布事件，fire-and-forget
//
// 无订阅者时不做任何事；队列已满时丢弃本条事件并记录日志。
func (r *Relay) Publish(runID string, eventType EventType, payload map[string]interface{}) {
	// 发送必须持有读锁：Unsubscribe 在写锁下 close 队列，
	// 锁外发送可能撞上已关闭的 channel 导致 panic。
	r.mu.RLock()
	defer r.mu.RUnlock()
	queue, ok := r.queues[runID]
	if !ok {
		return
	}

	event := Event{
		Type:      eventType,
		RunID:     runID,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	select {
	case queue <- event:
	default:
		log.Printf("[relay.publish] run=%s type=%s dropped=queue_full", runID, eventType)
	}
}

// Subscribe 订阅某个 Run 的事件流
//
// 首次订阅创建队列；重复订阅返回同一队列（单订阅者假定）。
func (r *Relay) Subscribe(runID string) <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if queue, ok := r.queues[runID]; ok {
		return queue
	}
	queue := make(chan Event, r.capacity)
	r.queues[runID] = queue
	return queue
}

// Unsubscribe 取消订阅并丢弃队列
func (r *Relay) Unsubscribe(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if queue, ok := r.queues[runID]; ok {
		delete(r.queues, runID)
		close(queue)
	}
}

// SubscriberCount 当前活跃订阅数，用于指标上报
func (r *Relay) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queues)
}
