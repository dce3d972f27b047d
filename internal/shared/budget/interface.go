// Package budget 租户月度 token 预算管控
//
// 预算计数与上限分离：上限来自用户表（monthly_token_limit），
// 当月累计用量存放在计数器后端（生产为 Redis，测试为内存）。
// 计数 key 按自然月滚动，无需定时任务清零。
package budget

import (
	"context"
	"errors"
	"time"
)

// ============================================================
// 错误定义
// ============================================================

var (
	// ErrBudgetExceeded 月度预算已耗尽
	ErrBudgetExceeded = errors.New("monthly token budget exceeded")
	// ErrTierLimitExceeded 单次调用超过档位上限
	ErrTierLimitExceeded = errors.New("per-call token limit exceeded for tier")
)

// ============================================================
// 计数器后端
// ============================================================

// CounterStore 预算计数器后端
type CounterStore interface {
	// Get 读取当前计数，key 不存在时返回 0
	Get(ctx context.Context, key string) (int64, error)
	// IncrBy 原子累加并返回累加后的值；首次写入时设置过期时间
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// ============================================================
// 检查结果
// ============================================================

// CheckResult 预算检查结果
type CheckResult struct {
	Used      int64   `json:"used"`       // 当月已用 token
	Limit     int64   `json:"limit"`      // 月度上限
	Remaining int64   `json:"remaining"`  // 剩余额度
	UsedRatio float64 `json:"used_ratio"` // 已用比例 0-1
	Warning   bool    `json:"warning"`    // 已用超过 80%
}

// MonthKey 生成按自然月滚动的预算 key，如 budget:user-abc:2026-08
func MonthKey(tenantID string, now time.Time) string {
	return "budget:" + tenantID + ":" + now.UTC().Format("2006-01")
}
