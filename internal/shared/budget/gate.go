package budget

import (
	"context"
	"fmt"
	"log"
	"time"
)

// warnThreshold 触发预警的已用比例
const warnThreshold = 0.8

// counterTTL 计数 key 的过期时间，覆盖一个自然月后自动回收
const counterTTL = 35 * 24 * time.Hour

// Gate 预算闸门
type Gate struct {
	counters CounterStore
	now      func() time.Time
}

// NewGate 创建预算闸门
func NewGate(counters CounterStore) *Gate {
	return &Gate{counters: counters, now: time.Now}
}

// Check 检查租户是否还有预算
//
// limit <= 0 表示该租户未分配预算，直接拒绝。
// 已用量达到上限时返回 ErrBudgetExceeded。
func (g *Gate) Check(ctx context.Context, tenantID string, limit int64) (*CheckResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrBudgetExceeded)
	}

	used, err := g.counters.Get(ctx, MonthKey(tenantID, g.now()))
	if err != nil {
		return nil, fmt.Errorf("read budget counter: %w", err)
	}

	result := &CheckResult{
		Used:      used,
		Limit:     limit,
		Remaining: limit - used,
		UsedRatio: float64(used) / float64(limit),
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	if result.UsedRatio >= warnThreshold {
		result.Warning = true
	}

	if used >= limit {
		return result, fmt.Errorf("tenant %s used %d of %d: %w", tenantID, used, limit, ErrBudgetExceeded)
	}
	if result.Warning {
		log.Printf("[budget.check] tenant=%s used=%d limit=%d ratio=%.2f warning=true",
			tenantID, used, limit, result.UsedRatio)
	}
	return result, nil
}

// Consume 记账：将本次调用消耗的 token 原子累加到当月计数
//
// 允许最后一次调用越过上限（先检查后消费，中间不加锁），
// 超出部分体现在下一次 Check 的拒绝中。
func (g *Gate) Consume(ctx context.Context, tenantID string, tokens int64) (int64, error) {
	if tokens <= 0 {
		return 0, nil
	}
	total, err := g.counters.IncrBy(ctx, MonthKey(tenantID, g.now()), tokens, counterTTL)
	if err != nil {
		return 0, fmt.Errorf("consume budget: %w", err)
	}
	return total, nil
}
