package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateCheckAllowsUnderLimit(t *testing.T) {
	g := NewGate(NewMemoryCounter())
	ctx := context.Background()

	result, err := g.Check(ctx, "user-a", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Used)
	assert.Equal(t, int64(1000), result.Remaining)
	assert.False(t, result.Warning)
}

func TestGateCheckZeroLimitRejects(t *testing.T) {
	g := NewGate(NewMemoryCounter())

	_, err := g.Check(context.Background(), "user-a", 0)
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestGateWarningAt80Percent(t *testing.T) {
	g := NewGate(NewMemoryCounter())
	ctx := context.Background()

	_, err := g.Consume(ctx, "user-a", 800)
	require.NoError(t, err)

	result, err := g.Check(ctx, "user-a", 1000)
	require.NoError(t, err)
	assert.True(t, result.Warning)
	assert.Equal(t, int64(200), result.Remaining)
}

func TestGateExhaustedRejects(t *testing.T) {
	g := NewGate(NewMemoryCounter())
	ctx := context.Background()

	_, err := g.Consume(ctx, "user-a", 1000)
	require.NoError(t, err)

	result, err := g.Check(ctx, "user-a", 1000)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	require.NotNil(t, result)
	assert.Equal(t, int64(0), result.Remaining)
}

func TestGateLastCallMayOvershoot(t *testing.T) {
	g := NewGate(NewMemoryCounter())
	ctx := context.Background()

	// 余额 100，但单次消费 5000 仍被记账
	_, err := g.Consume(ctx, "user-a", 900)
	require.NoError(t, err)
	_, err = g.Check(ctx, "user-a", 1000)
	require.NoError(t, err)

	total, err := g.Consume(ctx, "user-a", 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(5900), total)

	// 下一次检查拒绝
	_, err = g.Check(ctx, "user-a", 1000)
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestGateConsumeIgnoresNonPositive(t *testing.T) {
	g := NewGate(NewMemoryCounter())

	total, err := g.Consume(context.Background(), "user-a", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestGateMonthlyRollover(t *testing.T) {
	counters := NewMemoryCounter()
	g := NewGate(counters)
	ctx := context.Background()

	jan := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	g.now = func() time.Time { return jan }
	_, err := g.Consume(ctx, "user-a", 1000)
	require.NoError(t, err)
	_, err = g.Check(ctx, "user-a", 1000)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	// 跨月后计数从零开始
	g.now = func() time.Time { return feb }
	result, err := g.Check(ctx, "user-a", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Used)
}

func TestGateTenantsIsolated(t *testing.T) {
	g := NewGate(NewMemoryCounter())
	ctx := context.Background()

	_, err := g.Consume(ctx, "user-a", 1000)
	require.NoError(t, err)

	result, err := g.Check(ctx, "user-b", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Used)
}

func TestMonthKeyFormat(t *testing.T) {
	at := time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "budget:user-x:2026-08", MonthKey("user-x", at))
}
