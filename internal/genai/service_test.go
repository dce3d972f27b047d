package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testforge/internal/config"
	"testforge/internal/shared/budget"
	"testforge/internal/shared/gencache"
)

// mockClient 测试用模型客户端
type mockClient struct {
	calls      int
	completion *Completion
	err        error
}

func (m *mockClient) Complete(ctx context.Context, system, prompt string) (*Completion, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.completion, nil
}

func newTestService(client Client) (*Service, *budget.Gate, *budget.MemoryCounter) {
	counters := budget.NewMemoryCounter()
	gate := budget.NewGate(counters)
	cfg := config.GenAIConfig{
		MaxTokensPerCall:    1000,
		PromptCostPer1K:     0.001,
		CompletionCostPer1K: 0.002,
	}
	return NewService(client, gate, gencache.NewMemoryStore(), cfg, 0), gate, counters
}

func TestGenerateMissCallsModelAndConsumes(t *testing.T) {
	client := &mockClient{completion: &Completion{
		Content: "# 产出", Model: "gpt-4o-mini", PromptTokens: 300, CompletionTokens: 200,
	}}
	svc, gate, _ := newTestService(client)
	ctx := context.Background()

	result, err := svc.Generate(ctx, &Request{
		TenantID: "user-a", AgentKind: "checklist",
		System: "s", Prompt: "p", ContextDigest: "digest-1",
	})
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, int64(500), result.TokensUsed)
	assert.InDelta(t, 0.0007, result.CostUSD, 1e-9)
	assert.Equal(t, 1, client.calls)

	// 预算已记账 500
	check, err := gate.Check(ctx, "user-a", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(500), check.Used)
}

func TestGenerateSecondCallHitsCache(t *testing.T) {
	client := &mockClient{completion: &Completion{
		Content: "# 产出", Model: "gpt-4o-mini", PromptTokens: 300, CompletionTokens: 200,
	}}
	svc, gate, _ := newTestService(client)
	ctx := context.Background()

	req := &Request{
		TenantID: "user-a", AgentKind: "checklist",
		System: "s", Prompt: "p", ContextDigest: "digest-1",
	}
	_, err := svc.Generate(ctx, req)
	require.NoError(t, err)

	result, err := svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.Equal(t, int64(0), result.TokensUsed)
	assert.Equal(t, float64(0), result.CostUSD)
	assert.Equal(t, "# 产出", result.Content)
	// 模型只被调用一次，缓存命中不再记账
	assert.Equal(t, 1, client.calls)
	check, err := gate.Check(ctx, "user-a", 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(500), check.Used)
}

func TestGenerateDifferentDigestMisses(t *testing.T) {
	client := &mockClient{completion: &Completion{
		Content: "x", Model: "m", PromptTokens: 10, CompletionTokens: 10,
	}}
	svc, _, _ := newTestService(client)
	ctx := context.Background()

	_, err := svc.Generate(ctx, &Request{TenantID: "u", AgentKind: "checklist", Prompt: "p", ContextDigest: "d1"})
	require.NoError(t, err)
	_, err = svc.Generate(ctx, &Request{TenantID: "u", AgentKind: "checklist", Prompt: "p", ContextDigest: "d2"})
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
}

func TestGenerateTierLimitRejectsBeforeCall(t *testing.T) {
	client := &mockClient{completion: &Completion{Content: "x"}}
	svc, _, _ := newTestService(client)

	longPrompt := make([]byte, 5000*4)
	_, err := svc.Generate(context.Background(), &Request{
		TenantID: "u", AgentKind: "checklist", Prompt: string(longPrompt),
	})
	require.ErrorIs(t, err, budget.ErrTierLimitExceeded)
	assert.Equal(t, 0, client.calls)
}

func TestGenerateModelErrorPropagates(t *testing.T) {
	client := &mockClient{err: errors.New("provider timeout")}
	svc, gate, _ := newTestService(client)
	ctx := context.Background()

	_, err := svc.Generate(ctx, &Request{TenantID: "u", AgentKind: "checklist", Prompt: "p"})
	require.Error(t, err)
	// 失败调用不记账
	check, err := gate.Check(ctx, "u", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), check.Used)
}
