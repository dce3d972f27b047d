package genai

import (
	"context"
	"fmt"
	"log"
	"time"

	"testforge/internal/config"
	"testforge/internal/shared/budget"
	"testforge/internal/shared/gencache"
)

// Service 统一生成入口
//
// 调用路径：查缓存 → 未命中则调模型 → 预算记账 → 回写缓存。
// 命中缓存的调用不计 token、不触碰预算计数。
type Service struct {
	client   Client
	gate     *budget.Gate
	cache    gencache.Store
	cacheTTL time.Duration

	maxTokensPerCall    int64
	promptCostPer1K     float64
	completionCostPer1K float64

	metrics Metrics // 可为 nil
}

// Metrics 缓存命中指标上报，可选
type Metrics interface {
	RecordCacheLookup(hit bool)
}

// NewService 创建生成服务
func NewService(client Client, gate *budget.Gate, cache gencache.Store, cfg config.GenAIConfig, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = gencache.DefaultTTL
	}
	return &Service{
		client:              client,
		gate:                gate,
		cache:               cache,
		cacheTTL:            cacheTTL,
		maxTokensPerCall:    cfg.MaxTokensPerCall,
		promptCostPer1K:     cfg.PromptCostPer1K,
		completionCostPer1K: cfg.CompletionCostPer1K,
	}
}

// SetMetrics 挂接指标上报
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// Generate 执行一次生成
func (s *Service) Generate(ctx context.Context, req *Request) (*Result, error) {
	key := gencache.Fingerprint(req.AgentKind, req.ContextDigest, req.Prompt)

	// 1. 查缓存
	if entry, err := s.cache.Get(ctx, key); err != nil {
		log.Printf("[genai.generate] kind=%s cache_read_failed err=%v", req.AgentKind, err)
	} else if entry != nil {
		if s.metrics != nil {
			s.metrics.RecordCacheLookup(true)
		}
		log.Printf("[genai.generate] kind=%s cache=hit tokens=0", req.AgentKind)
		return &Result{
			Content:     entry.Content,
			ContentType: entry.ContentType,
			Model:       entry.Model,
			Cached:      true,
		}, nil
	}

	// 2. 单次调用档位检查：提示词本身超限直接拒绝，不调模型
	if s.maxTokensPerCall > 0 {
		estimated := int64(len(req.System)+len(req.Prompt)) / 4
		if estimated > s.maxTokensPerCall {
			return nil, fmt.Errorf("prompt estimated %d tokens exceeds %d: %w",
				estimated, s.maxTokensPerCall, budget.ErrTierLimitExceeded)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordCacheLookup(false)
	}

	// 3. 调模型
	completion, err := s.client.Complete(ctx, req.System, req.Prompt)
	if err != nil {
		return nil, err
	}

	tokens := completion.TotalTokens()
	cost := s.cost(completion)

	// 4. 预算记账；记账失败只告警，产出仍然有效
	if _, err := s.gate.Consume(ctx, req.TenantID, tokens); err != nil {
		log.Printf("[genai.generate] tenant=%s consume_failed tokens=%d err=%v", req.TenantID, tokens, err)
	}

	// 5. 回写缓存（写一次，key 不覆盖语义由内容寻址保证）
	entry := &gencache.Entry{
		Content:     completion.Content,
		ContentType: "text/markdown",
		Model:       completion.Model,
		Tokens:      tokens,
		CreatedAt:   time.Now(),
	}
	if err := s.cache.Set(ctx, key, entry, s.cacheTTL); err != nil {
		log.Printf("[genai.generate] kind=%s cache_write_failed err=%v", req.AgentKind, err)
	}

	log.Printf("[genai.generate] kind=%s cache=miss tokens=%d cost=%.6f", req.AgentKind, tokens, cost)
	return &Result{
		Content:     completion.Content,
		ContentType: "text/markdown",
		Model:       completion.Model,
		TokensUsed:  tokens,
		CostUSD:     cost,
	}, nil
}

func (s *Service) cost(c *Completion) float64 {
	return float64(c.PromptTokens)/1000*s.promptCostPer1K +
		float64(c.CompletionTokens)/1000*s.completionCostPer1K
}
