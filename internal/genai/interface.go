// Package genai 生成模型调用
//
// Service 是唯一的生成入口：缓存命中直接复用历史产出（零 token），
// 未命中才调用模型、记账预算并回写缓存。执行器对缓存无感知。
package genai

import (
	"context"
)

// ============================================================
// 底层模型客户端
// ============================================================

// Completion 一次模型调用的原始结果
type Completion struct {
	Content          string // 生成正文
	Model            string // 实际使用的模型
	PromptTokens     int64
	CompletionTokens int64
}

// TotalTokens 本次调用消耗的 token 总量
func (c *Completion) TotalTokens() int64 {
	return c.PromptTokens + c.CompletionTokens
}

// Client 模型客户端
type Client interface {
	Complete(ctx context.Context, system, prompt string) (*Completion, error)
}

// ============================================================
// 生成请求与结果
// ============================================================

// Request 一次生成请求
type Request struct {
	TenantID      string // 记账主体
	AgentKind     string // 缓存 key 的组成部分
	System        string // 固定系统指令
	Prompt        string // 渲染后的用户提示词
	ContextDigest string // 上下文摘要，为空时退化为对 Prompt 取哈希
}

// Result 生成结果
type Result struct {
	Content     string  `json:"content"`
	ContentType string  `json:"content_type"`
	Model       string  `json:"model"`
	TokensUsed  int64   `json:"tokens_used"` // 命中缓存时为 0
	CostUSD     float64 `json:"cost_usd"`    // 命中缓存时为 0
	Cached      bool    `json:"cached"`
}
