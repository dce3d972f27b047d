// Package agent 步骤执行器
//
// 每种 Agent 一个执行器：固定系统指令 + 装配上下文渲染成一次生成请求。
// 执行器无副作用，不触碰存储与事件中继，持久化与通知全部由编排器完成。
// 新增 Agent 种类只需注册新的执行器，不动编排逻辑。
package agent

import (
	"context"
	"fmt"

	"testforge/internal/assembler"
	"testforge/internal/genai"
	"testforge/internal/shared/model"
)

// Output 一次执行的产出
type Output struct {
	Content      string
	ContentType  string
	Title        string
	ArtifactKind model.ArtifactKind
	TokensUsed   int64
	CostUSD      float64
	Cached       bool
}

// Executor 步骤执行器
type Executor interface {
	Kind() model.AgentKind
	// Execute 生成产物；contextDigest 用于缓存内容寻址
	Execute(ctx context.Context, tenantID string, asm *assembler.Context) (*Output, error)
}

// ============================================================
// 通用执行器
// ============================================================

// spec 一种 Agent 的固定参数
type spec struct {
	kind         model.AgentKind
	artifactKind model.ArtifactKind
	title        string
	system       string
	task         string // 提示词中的任务描述段
}

// executor 所有 Agent 共用的执行器实现，差异全部在 spec 中
type executor struct {
	spec  spec
	genai *genai.Service
}

func (e *executor) Kind() model.AgentKind {
	return e.spec.kind
}

func (e *executor) Execute(ctx context.Context, tenantID string, asm *assembler.Context) (*Output, error) {
	prompt := e.spec.task + "\n\n# 项目资料\n\n" + asm.Render()

	result, err := e.genai.Generate(ctx, &genai.Request{
		TenantID:      tenantID,
		AgentKind:     string(e.spec.kind),
		System:        e.spec.system,
		Prompt:        prompt,
		ContextDigest: asm.Digest(),
	})
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", e.spec.kind, err)
	}

	contentType := result.ContentType
	if contentType == "" {
		contentType = "text/markdown"
	}
	return &Output{
		Content:      result.Content,
		ContentType:  contentType,
		Title:        e.spec.title,
		ArtifactKind: e.spec.artifactKind,
		TokensUsed:   result.TokensUsed,
		CostUSD:      result.CostUSD,
		Cached:       result.Cached,
	}, nil
}
