// Package orchestrator 流水线编排器
//
// 每次 Run 在独立 goroutine 中执行，生命周期长于发起它的请求。
// 状态流转：装配上下文一次 → 按选定顺序逐步执行 → 每步先过预算闸门、
// 再带重试调用执行器 → 成功落产物、失败终结整个 Run。
// 所有状态变更先持久化再经事件中继广播，中继无人订阅时静默丢弃。
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"testforge/internal/agent"
	"testforge/internal/assembler"
	"testforge/internal/shared/budget"
	"testforge/internal/shared/model"
	"testforge/internal/shared/relay"
	"testforge/internal/shared/storage"
)

// defaultBackoffs 重试间隔，长度即最大重试次数
var defaultBackoffs = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}

// Store 编排器需要的存储接口（用于测试 mock）
type Store interface {
	storage.RunStore
	storage.StepStore
	storage.ArtifactStore
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// ArtifactMirror 产物镜像到对象存储，可选
type ArtifactMirror interface {
	MirrorArtifact(ctx context.Context, projectID, artifactID string, version int, content, contentType string) (string, error)
}

// Metrics 编排过程指标上报，可选
type Metrics interface {
	RecordRunStarted()
	RecordRunCompleted(status string, duration time.Duration)
	RecordStepCompleted(agentKind, status string, tokens int64)
}

// Orchestrator 流水线编排器
type Orchestrator struct {
	store     Store
	assembler *assembler.Assembler
	registry  *agent.Registry
	gate      *budget.Gate
	relay     *relay.Relay
	mirror    ArtifactMirror // 可为 nil
	metrics   Metrics        // 可为 nil

	// Backoffs 可在测试中缩短
	Backoffs []time.Duration
}

// New 创建编排器
func New(store Store, asm *assembler.Assembler, registry *agent.Registry, gate *budget.Gate, r *relay.Relay, mirror ArtifactMirror) *Orchestrator {
	return &Orchestrator{
		store:     store,
		assembler: asm,
		registry:  registry,
		gate:      gate,
		relay:     r,
		mirror:    mirror,
		Backoffs:  defaultBackoffs,
	}
}

// SetMetrics 挂接指标上报
func (o *Orchestrator) SetMetrics(m Metrics) {
	o.metrics = m
}

// Dispatch 在后台 goroutine 中执行 Run，立即返回
func (o *Orchestrator) Dispatch(run *model.Run) {
	go func() {
		// 与发起请求的生命周期解耦
		if err := o.Execute(context.Background(), run.ID); err != nil {
			log.Printf("[orchestrator.dispatch] run=%s error=%v", run.ID, err)
		}
	}()
}

// Execute 执行一次 Run 直到终态
func (o *Orchestrator) Execute(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	if run.IsTerminal() {
		return nil
	}
	start := time.Now()

	steps, err := o.store.ListStepsByRun(ctx, runID)
	if err != nil {
		return o.failRun(ctx, run, start, fmt.Errorf("load steps: %w", err))
	}

	tenant, err := o.store.GetUserByID(ctx, run.TenantID)
	if err != nil || tenant == nil {
		return o.failRun(ctx, run, start, fmt.Errorf("load tenant %s: %w", run.TenantID, err))
	}

	if err := o.store.MarkRunStarted(ctx, runID); err != nil {
		return o.failRun(ctx, run, start, fmt.Errorf("mark run started: %w", err))
	}
	if o.metrics != nil {
		o.metrics.RecordRunStarted()
	}
	log.Printf("[orchestrator.run.start] run=%s project=%s steps=%d", runID, run.ProjectID, len(steps))

	// 上下文只装配一次，摘要贯穿全部步骤
	asm, err := o.assembler.Build(ctx, run.ProjectID)
	if err != nil {
		return o.failRun(ctx, run, start, fmt.Errorf("assemble context: %w", err))
	}

	for _, step := range steps {
		if err := o.executeStep(ctx, run, tenant, step, asm); err != nil {
			// 失败步骤之后的步骤永远停留在 queued
			return o.failRun(ctx, run, start, err)
		}
	}

	if err := o.store.MarkRunCompleted(ctx, runID, model.RunStatusCompleted, nil); err != nil {
		return fmt.Errorf("mark run completed: %w", err)
	}
	if o.metrics != nil {
		o.metrics.RecordRunCompleted(string(model.RunStatusCompleted), time.Since(start))
	}
	o.publishRunTerminal(runID, false)
	log.Printf("[orchestrator.run.complete] run=%s", runID)
	return nil
}

// executeStep 执行单个步骤，返回错误即终结整个 Run
func (o *Orchestrator) executeStep(ctx context.Context, run *model.Run, tenant *model.User, step *model.RunStep, asm *assembler.Context) error {
	if err := o.store.MarkStepStarted(ctx, step.ID); err != nil {
		return fmt.Errorf("mark step started: %w", err)
	}
	o.relay.Publish(run.ID, relay.EventRunning, map[string]interface{}{
		"step_id":      step.ID,
		"agent_kind":   step.AgentKind,
		"progress_pct": 0,
		"label":        stepLabel(step.AgentKind),
	})
	log.Printf("[orchestrator.step.start] run=%s step=%s kind=%s position=%d",
		run.ID, step.ID, step.AgentKind, step.Position)

	// 每个付费工作单元前重读预算计数
	if _, err := o.gate.Check(ctx, run.TenantID, tenant.MonthlyTokenLimit); err != nil {
		if errors.Is(err, budget.ErrBudgetExceeded) {
			o.failStep(ctx, run, step, "budget_exceeded", "budget exceeded")
			return fmt.Errorf("step %s: budget exceeded", step.ID)
		}
		o.failStep(ctx, run, step, "budget_check_failed", err.Error())
		return fmt.Errorf("step %s: budget check: %w", step.ID, err)
	}

	executor, err := o.registry.Get(step.AgentKind)
	if err != nil {
		o.failStep(ctx, run, step, "unknown_agent_kind", err.Error())
		return fmt.Errorf("step %s: %w", step.ID, err)
	}

	output, err := o.executeWithRetry(ctx, run, step, executor, asm)
	if err != nil {
		code := "generation_failed"
		if errors.Is(err, budget.ErrBudgetExceeded) {
			code = "budget_exceeded"
		} else if errors.Is(err, budget.ErrTierLimitExceeded) {
			code = "tier_limit_exceeded"
		}
		o.failStep(ctx, run, step, code, err.Error())
		return fmt.Errorf("step %s: %w", step.ID, err)
	}

	artifactID, err := o.persistArtifact(ctx, run, step, output)
	if err != nil {
		o.failStep(ctx, run, step, "persist_failed", err.Error())
		return fmt.Errorf("step %s: persist artifact: %w", step.ID, err)
	}

	if err := o.store.MarkStepCompleted(ctx, step.ID, &artifactID, output.TokensUsed, output.CostUSD); err != nil {
		return fmt.Errorf("step %s: mark completed: %w", step.ID, err)
	}
	if err := o.store.AddRunUsage(ctx, run.ID, output.TokensUsed, output.CostUSD); err != nil {
		return fmt.Errorf("step %s: add run usage: %w", step.ID, err)
	}
	if o.metrics != nil {
		o.metrics.RecordStepCompleted(string(step.AgentKind), string(model.StepStatusCompleted), output.TokensUsed)
	}

	o.relay.Publish(run.ID, relay.EventComplete, map[string]interface{}{
		"step_id":     step.ID,
		"agent_kind":  step.AgentKind,
		"tokens_used": output.TokensUsed,
		"artifact_id": artifactID,
	})
	log.Printf("[orchestrator.step.complete] run=%s step=%s tokens=%d cached=%v artifact=%s",
		run.ID, step.ID, output.TokensUsed, output.Cached, artifactID)
	return nil
}

// executeWithRetry 带重试调用执行器
//
// 1 次初始尝试 + len(Backoffs) 次重试。预算类错误不重试，
// 进行中的尝试不会被预算耗尽打断，只拒绝下一个工作单元。
func (o *Orchestrator) executeWithRetry(ctx context.Context, run *model.Run, step *model.RunStep, executor agent.Executor, asm *assembler.Context) (*agent.Output, error) {
	var lastErr error
	for attempt := 0; attempt <= len(o.Backoffs); attempt++ {
		if attempt > 0 {
			delay := o.Backoffs[attempt-1]
			log.Printf("[orchestrator.step.retry] run=%s step=%s attempt=%d delay=%s err=%v",
				run.ID, step.ID, attempt, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		output, err := executor.Execute(ctx, run.TenantID, asm)
		if err == nil {
			return output, nil
		}
		if errors.Is(err, budget.ErrBudgetExceeded) || errors.Is(err, budget.ErrTierLimitExceeded) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// persistArtifact 落产物与首个版本，并尽力镜像到对象存储
func (o *Orchestrator) persistArtifact(ctx context.Context, run *model.Run, step *model.RunStep, output *agent.Output) (string, error) {
	now := time.Now()
	artifactID := generateID("art")

	var objectKey *string
	if o.mirror != nil {
		key, err := o.mirror.MirrorArtifact(ctx, run.ProjectID, artifactID, 1, output.Content, output.ContentType)
		if err != nil {
			// 镜像失败不影响编排，关系库中的正文是权威副本
			log.Printf("[orchestrator.artifact.mirror_failed] run=%s artifact=%s err=%v", run.ID, artifactID, err)
		} else {
			objectKey = &key
		}
	}

	a := &model.Artifact{
		ID:             artifactID,
		ProjectID:      run.ProjectID,
		RunID:          run.ID,
		AgentKind:      step.AgentKind,
		Kind:           output.ArtifactKind,
		Title:          output.Title,
		CurrentVersion: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	v := &model.ArtifactVersion{
		ArtifactID:  artifactID,
		Version:     1,
		Content:     output.Content,
		ContentType: output.ContentType,
		ObjectKey:   objectKey,
		Cached:      output.Cached,
		CreatedAt:   now,
	}
	if err := o.store.CreateArtifactWithVersion(ctx, a, v); err != nil {
		return "", err
	}
	return artifactID, nil
}

// failStep 标记步骤失败并广播 error 事件
func (o *Orchestrator) failStep(ctx context.Context, run *model.Run, step *model.RunStep, code, message string) {
	if err := o.store.MarkStepFailed(ctx, step.ID, message); err != nil {
		log.Printf("[orchestrator.step.fail] run=%s step=%s persist_error=%v", run.ID, step.ID, err)
	}
	if o.metrics != nil {
		o.metrics.RecordStepCompleted(string(step.AgentKind), string(model.StepStatusFailed), 0)
	}
	o.relay.Publish(run.ID, relay.EventError, map[string]interface{}{
		"step_id":    step.ID,
		"agent_kind": step.AgentKind,
		"error_code": code,
		"message":    message,
	})
	log.Printf("[orchestrator.step.fail] run=%s step=%s code=%s message=%s", run.ID, step.ID, code, message)
}

// failRun 标记 Run 失败并广播终结事件，已产出的产物保留
func (o *Orchestrator) failRun(ctx context.Context, run *model.Run, start time.Time, cause error) error {
	msg := cause.Error()
	if err := o.store.MarkRunCompleted(ctx, run.ID, model.RunStatusFailed, &msg); err != nil {
		log.Printf("[orchestrator.run.fail] run=%s persist_error=%v", run.ID, err)
	}
	if o.metrics != nil {
		o.metrics.RecordRunCompleted(string(model.RunStatusFailed), time.Since(start))
	}
	o.publishRunTerminal(run.ID, true)
	log.Printf("[orchestrator.run.fail] run=%s cause=%v", run.ID, cause)
	return cause
}

// publishRunTerminal 广播 Run 级终结事件，成功与失败各恰好一次
func (o *Orchestrator) publishRunTerminal(runID string, failed bool) {
	payload := map[string]interface{}{
		"run_id":   runID,
		"all_done": true,
	}
	if failed {
		payload["error"] = true
	}
	o.relay.Publish(runID, relay.EventComplete, payload)
}

// stepLabel 步骤在进度流中的展示名
func stepLabel(kind model.AgentKind) string {
	switch kind {
	case model.AgentKindCoverageMatrix:
		return "生成测试覆盖矩阵"
	case model.AgentKindChecklist:
		return "生成手工测试检查清单"
	case model.AgentKindAutomationScript:
		return "生成自动化测试脚本"
	case model.AgentKindBehaviorScenario:
		return "生成行为场景用例"
	default:
		return string(kind)
	}
}

func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
