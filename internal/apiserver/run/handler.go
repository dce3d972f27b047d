// Package run 流水线 Run - HTTP 处理
package run

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"testforge/internal/apiserver/auth"
	"testforge/internal/shared/budget"
	"testforge/internal/shared/model"
)

// RunStore 定义 run handler 需要的存储接口（用于测试 mock）
type RunStore interface {
	GetProject(ctx context.Context, id string) (*model.Project, error)
	ListReadySourcesByProject(ctx context.Context, projectID string) ([]*model.Source, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	CreateRunWithSteps(ctx context.Context, run *model.Run, steps []*model.RunStep) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRunsByProject(ctx context.Context, projectID string, limit int) ([]*model.Run, error)
	ListStepsByRun(ctx context.Context, runID string) ([]*model.RunStep, error)
}

// BudgetGate 预算闸门接口
type BudgetGate interface {
	Check(ctx context.Context, tenantID string, limit int64) (*budget.CheckResult, error)
}

// Dispatcher 后台编排调度
type Dispatcher interface {
	Dispatch(run *model.Run)
}

// Handler Run HTTP 处理器
type Handler struct {
	store      RunStore
	gate       BudgetGate
	dispatcher Dispatcher
}

// NewHandler 创建 Run 处理器
func NewHandler(store RunStore, gate BudgetGate, dispatcher Dispatcher) *Handler {
	return &Handler{store: store, gate: gate, dispatcher: dispatcher}
}

// RegisterRoutes 注册 Run 相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/projects/{id}/runs", h.Create)
	mux.HandleFunc("GET /api/v1/projects/{id}/runs", h.ListByProject)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.Get)
	mux.HandleFunc("GET /api/v1/runs/{id}/steps", h.Steps)
}

type createRequest struct {
	// AgentKinds 选定的 Agent 种类，顺序即执行顺序
	AgentKinds []string `json:"agent_kinds"`
}

// runDetail Run 读模型：状态投影 + 步骤列表
type runDetail struct {
	*model.Run
	Steps []*model.RunStep `json:"steps"`
}

// Create 创建并派发一次 Run
// POST /api/v1/projects/{id}/runs
//
// 准入检查同步完成，任一失败则不创建 Run：
//  1. 项目存在且归属当前租户
//  2. Agent 选择非空且种类合法、无重复
//  3. 至少一份 ready 数据源
//  4. 月度预算未耗尽
//
// 通过后原子落 Run + 全部步骤（queued），交给后台编排执行。
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := r.PathValue("id")

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kinds, err := parseAgentKinds(req.AgentKinds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, ok := h.authorizeProject(w, r, projectID)
	if !ok {
		return
	}

	// 准入：至少一份 ready 数据源
	ready, err := h.store.ListReadySourcesByProject(ctx, projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check sources")
		return
	}
	if len(ready) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no data sources are ready for this project")
		return
	}

	// 准入：月度预算
	tenant, err := h.store.GetUserByID(ctx, project.TenantID)
	if err != nil || tenant == nil {
		writeError(w, http.StatusInternalServerError, "failed to load tenant")
		return
	}
	if _, err := h.gate.Check(ctx, tenant.ID, tenant.MonthlyTokenLimit); err != nil {
		if errors.Is(err, budget.ErrBudgetExceeded) {
			writeError(w, http.StatusPaymentRequired, "monthly token budget exceeded")
			return
		}
		log.Printf("[run.create] project=%s budget_check_error=%v", projectID, err)
		writeError(w, http.StatusInternalServerError, "failed to check budget")
		return
	}

	runID := generateID("run")
	now := time.Now()
	run := &model.Run{
		ID:        runID,
		ProjectID: projectID,
		TenantID:  project.TenantID,
		Mode:      model.RunModeSequential,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
	}
	steps := make([]*model.RunStep, len(kinds))
	for i, k := range kinds {
		steps[i] = &model.RunStep{
			ID:        generateID("step"),
			RunID:     runID,
			AgentKind: k,
			Position:  i,
			Status:    model.StepStatusQueued,
			CreatedAt: now,
		}
	}

	// Run 与步骤同一事务落库
	if err := h.store.CreateRunWithSteps(ctx, run, steps); err != nil {
		log.Printf("[run.create] run_id=%s project=%s error=%v", runID, projectID, err)
		writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	// 后台派发，生命周期与本请求解耦
	h.dispatcher.Dispatch(run)

	log.Printf("[run.create] run_id=%s project=%s steps=%d", runID, projectID, len(steps))
	writeJSON(w, http.StatusCreated, runDetail{Run: run, Steps: steps})
}

// Get 获取 Run 详情（含步骤）
// GET /api/v1/runs/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	steps, err := h.store.ListStepsByRun(r.Context(), run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list steps")
		return
	}
	writeJSON(w, http.StatusOK, runDetail{Run: run, Steps: steps})
}

// Steps 获取 Run 的步骤列表
// GET /api/v1/runs/{id}/steps
func (h *Handler) Steps(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	steps, err := h.store.ListStepsByRun(r.Context(), run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list steps")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps, "count": len(steps)})
}

// ListByProject 列出项目下的 Run
// GET /api/v1/projects/{id}/runs
func (h *Handler) ListByProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if _, ok := h.authorizeProject(w, r, projectID); !ok {
		return
	}

	runs, err := h.store.ListRunsByProject(r.Context(), projectID, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

// loadRun 加载 Run 并通过所属项目校验访问权
func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	id := r.PathValue("id")
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return nil, false
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	if _, ok := h.authorizeProject(w, r, run.ProjectID); !ok {
		return nil, false
	}
	return run, true
}

// authorizeProject 校验项目存在且归属当前租户
func (h *Handler) authorizeProject(w http.ResponseWriter, r *http.Request, projectID string) (*model.Project, bool) {
	p, err := h.store.GetProject(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get project")
		return nil, false
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return nil, false
	}
	if tenant := auth.GetTenantID(r.Context()); tenant != "" && p.TenantID != tenant {
		writeError(w, http.StatusNotFound, "project not found")
		return nil, false
	}
	return p, true
}

// parseAgentKinds 校验 Agent 选择：非空、种类合法、无重复
func parseAgentKinds(raw []string) ([]model.AgentKind, error) {
	if len(raw) == 0 {
		return nil, errors.New("agent_kinds must not be empty")
	}
	seen := make(map[model.AgentKind]bool, len(raw))
	kinds := make([]model.AgentKind, 0, len(raw))
	for _, s := range raw {
		k := model.AgentKind(s)
		if !model.ValidAgentKind(k) {
			return nil, errors.New("invalid agent kind: " + s)
		}
		if seen[k] {
			return nil, errors.New("duplicate agent kind: " + s)
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// ============================================================================
// 工具函数
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
