// Package source 数据源领域 - HTTP 处理
//
// 文本提取、仓库分析、页面爬取由外部协作方完成，这里只接收
// 提取后的文本快照并管理其就绪状态。
package source

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"testforge/internal/apiserver/auth"
	"testforge/internal/shared/model"
)

// SourceStore 定义 source handler 需要的存储接口（用于测试 mock）
type SourceStore interface {
	GetProject(ctx context.Context, id string) (*model.Project, error)
	CreateSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, id string) (*model.Source, error)
	ListSourcesByProject(ctx context.Context, projectID string) ([]*model.Source, error)
	UpdateSourceStatus(ctx context.Context, id string, status model.SourceStatus) error
	DeleteSource(ctx context.Context, id string) error
}

// Handler 数据源领域 HTTP 处理器
type Handler struct {
	store SourceStore
}

// NewHandler 创建数据源处理器
func NewHandler(store SourceStore) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册数据源相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/projects/{id}/sources", h.Create)
	mux.HandleFunc("GET /api/v1/projects/{id}/sources", h.ListByProject)
	mux.HandleFunc("GET /api/v1/sources/{id}", h.Get)
	mux.HandleFunc("PATCH /api/v1/sources/{id}", h.UpdateStatus)
	mux.HandleFunc("DELETE /api/v1/sources/{id}", h.Delete)
}

type createRequest struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

type updateRequest struct {
	Status  string `json:"status"`
	Content string `json:"content,omitempty"`
}

// Create 登记一份数据源快照
// POST /api/v1/projects/{id}/sources
//
// content 非空视为外部提取已完成，直接 ready；
// 否则登记为 pending，等待提取方回填。
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind := model.SourceKind(req.Kind)
	if !model.ValidSourceKind(kind) {
		writeError(w, http.StatusBadRequest, "invalid source kind")
		return
	}

	if !h.authorizeProject(w, r, projectID) {
		return
	}

	status := model.SourceStatusPending
	if req.Content != "" {
		status = model.SourceStatusReady
	}

	now := time.Now()
	src := &model.Source{
		ID:        generateID("src"),
		ProjectID: projectID,
		Kind:      kind,
		Name:      req.Name,
		Content:   req.Content,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateSource(r.Context(), src); err != nil {
		log.Printf("[source.create] id=%s project=%s error=%v", src.ID, projectID, err)
		writeError(w, http.StatusInternalServerError, "failed to create source")
		return
	}

	log.Printf("[source.create] id=%s project=%s kind=%s status=%s", src.ID, projectID, kind, status)
	writeJSON(w, http.StatusCreated, src)
}

// ListByProject 列出项目下的数据源
// GET /api/v1/projects/{id}/sources
func (h *Handler) ListByProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if !h.authorizeProject(w, r, projectID) {
		return
	}

	sources, err := h.store.ListSourcesByProject(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": sources, "count": len(sources)})
}

// Get 获取数据源详情
// GET /api/v1/sources/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	src, ok := h.loadSource(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// UpdateStatus 更新数据源状态
// PATCH /api/v1/sources/{id}
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	src, ok := h.loadSource(w, r)
	if !ok {
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status := model.SourceStatus(req.Status)
	switch status {
	case model.SourceStatusPending, model.SourceStatusReady, model.SourceStatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	if err := h.store.UpdateSourceStatus(r.Context(), src.ID, status); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update source")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// Delete 删除数据源
// DELETE /api/v1/sources/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	src, ok := h.loadSource(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteSource(r.Context(), src.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete source")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// loadSource 加载数据源并校验所属项目的归属
func (h *Handler) loadSource(w http.ResponseWriter, r *http.Request) (*model.Source, bool) {
	id := r.PathValue("id")
	src, err := h.store.GetSource(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get source")
		return nil, false
	}
	if src == nil {
		writeError(w, http.StatusNotFound, "source not found")
		return nil, false
	}
	if !h.authorizeProject(w, r, src.ProjectID) {
		return nil, false
	}
	return src, true
}

// authorizeProject 校验项目存在且归属当前租户
func (h *Handler) authorizeProject(w http.ResponseWriter, r *http.Request, projectID string) bool {
	p, err := h.store.GetProject(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get project")
		return false
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return false
	}
	if tenant := auth.GetTenantID(r.Context()); tenant != "" && p.TenantID != tenant {
		writeError(w, http.StatusNotFound, "project not found")
		return false
	}
	return true
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
