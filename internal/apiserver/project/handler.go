// Package project 项目领域 - HTTP 处理
package project

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

// ProjectStore 定义 project handler 需要的存储接口（用于测试 mock）
type ProjectStore interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	ListProjectsByTenant(ctx context.Context, tenantID string) ([]*model.Project, error)
	UpdateProject(ctx context.Context, id, name, description string) error
	DeleteProject(ctx context.Context, id string) error
}

// Handler 项目领域 HTTP 处理器
type Handler struct {
	store ProjectStore
}

// NewHandler 创建项目处理器
func NewHandler(store ProjectStore) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册项目相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/projects", h.Create)
	mux.HandleFunc("GET /api/v1/projects", h.List)
	mux.HandleFunc("GET /api/v1/projects/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/projects/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/projects/{id}", h.Delete)
}

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Create 创建项目
// POST /api/v1/projects
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	tenantID := ownerID(r)

	now := time.Now()
	p := &model.Project{
		ID:          generateID("proj"),
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateProject(r.Context(), p); err != nil {
		log.Printf("[project.create] id=%s error=%v", p.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}

	log.Printf("[project.create] id=%s tenant=%s name=%s", p.ID, tenantID, p.Name)
	writeJSON(w, http.StatusCreated, p)
}

// List 列出当前租户的项目
// GET /api/v1/projects
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := ownerID(r)

	projects, err := h.store.ListProjectsByTenant(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects, "count": len(projects)})
}

// Get 获取项目详情
// GET /api/v1/projects/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := h.authorize(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Update 更新项目
// PUT /api/v1/projects/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		req.Name = p.Name
	}

	if err := h.store.UpdateProject(r.Context(), p.ID, req.Name, req.Description); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Delete 删除项目
// DELETE /api/v1/projects/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteProject(r.Context(), p.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete project")
		return
	}
	log.Printf("[project.delete] id=%s", p.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// authorize 加载项目并校验归属；admin（空租户）不受限
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (*model.Project, bool) {
	id := r.PathValue("id")
	p, err := h.store.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get project")
		return nil, false
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return nil, false
	}
	if tenant := auth.GetTenantID(r.Context()); tenant != "" && p.TenantID != tenant {
		// 不泄露他人项目的存在性
		writeError(w, http.StatusNotFound, "project not found")
		return nil, false
	}
	return p, true
}

// ownerID 项目归属：普通用户归自己，admin 也归自己，无认证模式用固定租户
func ownerID(r *http.Request) string {
	if user := auth.GetAuthUser(r.Context()); user != nil {
		return user.ID
	}
	return "local"
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
