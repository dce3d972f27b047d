// Package artifact 生成产物领域 - HTTP 处理
//
// 产物由流水线创建，这里只提供查询与下载。内容主副本在数据库，
// 下载优先走对象存储镜像，镜像缺失时回退数据库内容。
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"testforge/internal/apiserver/auth"
	"testforge/internal/shared/model"
)

// ArtifactStore 定义 artifact handler 需要的存储接口（用于测试 mock）
type ArtifactStore interface {
	GetProject(ctx context.Context, id string) (*model.Project, error)
	GetRun(ctx context.Context, id string) (*model.Run, error)
	GetArtifact(ctx context.Context, id string) (*model.Artifact, error)
	ListArtifactsByProject(ctx context.Context, projectID string) ([]*model.Artifact, error)
	ListArtifactsByRun(ctx context.Context, runID string) ([]*model.Artifact, error)
	GetArtifactVersion(ctx context.Context, artifactID string, version int) (*model.ArtifactVersion, error)
}

// Mirror 对象存储镜像的只读访问（可为 nil，表示未启用）
type Mirror interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// Handler 产物领域 HTTP 处理器
type Handler struct {
	store  ArtifactStore
	mirror Mirror
}

// NewHandler 创建产物处理器，mirror 可为 nil
func NewHandler(store ArtifactStore, mirror Mirror) *Handler {
	return &Handler{store: store, mirror: mirror}
}

// RegisterRoutes 注册产物相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/projects/{id}/artifacts", h.ListByProject)
	mux.HandleFunc("GET /api/v1/runs/{id}/artifacts", h.ListByRun)
	mux.HandleFunc("GET /api/v1/artifacts/{id}", h.Get)
	mux.HandleFunc("GET /api/v1/artifacts/{id}/versions/{version}", h.GetVersion)
	mux.HandleFunc("GET /api/v1/artifacts/{id}/download", h.Download)
}

// ListByProject 列出项目下的全部产物
// GET /api/v1/projects/{id}/artifacts
func (h *Handler) ListByProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if !h.authorizeProject(w, r, projectID) {
		return
	}

	artifacts, err := h.store.ListArtifactsByProject(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list artifacts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"artifacts": artifacts, "count": len(artifacts)})
}

// ListByRun 列出一次 Run 产生的产物
// GET /api/v1/runs/{id}/artifacts
func (h *Handler) ListByRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if !h.authorizeProject(w, r, run.ProjectID) {
		return
	}

	artifacts, err := h.store.ListArtifactsByRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list artifacts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"artifacts": artifacts, "count": len(artifacts)})
}

type artifactDetail struct {
	*model.Artifact
	Version *model.ArtifactVersion `json:"version"`
}

// Get 获取产物详情（含当前版本内容）
// GET /api/v1/artifacts/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadArtifact(w, r)
	if !ok {
		return
	}

	// version<=0 取当前版本
	v, err := h.store.GetArtifactVersion(r.Context(), a.ID, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get artifact version")
		return
	}
	writeJSON(w, http.StatusOK, artifactDetail{Artifact: a, Version: v})
}

// GetVersion 获取产物的指定版本
// GET /api/v1/artifacts/{id}/versions/{version}
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadArtifact(w, r)
	if !ok {
		return
	}

	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}

	v, err := h.store.GetArtifactVersion(r.Context(), a.ID, version)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get artifact version")
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "version not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Download 下载产物当前版本的原始内容
// GET /api/v1/artifacts/{id}/download
//
// 对象存储镜像可用时直出镜像，否则回退数据库内容。
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadArtifact(w, r)
	if !ok {
		return
	}

	v, err := h.store.GetArtifactVersion(r.Context(), a.ID, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get artifact version")
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "version not found")
		return
	}

	w.Header().Set("Content-Type", v.ContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s-v%d.md", a.ID, v.Version)))

	if h.mirror != nil && v.ObjectKey != nil {
		obj, err := h.mirror.Download(r.Context(), *v.ObjectKey)
		if err == nil {
			defer obj.Close()
			if _, err := io.Copy(w, obj); err != nil {
				log.Printf("[artifact.download] id=%s key=%s copy error=%v", a.ID, *v.ObjectKey, err)
			}
			return
		}
		log.Printf("[artifact.download] id=%s key=%s mirror miss, fallback to db: %v", a.ID, *v.ObjectKey, err)
	}
	io.WriteString(w, v.Content)
}

// loadArtifact 加载产物并校验所属项目的归属
func (h *Handler) loadArtifact(w http.ResponseWriter, r *http.Request) (*model.Artifact, bool) {
	id := r.PathValue("id")
	a, err := h.store.GetArtifact(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get artifact")
		return nil, false
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "artifact not found")
		return nil, false
	}
	if !h.authorizeProject(w, r, a.ProjectID) {
		return nil, false
	}
	return a, true
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
