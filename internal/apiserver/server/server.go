// Package server 提供 HTTP API 入口
//
// 本包实现测试资产生成流水线的 RESTful API，包括：
//   - 用户认证与预算额度管理
//   - 项目与数据源管理
//   - 流水线执行（Run/Step）接口
//   - 产物查询与下载
//   - WebSocket 进度流
//
// 文件组织：
//   - server.go: 路由装配与通用中间件
//   - metrics.go: Prometheus 指标
package server

import (
	"net/http"

	"testforge/internal/apiserver/artifact"
	"testforge/internal/apiserver/auth"
	"testforge/internal/apiserver/project"
	"testforge/internal/apiserver/run"
	"testforge/internal/apiserver/source"
	"testforge/internal/apiserver/stream"
	"testforge/internal/orchestrator"
	"testforge/internal/shared/budget"
	"testforge/internal/shared/objstore"
	"testforge/internal/shared/relay"
	"testforge/internal/shared/storage"
)

// Handler API 装配器
//
// 依赖说明：
//   - store: 持久化存储（PostgreSQL 或 SQLite）
//   - gate: 预算闸门（Run 创建与每步执行前检查）
//   - relay: 进程内进度事件中继
//   - orch: 流水线编排器（Run 创建后在后台执行）
//   - mirror: 产物对象存储镜像，可为 nil
type Handler struct {
	store   storage.PersistentStore
	gate    *budget.Gate
	relay   *relay.Relay
	orch    *orchestrator.Orchestrator
	mirror  *objstore.Client
	authCfg auth.Config

	defaultTokenLimit int64
	metrics           *Metrics
}

// NewHandler 创建 API 装配器并挂接指标
func NewHandler(store storage.PersistentStore, gate *budget.Gate, r *relay.Relay,
	orch *orchestrator.Orchestrator, mirror *objstore.Client,
	authCfg auth.Config, defaultTokenLimit int64) *Handler {

	h := &Handler{
		store:             store,
		gate:              gate,
		relay:             r,
		orch:              orch,
		mirror:            mirror,
		authCfg:           authCfg,
		defaultTokenLimit: defaultTokenLimit,
		metrics:           NewMetrics("testforge"),
	}
	orch.SetMetrics(h.metrics)
	return h
}

// Metrics 暴露指标实例，供装配方挂接到其它组件
func (h *Handler) Metrics() *Metrics {
	return h.metrics
}

// Router 装配全部路由
//
// REST API:
//   - POST   /api/v1/auth/register              - 用户注册
//   - POST   /api/v1/auth/login                 - 登录
//   - POST   /api/v1/auth/refresh               - 刷新 token
//   - GET    /api/v1/auth/me                    - 当前用户
//   - PUT    /api/v1/auth/password              - 修改密码
//   - PUT    /api/v1/users/{id}/token-limit     - 调整月度额度（admin）
//   - POST   /api/v1/projects                   - 创建项目
//   - GET    /api/v1/projects                   - 项目列表
//   - GET    /api/v1/projects/{id}              - 项目详情
//   - PUT    /api/v1/projects/{id}              - 更新项目
//   - DELETE /api/v1/projects/{id}              - 删除项目
//   - POST   /api/v1/projects/{id}/sources      - 登记数据源
//   - GET    /api/v1/projects/{id}/sources      - 数据源列表
//   - GET    /api/v1/sources/{id}               - 数据源详情
//   - PATCH  /api/v1/sources/{id}               - 更新数据源状态
//   - DELETE /api/v1/sources/{id}               - 删除数据源
//   - POST   /api/v1/projects/{id}/runs         - 发起流水线执行
//   - GET    /api/v1/projects/{id}/runs         - 执行列表
//   - GET    /api/v1/runs/{id}                  - 执行详情（含步骤）
//   - GET    /api/v1/runs/{id}/steps            - 步骤列表
//   - GET    /api/v1/projects/{id}/artifacts    - 项目产物列表
//   - GET    /api/v1/runs/{id}/artifacts        - 执行产物列表
//   - GET    /api/v1/artifacts/{id}             - 产物详情（含当前版本）
//   - GET    /api/v1/artifacts/{id}/versions/{version} - 指定版本
//   - GET    /api/v1/artifacts/{id}/download    - 下载当前版本
//
// WebSocket:
//   - GET    /ws/runs/{id}/events               - 实时进度推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", MetricsHandler())

	// 认证与额度管理
	authHandler := auth.NewHandler(h.store, h.authCfg, h.defaultTokenLimit)
	authHandler.RegisterRoutes(mux)

	// 项目
	projectHandler := project.NewHandler(h.store)
	projectHandler.RegisterRoutes(mux)

	// 数据源
	sourceHandler := source.NewHandler(h.store)
	sourceHandler.RegisterRoutes(mux)

	// 流水线执行（创建即交给编排器后台跑）
	runHandler := run.NewHandler(h.store, h.gate, h.orch)
	runHandler.RegisterRoutes(mux)

	// 产物
	var mirror artifact.Mirror
	if h.mirror != nil {
		mirror = h.mirror
	}
	artifactHandler := artifact.NewHandler(h.store, mirror)
	artifactHandler.RegisterRoutes(mux)

	// 中间件链：指标 → 认证 → CORS
	apiHandler := h.metrics.MetricsMiddleware(mux)
	authedHandler := auth.Middleware(h.authCfg)(apiHandler)
	corsHandler := corsMiddleware(authedHandler)

	// WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	streamHandler := stream.NewHandler(h.store, h.relay, h.authCfg)
	streamHandler.SetConnectionGauge(h.metrics.StreamConnectionsActive)

	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /ws/runs/{id}/events", streamHandler.HandleRunEvents)
	topMux.Handle("/", corsHandler)
	return topMux
}

// Health 健康检查接口
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
