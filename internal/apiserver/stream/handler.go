// Package stream WebSocket 进度流端点
//
// 将中继上的进度事件实时推送给客户端。浏览器 WebSocket 无法设置
// Authorization 头，认证改走 ?token= 查询参数，在升级前完成校验。
package stream

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"testforge/internal/apiserver/auth"
	"testforge/internal/shared/model"
	"testforge/internal/shared/relay"
)

// heartbeatInterval 保活事件发送间隔
const heartbeatInterval = 30 * time.Second

// writeTimeout 单次写入超时
const writeTimeout = 10 * time.Second

// upgrader WebSocket 升级器配置（跨域检查当前放开，生产环境应限制）
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamStore 定义 stream handler 需要的存储接口（用于测试 mock）
type StreamStore interface {
	GetRun(ctx context.Context, id string) (*model.Run, error)
	GetProject(ctx context.Context, id string) (*model.Project, error)
}

// ConnectionGauge 活跃连接计数上报，prometheus.Gauge 满足该接口
type ConnectionGauge interface {
	Inc()
	Dec()
}

// Handler 进度流 HTTP 处理器
type Handler struct {
	store     StreamStore
	relay     *relay.Relay
	authCfg   auth.Config
	connGauge ConnectionGauge // 可为 nil
}

// NewHandler 创建进度流处理器
func NewHandler(store StreamStore, r *relay.Relay, authCfg auth.Config) *Handler {
	return &Handler{store: store, relay: r, authCfg: authCfg}
}

// SetConnectionGauge 挂接活跃连接指标
func (h *Handler) SetConnectionGauge(g ConnectionGauge) {
	h.connGauge = g
}

// RegisterRoutes 注册进度流路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/runs/{id}/events", h.HandleRunEvents)
}

// HandleRunEvents 订阅一次 Run 的进度事件流
// GET /ws/runs/{id}/events?token=...
//
// 升级前完成 Run 存在性与归属校验；Run 已终结时仍允许连接，
// 立即补发一条终结事件后关闭，供晚到的订阅者拿到最终状态。
func (h *Handler) HandleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		http.Error(w, "run_id required", http.StatusBadRequest)
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		http.Error(w, "failed to get run", http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if !h.authorize(w, r, run.ProjectID) {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[stream.upgrade] run=%s error=%v", runID, err)
		return
	}
	defer conn.Close()

	if h.connGauge != nil {
		h.connGauge.Inc()
		defer h.connGauge.Dec()
	}
	log.Printf("[stream.connect] run=%s", runID)

	// 先订阅再复查状态，避免检查与订阅之间 Run 恰好终结导致漏掉终结事件
	events := h.relay.Subscribe(runID)
	defer h.relay.Unsubscribe(runID)

	run, err = h.store.GetRun(r.Context(), runID)
	if err == nil && run != nil && run.IsTerminal() {
		h.writeEvent(conn, terminalEvent(run))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readPump(conn, cancel)

	h.writePump(ctx, conn, runID, events)
}

// readPump 读取客户端消息，处理心跳并在连接关闭时取消上下文
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[stream.read] error=%v", err)
			}
			return
		}

		var req map[string]interface{}
		if json.Unmarshal(msg, &req) == nil {
			if req["type"] == "ping" {
				conn.WriteJSON(map[string]string{"type": "pong"})
			}
		}
	}
}

// writePump 转发中继事件，终结事件转发后关闭连接
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, runID string, events <-chan relay.Event) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.writeEvent(conn, relay.Event{
				Type:      relay.EventHeartbeat,
				RunID:     runID,
				CreatedAt: time.Now(),
			}); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeEvent(conn, event); err != nil {
				log.Printf("[stream.write] run=%s error=%v", runID, err)
				return
			}
			if isRunTerminal(event) {
				log.Printf("[stream.close] run=%s reason=run_terminal", runID)
				return
			}
		}
	}
}

func (h *Handler) writeEvent(conn *websocket.Conn, event relay.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(event)
}

// authorize 校验连接者对 Run 所属项目的访问权
//
// 认证开启时 token 走查询参数；admin 不限定租户。
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, projectID string) bool {
	if !h.authCfg.Enabled() {
		return true
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return false
	}
	claims, err := auth.ParseToken(h.authCfg, token)
	if err != nil || claims.Type != auth.TokenTypeAccess {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return false
	}
	if claims.IsAdmin() {
		return true
	}

	p, err := h.store.GetProject(r.Context(), projectID)
	if err != nil {
		http.Error(w, "failed to get project", http.StatusInternalServerError)
		return false
	}
	if p == nil || p.TenantID != claims.Subject {
		http.Error(w, "run not found", http.StatusNotFound)
		return false
	}
	return true
}

// terminalEvent 为已终结的 Run 合成终结事件，与编排器发布的格式一致
func terminalEvent(run *model.Run) relay.Event {
	payload := map[string]interface{}{
		"run_id":   run.ID,
		"all_done": true,
	}
	if run.Status == model.RunStatusFailed {
		payload["error"] = true
	}
	return relay.Event{
		Type:      relay.EventComplete,
		RunID:     run.ID,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// isRunTerminal 判断事件是否标记整个 Run 结束
func isRunTerminal(event relay.Event) bool {
	done, _ := event.Payload["all_done"].(bool)
	return done
}
