package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"testforge/internal/apiserver/auth"
	"testforge/internal/shared/model"
	"testforge/internal/shared/relay"
)

type mockStore struct {
	runs     map[string]*model.Run
	projects map[string]*model.Project
}

func newMockStore() *mockStore {
	return &mockStore{
		runs:     make(map[string]*model.Run),
		projects: make(map[string]*model.Project),
	}
}

func (m *mockStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	return m.runs[id], nil
}
func (m *mockStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	return m.projects[id], nil
}

func newTestServer(t *testing.T, authCfg auth.Config) (*httptest.Server, *mockStore, *relay.Relay) {
	t.Helper()
	store := newMockStore()
	store.projects["proj-1"] = &model.Project{ID: "proj-1", TenantID: "usr-1"}
	store.runs["run-1"] = &model.Run{ID: "run-1", ProjectID: "proj-1", Status: model.RunStatusRunning}

	r := relay.New()
	mux := http.NewServeMux()
	NewHandler(store, r, authCfg).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store, r
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func readEvent(t *testing.T, conn *websocket.Conn) relay.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event relay.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return event
}

func TestStreamForwardsEvents(t *testing.T) {
	srv, _, r := newTestServer(t, auth.Config{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/runs/run-1/events"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// 等订阅建立后再发布
	waitSubscribed(t, r, 1)
	r.Publish("run-1", relay.EventRunning, map[string]interface{}{
		"step_id": "s1", "agent_kind": "checklist", "progress_pct": 0,
	})

	event := readEvent(t, conn)
	if event.Type != relay.EventRunning || event.RunID != "run-1" {
		t.Errorf("event = %+v", event)
	}
	if event.Payload["step_id"] != "s1" {
		t.Errorf("payload = %v", event.Payload)
	}
}

func TestStreamClosesAfterTerminalEvent(t *testing.T) {
	srv, _, r := newTestServer(t, auth.Config{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/runs/run-1/events"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	waitSubscribed(t, r, 1)
	r.Publish("run-1", relay.EventComplete, map[string]interface{}{
		"run_id": "run-1", "all_done": true,
	})

	event := readEvent(t, conn)
	if done, _ := event.Payload["all_done"].(bool); !done {
		t.Fatalf("event = %+v, want terminal", event)
	}

	// 终结事件之后服务端关闭连接
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection close after terminal event")
	}
}

func TestStreamTerminalRunReplaysFinalState(t *testing.T) {
	srv, store, _ := newTestServer(t, auth.Config{})
	errMsg := "generation failed"
	store.runs["run-1"].Status = model.RunStatusFailed
	store.runs["run-1"].Error = &errMsg

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/runs/run-1/events"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	event := readEvent(t, conn)
	if event.Type != relay.EventComplete {
		t.Errorf("type = %s", event.Type)
	}
	if done, _ := event.Payload["all_done"].(bool); !done {
		t.Errorf("payload = %v, want all_done", event.Payload)
	}
	if failed, _ := event.Payload["error"].(bool); !failed {
		t.Errorf("payload = %v, want error flag", event.Payload)
	}
}

func TestStreamUnknownRun(t *testing.T) {
	srv, _, _ := newTestServer(t, auth.Config{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/runs/run-missing/events"), nil)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp = %+v, want 404", resp)
	}
}

func TestStreamAuthRequired(t *testing.T) {
	cfg := auth.DefaultConfig()
	cfg.JWTSecret = "test-secret"
	srv, _, _ := newTestServer(t, cfg)

	// 无 token 拒绝
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/runs/run-1/events"), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: resp = %+v, want 401", resp)
	}

	// 他人 token 表现为不存在
	token, err := auth.GenerateAccessToken(cfg, "usr-other", "other@example.com", "user")
	if err != nil {
		t.Fatal(err)
	}
	_, resp, _ = websocket.DefaultDialer.Dial(wsURL(srv, "/ws/runs/run-1/events?token="+token), nil)
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign token: resp = %+v, want 404", resp)
	}

	// 本人 token 放行
	token, err = auth.GenerateAccessToken(cfg, "usr-1", "owner@example.com", "user")
	if err != nil {
		t.Fatal(err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/runs/run-1/events?token="+token), nil)
	if err != nil {
		t.Fatalf("owner token rejected: %v", err)
	}
	conn.Close()
}

func TestStreamPingPong(t *testing.T) {
	srv, _, _ := newTestServer(t, auth.Config{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/runs/run-1/events"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp map[string]string
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["type"] != "pong" {
		t.Errorf("resp = %v, want pong", resp)
	}
}

// waitSubscribed 等待中继出现预期数量的订阅
func waitSubscribed(t *testing.T, r *relay.Relay, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.SubscriberCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber count never reached %d", want)
}
