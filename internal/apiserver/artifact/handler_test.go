package artifact

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"testforge/internal/apiserver/auth"
	"testforge/internal/shared/model"
)

type mockStore struct {
	projects  map[string]*model.Project
	runs      map[string]*model.Run
	artifacts map[string]*model.Artifact
	versions  map[string][]*model.ArtifactVersion
}

func newMockStore() *mockStore {
	return &mockStore{
		projects:  make(map[string]*model.Project),
		runs:      make(map[string]*model.Run),
		artifacts: make(map[string]*model.Artifact),
		versions:  make(map[string][]*model.ArtifactVersion),
	}
}

func (m *mockStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	return m.projects[id], nil
}
func (m *mockStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	return m.runs[id], nil
}
func (m *mockStore) GetArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	return m.artifacts[id], nil
}
func (m *mockStore) ListArtifactsByProject(ctx context.Context, projectID string) ([]*model.Artifact, error) {
	var out []*model.Artifact
	for _, a := range m.artifacts {
		if a.ProjectID == projectID {
			out = append(out, a)
		}
	}
	return out, nil
}
func (m *mockStore) ListArtifactsByRun(ctx context.Context, runID string) ([]*model.Artifact, error) {
	var out []*model.Artifact
	for _, a := range m.artifacts {
		if a.RunID == runID {
			out = append(out, a)
		}
	}
	return out, nil
}
func (m *mockStore) GetArtifactVersion(ctx context.Context, artifactID string, version int) (*model.ArtifactVersion, error) {
	a := m.artifacts[artifactID]
	if a == nil {
		return nil, nil
	}
	if version <= 0 {
		version = a.CurrentVersion
	}
	for _, v := range m.versions[artifactID] {
		if v.Version == version {
			return v, nil
		}
	}
	return nil, nil
}

// mockMirror 可注入下载内容或模拟镜像缺失
type mockMirror struct {
	content string
	fail    bool
}

func (m *mockMirror) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if m.fail {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(strings.NewReader(m.content)), nil
}

func newTestHandler(mirror Mirror) (*Handler, *mockStore) {
	store := newMockStore()
	store.projects["proj-1"] = &model.Project{ID: "proj-1", TenantID: "usr-1"}
	store.runs["run-1"] = &model.Run{ID: "run-1", ProjectID: "proj-1"}
	key := "artifacts/proj-1/art-1/v2.md"
	store.artifacts["art-1"] = &model.Artifact{
		ID: "art-1", ProjectID: "proj-1", RunID: "run-1",
		AgentKind: model.AgentKindChecklist, Kind: model.ArtifactKindChecklist,
		Title: "手工测试检查清单", CurrentVersion: 2,
	}
	store.versions["art-1"] = []*model.ArtifactVersion{
		{ArtifactID: "art-1", Version: 1, Content: "v1 body", ContentType: "text/markdown"},
		{ArtifactID: "art-1", Version: 2, Content: "v2 body", ContentType: "text/markdown", ObjectKey: &key},
	}
	return NewHandler(store, mirror), store
}

func doGet(h *Handler, handler http.HandlerFunc, path string, vals map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest("GET", path, nil)
	for k, v := range vals {
		r.SetPathValue(k, v)
	}
	w := httptest.NewRecorder()
	handler(w, r)
	return w
}

func TestGetArtifactReturnsCurrentVersion(t *testing.T) {
	h, _ := newTestHandler(nil)
	w := doGet(h, h.Get, "/api/v1/artifacts/art-1", map[string]string{"id": "art-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		ID      string `json:"id"`
		Version *struct {
			Version int    `json:"version"`
			Content string `json:"content"`
		} `json:"version"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Version == nil || resp.Version.Version != 2 || resp.Version.Content != "v2 body" {
		t.Errorf("version = %+v, want current version 2", resp.Version)
	}
}

func TestGetArtifactVersionExplicit(t *testing.T) {
	h, _ := newTestHandler(nil)
	w := doGet(h, h.GetVersion, "/api/v1/artifacts/art-1/versions/1",
		map[string]string{"id": "art-1", "version": "1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "v1 body") {
		t.Errorf("body = %s, want v1 content", w.Body.String())
	}

	w = doGet(h, h.GetVersion, "/api/v1/artifacts/art-1/versions/9",
		map[string]string{"id": "art-1", "version": "9"})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing version status = %d, want 404", w.Code)
	}

	w = doGet(h, h.GetVersion, "/api/v1/artifacts/art-1/versions/zero",
		map[string]string{"id": "art-1", "version": "zero"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad version status = %d, want 400", w.Code)
	}
}

func TestDownloadPrefersMirror(t *testing.T) {
	h, _ := newTestHandler(&mockMirror{content: "mirrored body"})
	w := doGet(h, h.Download, "/api/v1/artifacts/art-1/download", map[string]string{"id": "art-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "mirrored body" {
		t.Errorf("body = %q, want mirrored content", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/markdown" {
		t.Errorf("content type = %s", ct)
	}
}

func TestDownloadFallsBackToDatabase(t *testing.T) {
	tests := []struct {
		name   string
		mirror Mirror
	}{
		{"mirror disabled", nil},
		{"mirror unavailable", &mockMirror{fail: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(tt.mirror)
			w := doGet(h, h.Download, "/api/v1/artifacts/art-1/download", map[string]string{"id": "art-1"})
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if w.Body.String() != "v2 body" {
				t.Errorf("body = %q, want db content", w.Body.String())
			}
		})
	}
}

func TestListByRun(t *testing.T) {
	h, _ := newTestHandler(nil)
	w := doGet(h, h.ListByRun, "/api/v1/runs/run-1/artifacts", map[string]string{"id": "run-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}

	w = doGet(h, h.ListByRun, "/api/v1/runs/run-x/artifacts", map[string]string{"id": "run-x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", w.Code)
	}
}

func TestArtifactTenantMismatch(t *testing.T) {
	h, _ := newTestHandler(nil)
	r := httptest.NewRequest("GET", "/api/v1/artifacts/art-1", nil)
	r.SetPathValue("id", "art-1")
	r = r.WithContext(auth.WithTenantID(r.Context(), "usr-other"))
	w := httptest.NewRecorder()
	h.Get(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
