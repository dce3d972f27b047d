package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsPublicRoute(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		// 公开路由
		{"login", "/api/v1/auth/login", true},
		{"register", "/api/v1/auth/register", true},
		{"refresh", "/api/v1/auth/refresh", true},
		{"health", "/health", true},
		{"metrics", "/metrics", true},
		{"ws stream", "/ws/runs/run-1/events", true},

		// 业务路由需要 JWT
		{"create project", "/api/v1/projects", false},
		{"create run", "/api/v1/projects/proj-1/runs", false},
		{"get artifact", "/api/v1/artifacts/art-1", false},
		{"me is not public", "/api/v1/auth/me", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isPublicRoute(tt.path)
			if got != tt.expected {
				t.Errorf("isPublicRoute(%q) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestMiddlewareRejectsWithoutToken(t *testing.T) {
	cfg := Config{JWTSecret: "test-secret", AccessTokenTTL: time.Minute}
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest("GET", "/api/v1/projects", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestMiddlewareInjectsTenant(t *testing.T) {
	cfg := Config{JWTSecret: "test-secret", AccessTokenTTL: time.Minute}
	token, err := GenerateAccessToken(cfg, "usr-1", "qa@example.com", "user")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	var gotTenant string
	var gotUser *AuthUser
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = GetTenantID(r.Context())
		gotUser = GetAuthUser(r.Context())
	}))

	r := httptest.NewRequest("GET", "/api/v1/projects", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if gotTenant != "usr-1" {
		t.Errorf("tenant = %q, want usr-1", gotTenant)
	}
	if gotUser == nil || gotUser.Email != "qa@example.com" {
		t.Errorf("auth user = %+v, want email qa@example.com", gotUser)
	}
}

func TestMiddlewareAdminHasNoTenantScope(t *testing.T) {
	cfg := Config{JWTSecret: "test-secret", AccessTokenTTL: time.Minute}
	token, _ := GenerateAccessToken(cfg, "usr-admin", "admin@example.com", "admin")

	var gotTenant string
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = GetTenantID(r.Context())
	}))

	r := httptest.NewRequest("GET", "/api/v1/projects", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if gotTenant != "" {
		t.Errorf("admin tenant = %q, want empty", gotTenant)
	}
}

func TestMiddlewareRejectsRefreshTokenAsAccess(t *testing.T) {
	cfg := Config{JWTSecret: "test-secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour}
	token, _ := GenerateRefreshToken(cfg, "usr-1")

	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest("GET", "/api/v1/projects", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestClaimsTenantScope(t *testing.T) {
	cfg := Config{JWTSecret: "test-secret", AccessTokenTTL: time.Minute}

	userToken, _ := GenerateAccessToken(cfg, "usr-1", "qa@example.com", "user")
	claims, err := ParseToken(cfg, userToken)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.IsAdmin() {
		t.Error("user token should not be admin")
	}
	if got := claims.TenantScope(); got != "usr-1" {
		t.Errorf("tenant scope = %q, want usr-1", got)
	}

	adminToken, _ := GenerateAccessToken(cfg, "usr-admin", "admin@example.com", UserRoleAdmin)
	claims, err = ParseToken(cfg, adminToken)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if !claims.IsAdmin() {
		t.Error("admin token should be admin")
	}
	if got := claims.TenantScope(); got != "" {
		t.Errorf("admin tenant scope = %q, want empty", got)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword("s3cret-password", hash) {
		t.Error("CheckPassword should accept correct password")
	}
	if CheckPassword("wrong", hash) {
		t.Error("CheckPassword should reject wrong password")
	}
}
