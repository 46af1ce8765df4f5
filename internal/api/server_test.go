package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wagerline/wagerline-core/internal/admission"
	"github.com/wagerline/wagerline-core/internal/auth"
	"github.com/wagerline/wagerline-core/internal/devicerequest"
	"github.com/wagerline/wagerline-core/internal/infrastructure/config"
	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	"github.com/wagerline/wagerline-core/internal/infrastructure/ephemeral"
	"github.com/wagerline/wagerline-core/internal/infrastructure/logging"
	"github.com/wagerline/wagerline-core/internal/session"
	"github.com/wagerline/wagerline-core/internal/testutil"
	"github.com/wagerline/wagerline-core/internal/tier"
)

const (
	testSecret   = "test-secret-key-at-least-32-characters-long"
	testPassword = "correct-horse-battery"
)

// recordingMetrics captures login and review measurements.
type recordingMetrics struct {
	mu      sync.Mutex
	logins  []string
	reviews []string
}

func (m *recordingMetrics) WriteLogin(_, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins = append(m.logins, outcome)
}

func (m *recordingMetrics) WriteReview(kind, decision, _ string, _ int, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews = append(m.reviews, kind+"/"+decision)
}

func (m *recordingMetrics) loginOutcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.logins...)
}

type testEnv struct {
	srv     *Server
	db      *database.DB
	router  http.Handler
	tickets *ephemeral.MemoryStore
	metrics *recordingMetrics
}

// testServer builds a Server on a migrated temporary database with the real
// admission engine, request workflow and session issuer. mutate may adjust
// the dependencies before the server is created.
func testServer(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()

	db := testutil.OpenDB(t)
	limits := tier.DefaultLimits()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	issuer := session.NewIssuer(testSecret, time.Hour)
	engine := admission.NewEngine(db.DB, admission.Config{Limits: limits}, issuer)
	engine.SetLogger(log)
	workflow := devicerequest.NewWorkflow(db.DB, limits, 0)
	tickets := ephemeral.NewMemoryStore()
	metrics := &recordingMetrics{}

	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		TicketTTL:    time.Minute,
		StoreTimeout: 5 * time.Second,
		Limits:       limits,
		Logger:       log,
		DB:           db,
		Engine:       engine,
		Workflow:     workflow,
		Issuer:       issuer,
		Logout:       session.NewHandler(db.DB, limits, 0),
		Tickets:      tickets,
		Metrics:      metrics,
		Version:      "test",
	}
	for _, fn := range mutate {
		fn(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)
	go srv.drainAuditLog(ctx)
	t.Cleanup(func() {
		cancel()
		<-srv.auditDone
	})

	return &testEnv{
		srv:     srv,
		db:      db,
		router:  srv.buildRouter(),
		tickets: tickets,
		metrics: metrics,
	}
}

// createAccount stores an account with testPassword.
func (e *testEnv) createAccount(t *testing.T, username string, role auth.Role, tr tier.Tier) *auth.Account {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	acc := &auth.Account{
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		Role:         role,
		Tier:         tr,
		IsActive:     true,
	}
	if err := e.srv.accounts.Create(context.Background(), acc); err != nil {
		t.Fatalf("creating account %s: %v", username, err)
	}
	return acc
}

// do sends a request through the router. body is JSON-encoded unless nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) doRaw(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, username, fingerprint string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"identifier": username,
		"password":   testPassword,
		"device": map[string]any{
			"fingerprint_id": fingerprint,
			"display_name":   "Phone " + fingerprint,
			"platform":       "android",
		},
	})
}

// mustLogin logs in and returns the decoded admitted response.
func (e *testEnv) mustLogin(t *testing.T, username, fingerprint string) loginResponse {
	t.Helper()
	w := e.login(t, username, fingerprint)
	if w.Code != http.StatusOK {
		t.Fatalf("login %s/%s status = %d, body = %s", username, fingerprint, w.Code, w.Body.String())
	}
	var resp loginResponse
	decode(t, w, &resp)
	return resp
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp Error
	decode(t, w, &resp)
	return resp.Code
}

// ─── Health and Middleware Tests ───────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
	if !resp.Database.OK || resp.Database.PendingMigrations != 0 {
		t.Errorf("database = %+v, want ok with no pending migrations", resp.Database)
	}
	if resp.MQTT != nil {
		t.Errorf("mqtt = %+v, want omitted without a broker", resp.MQTT)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := testServer(t)
	env.db.DB.Close() //nolint:errcheck // simulating an outage

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "degraded" || resp.Database.OK {
		t.Errorf("resp = %+v, want degraded with database down", resp)
	}
}

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"https://app.wagerline.test"}
	})

	tests := []struct {
		origin    string
		wantAllow string
	}{
		{"https://app.wagerline.test", "https://app.wagerline.test"},
		{"https://evil.test", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("%s: preflight status = %d, want %d", tt.origin, w.Code, http.StatusNoContent)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
			t.Errorf("%s: ACAO = %q, want %q", tt.origin, got, tt.wantAllow)
		}
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("New(Deps{}) error = nil, want missing dependency error")
	}
}

// ─── Auth Middleware Tests ─────────────────────────────────────────

func TestAuthMiddleware_RejectsMissingAndMalformedTokens(t *testing.T) {
	env := testServer(t)

	for _, token := range []string{"", "not-a-jwt"} {
		w := env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want %d", token, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestAuthMiddleware_RejectsSupersededSession(t *testing.T) {
	env := testServer(t)
	env.createAccount(t, "bob", auth.RoleUser, tier.Basic)

	first := env.mustLogin(t, "bob", "fp-phone")
	second := env.mustLogin(t, "bob", "fp-phone")
	if second.RevokedSessions != 1 {
		t.Errorf("revoked_sessions = %d, want 1", second.RevokedSessions)
	}

	w := env.do(t, http.MethodGet, "/api/v1/auth/me", first.Token, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("superseded token status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	w = env.do(t, http.MethodGet, "/api/v1/auth/me", second.Token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("current token status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_RejectsDeactivatedAccount(t *testing.T) {
	env := testServer(t)
	acc := env.createAccount(t, "carol", auth.RoleUser, tier.Premium)
	resp := env.mustLogin(t, "carol", "fp-1")

	acc.IsActive = false
	if err := env.srv.accounts.Update(context.Background(), acc); err != nil {
		t.Fatalf("Update: %v", err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/auth/me", resp.Token, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRequirePermission_UserCannotReview(t *testing.T) {
	env := testServer(t)
	env.createAccount(t, "dave", auth.RoleUser, tier.Premium)
	resp := env.mustLogin(t, "dave", "fp-1")

	for _, path := range []string{
		"/api/v1/admin/admission-requests",
		"/api/v1/admin/accounts",
		"/api/v1/admin/audit-logs",
	} {
		w := env.do(t, http.MethodGet, path, resp.Token, nil)
		if w.Code != http.StatusForbidden {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusForbidden)
		}
	}
}
