package controllers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"integrator/config"
	"integrator/controllers"
	"integrator/delivery"
	"integrator/models"
	"integrator/router"
	"integrator/store"
	"integrator/version"
	"integrator/workers"
)

type mockStore struct {
	mu          sync.Mutex
	created     []*models.IntegratorRequest
	attempts    []*models.DeliveryAttempt
	createFunc  func(req *models.IntegratorRequest) (*string, error)
	attemptFunc func(a *models.DeliveryAttempt) error
}

func (m *mockStore) CreateRequest(ctx context.Context, req *models.IntegratorRequest) (*string, error) {
	m.mu.Lock()
	m.created = append(m.created, req)
	m.mu.Unlock()
	if m.createFunc != nil {
		return m.createFunc(req)
	}
	id := "req-123"
	return &id, nil
}

func (m *mockStore) LogDeliveryAttempt(ctx context.Context, a *models.DeliveryAttempt) error {
	m.mu.Lock()
	m.attempts = append(m.attempts, a)
	m.mu.Unlock()
	if m.attemptFunc != nil {
		return m.attemptFunc(a)
	}
	return nil
}

func (m *mockStore) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created), len(m.attempts)
}

func setupRouter(t *testing.T, ic *controllers.IntegratorController) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var cfg config.Configuration
	cfg.Cors.AllowedOrigins = []string{"*"}

	r := gin.New()
	if err := router.Initialize(r, cfg, ic); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return r
}

func newController(st store.Store, client *http.Client, timeout time.Duration) *controllers.IntegratorController {
	ic, _ := newAuditedController(st, client, timeout, false)
	return ic
}

func newAuditedController(st store.Store, client *http.Client, timeout time.Duration, detached bool) (*controllers.IntegratorController, *workers.AuditWriter) {
	ic := &controllers.IntegratorController{
		Store:   st,
		Options: models.NormalizeOptions{LegacyKindAliases: true},
	}
	if st == nil {
		return ic, nil
	}
	audit := workers.NewAuditWriter(st, time.Second, detached)
	ic.Dispatcher = delivery.NewDispatcher(client, timeout, audit)
	return ic, audit
}

func post(t *testing.T, r *gin.Engine, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/integrator-request", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Referer", "https://docs.example.com/push")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, w.Body.String())
	}
	return w, out
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, out map[string]any, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status = %d, want %d (%s)", w.Code, status, w.Body.String())
	}
	if out["ok"] != false || out["error"] != code {
		t.Errorf("body = %v, want ok=false error=%s", out, code)
	}
	if out["v"] != version.HandlerVersion {
		t.Errorf("v = %v, want %s", out["v"], version.HandlerVersion)
	}
}

func TestSubmit_IntegrationRequest(t *testing.T) {
	st := &mockStore{}
	r := setupRouter(t, newController(st, nil, 0))

	w, out := post(t, r, `{"kind":"integration","email":" A@B.com ","company":"Acme","notes":"   "}`)

	if w.Code != http.StatusOK || out["ok"] != true || out["id"] != "req-123" {
		t.Fatalf("got %d %v", w.Code, out)
	}
	if _, ok := out["attempted"]; ok {
		t.Error("integration requests must not report a delivery")
	}
	if w.Header().Get(version.Header) != version.HandlerVersion {
		t.Errorf("missing %s header", version.Header)
	}

	created, attempts := st.calls()
	if created != 1 || attempts != 0 {
		t.Fatalf("store calls = %d/%d, want 1/0", created, attempts)
	}
	req := st.created[0]
	if req.Email != "a@b.com" || req.Company == nil || *req.Company != "Acme" || req.Notes != nil {
		t.Errorf("normalized request = %+v", req)
	}
	if req.SourcePath == nil || *req.SourcePath != "https://docs.example.com/push" {
		t.Errorf("SourcePath = %v, want Referer fallback", req.SourcePath)
	}
}

func TestSubmit_ValidationRejectsBeforeStore(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"kind":`, http.StatusBadRequest, models.ERR_INVALID_JSON},
		{"array body", `[1,2]`, http.StatusBadRequest, models.ERR_INVALID_JSON},
		{"unknown kind", `{"kind":"other","email":"a@b.com"}`, http.StatusBadRequest, models.ERR_INVALID_KIND},
		{"bad email", `{"kind":"integration","email":"nope"}`, http.StatusBadRequest, models.ERR_INVALID_EMAIL},
		{"push without endpoint", `{"kind":"push_access","email":"a@b.com"}`, http.StatusBadRequest, models.ERR_MISSING_ENDPOINT_URL},
		{"push over http", `{"kind":"push_access","email":"a@b.com","endpoint_url":"http://x.example.com/hook"}`, http.StatusBadRequest, models.ERR_ENDPOINT_MUST_BE_HTTPS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &mockStore{}
			r := setupRouter(t, newController(st, nil, 0))

			w, out := post(t, r, tt.body)
			expectError(t, w, out, tt.status, tt.code)

			if created, _ := st.calls(); created != 0 {
				t.Errorf("store was called %d times", created)
			}
		})
	}
}

func TestSubmit_InvalidKindListsAllowed(t *testing.T) {
	r := setupRouter(t, newController(&mockStore{}, nil, 0))
	_, out := post(t, r, `{"kind":"nope","email":"a@b.com"}`)

	allowed, ok := out["allowed"].([]any)
	if !ok || len(allowed) == 0 {
		t.Fatalf("allowed = %v", out["allowed"])
	}
}

func TestSubmit_MethodNotAllowed(t *testing.T) {
	r := setupRouter(t, newController(&mockStore{}, nil, 0))

	req := httptest.NewRequest(http.MethodGet, "/api/integrator-request", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	json.Unmarshal(w.Body.Bytes(), &out)
	expectError(t, w, out, http.StatusMethodNotAllowed, models.ERR_METHOD_NOT_ALLOWED)
	if w.Header().Get("Allow") != http.MethodPost {
		t.Errorf("Allow = %q", w.Header().Get("Allow"))
	}
}

func TestSubmit_Preflight(t *testing.T) {
	r := setupRouter(t, newController(&mockStore{}, nil, 0))

	req := httptest.NewRequest(http.MethodOptions, "/api/integrator-request", nil)
	req.Header.Set("Origin", "https://docs.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestSubmit_MissingEnv(t *testing.T) {
	ic := &controllers.IntegratorController{Missing: []string{"SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY"}}
	r := setupRouter(t, ic)

	w, out := post(t, r, `not even json`)
	expectError(t, w, out, http.StatusInternalServerError, controllers.ERR_MISSING_ENV)

	required, _ := out["required"].([]any)
	if len(required) != 2 || required[0] != "SUPABASE_URL" {
		t.Errorf("required = %v", out["required"])
	}
}

func TestSubmit_StoreFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unreachable", errors.Wrap(store.ErrUnreachable, "dial tcp: refused"), http.StatusBadGateway, controllers.ERR_SUPABASE_UNREACHABLE},
		{"rpc failed", &store.RPCError{Status: 400, Body: strings.Repeat("e", 900)}, http.StatusInternalServerError, controllers.ERR_RPC_FAILED},
		{"insert failed", &store.InsertError{Detail: "duplicate key"}, http.StatusInternalServerError, controllers.ERR_INSERT_FAILED},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &mockStore{createFunc: func(*models.IntegratorRequest) (*string, error) { return nil, tt.err }}
			r := setupRouter(t, newController(st, nil, 0))

			w, out := post(t, r, `{"kind":"integration","email":"a@b.com"}`)
			expectError(t, w, out, tt.status, tt.code)

			if tt.code == controllers.ERR_RPC_FAILED {
				if out["status"] != float64(400) {
					t.Errorf("status field = %v", out["status"])
				}
				if details, _ := out["details"].(string); len(details) != 500 {
					t.Errorf("details length = %d, want 500", len(details))
				}
			}
		})
	}
}

func TestSubmit_PushAccessDelivered(t *testing.T) {
	var gotRequestID string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("X-Fw-Request-Id")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("accepted"))
	}))
	defer srv.Close()

	st := &mockStore{}
	r := setupRouter(t, newController(st, srv.Client(), 2*time.Second))

	w, out := post(t, r, `{"kind":"push_access","email":"a@b.com","endpoint_url":"`+srv.URL+`/hook"}`)

	if w.Code != http.StatusOK || out["ok"] != true {
		t.Fatalf("got %d %v", w.Code, out)
	}
	if out["attempted"] != true || out["delivered"] != true || out["http_status"] != float64(200) {
		t.Errorf("delivery fields = %v", out)
	}
	if out["newsml_news_item_id"] != "req-123" || gotRequestID != "req-123" {
		t.Errorf("news item id = %v, header = %q", out["newsml_news_item_id"], gotRequestID)
	}
	if out["response_snippet"] != "accepted" || out["timeout_ms"] != float64(2000) {
		t.Errorf("snippet/timeout = %v/%v", out["response_snippet"], out["timeout_ms"])
	}
	if _, ok := out["error"]; ok {
		t.Errorf("error should be absent on success: %v", out["error"])
	}

	if _, attempts := st.calls(); attempts != 1 {
		t.Errorf("audit attempts = %d, want 1", attempts)
	}
}

func TestSubmit_PushAccessProductionSkipsDelivery(t *testing.T) {
	st := &mockStore{}
	r := setupRouter(t, newController(st, nil, 0))

	_, out := post(t, r, `{"kind":"push_access","email":"a@b.com","endpoint_url":"https://x.example.com","environment":"production"}`)

	if out["ok"] != true || out["id"] != "req-123" {
		t.Fatalf("body = %v", out)
	}
	if _, ok := out["attempted"]; ok {
		t.Error("production push requests must not be delivered")
	}
	if _, attempts := st.calls(); attempts != 0 {
		t.Errorf("audit attempts = %d, want 0", attempts)
	}
}

func TestSubmit_PushAccessRejected(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	r := setupRouter(t, newController(&mockStore{}, srv.Client(), 2*time.Second))
	w, out := post(t, r, `{"kind":"push_access","email":"a@b.com","endpoint_url":"`+srv.URL+`"}`)

	if w.Code != http.StatusOK || out["ok"] != true {
		t.Fatalf("a rejected delivery is still a successful submission: %d %v", w.Code, out)
	}
	if out["delivered"] != false || out["http_status"] != float64(403) {
		t.Errorf("delivery fields = %v", out)
	}
	if out["error"] != models.DELIVERY_ERR_REJECTED || out["error_detail"] != "http_status=403" {
		t.Errorf("error = %v / %v", out["error"], out["error_detail"])
	}
}

func TestSubmit_PushAccessTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	r := setupRouter(t, newController(&mockStore{}, srv.Client(), 100*time.Millisecond))
	w, out := post(t, r, `{"kind":"push_access","email":"a@b.com","endpoint_url":"`+srv.URL+`"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if out["delivered"] != false || out["error"] != models.DELIVERY_ERR_TIMEOUT {
		t.Errorf("delivery fields = %v", out)
	}
	if _, ok := out["http_status"]; ok {
		t.Error("http_status should be absent when no response arrived")
	}
}

func TestSubmit_AuditFailureDoesNotChangeResponse(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "hook/1.0")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("accepted"))
	}))
	defer srv.Close()

	const body = `{"kind":"push_access","email":"a@b.com","endpoint_url":"https://localhost/hook"}`
	submit := func(t *testing.T, st *mockStore, detached bool) map[string]any {
		t.Helper()
		ic, audit := newAuditedController(st, srv.Client(), 2*time.Second, detached)
		r := setupRouter(t, ic)

		w, out := post(t, r, strings.Replace(body, "https://localhost", srv.URL, 1))
		audit.Wait()
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
		}
		if _, attempts := st.calls(); attempts != 1 {
			t.Fatalf("audit attempts = %d, want 1", attempts)
		}
		// the date header may tick between runs
		if headers, ok := out["response_headers"].(map[string]any); ok {
			delete(headers, "date")
		}
		return out
	}

	failures := map[string]func(*models.DeliveryAttempt) error{
		"error": func(*models.DeliveryAttempt) error { return errors.New("audit table missing") },
		"panic": func(*models.DeliveryAttempt) error { panic("driver exploded") },
		"slow": func(*models.DeliveryAttempt) error {
			time.Sleep(20 * time.Millisecond)
			return errors.New("too late")
		},
	}

	for _, detached := range []bool{false, true} {
		want := submit(t, &mockStore{}, detached)
		if want["delivered"] != true {
			t.Fatalf("baseline delivery failed: %v", want)
		}

		for name, fail := range failures {
			t.Run(fmt.Sprintf("%s/detached=%v", name, detached), func(t *testing.T) {
				got := submit(t, &mockStore{attemptFunc: fail}, detached)
				if !reflect.DeepEqual(got, want) {
					t.Errorf("response changed by audit failure:\n got  %v\n want %v", got, want)
				}
			})
		}
	}
}

func TestSubmit_NilIdentifierStillSucceeds(t *testing.T) {
	st := &mockStore{createFunc: func(*models.IntegratorRequest) (*string, error) { return nil, nil }}
	r := setupRouter(t, newController(st, nil, 0))

	w, out := post(t, r, `{"kind":"integration","email":"a@b.com"}`)
	if w.Code != http.StatusOK || out["ok"] != true {
		t.Fatalf("got %d %v", w.Code, out)
	}
	if v, ok := out["id"]; !ok || v != nil {
		t.Errorf("id = %v, want null", v)
	}
}

func TestCanary(t *testing.T) {
	r := setupRouter(t, newController(nil, nil, 0))

	req := httptest.NewRequest(http.MethodGet, "/api/_canary", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("x-fw-canary"); got != "api/_canary@"+version.HandlerVersion {
		t.Errorf("x-fw-canary = %q", got)
	}
	if !strings.Contains(w.Body.String(), `"where":"api/_canary"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}
