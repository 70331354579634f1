package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rhuss/toolgate/pkg/auth"
	"github.com/rhuss/toolgate/pkg/tools"
	"github.com/rhuss/toolgate/pkg/tools/catalog"
	"github.com/rhuss/toolgate/pkg/tools/manager"
	"github.com/rhuss/toolgate/pkg/transport"
)

type stubCatalog struct {
	actions   []tools.ActionDescriptor
	providers []manager.ProviderStatus
	ready     bool
}

func (c *stubCatalog) Catalog() []tools.ActionDescriptor   { return c.actions }
func (c *stubCatalog) Providers() []manager.ProviderStatus { return c.providers }
func (c *stubCatalog) Ready() bool                         { return c.ready }

func newStubCatalog() *stubCatalog {
	return &stubCatalog{
		actions: []tools.ActionDescriptor{
			{Name: "echo", Description: "Echo text", Provider: "local", InputSchema: map[string]any{"type": "object"}},
			{Name: "fetch", Description: "Fetch a page", Provider: "remote", InputSchema: map[string]any{"type": "object"}},
		},
		providers: []manager.ProviderStatus{
			{Name: "local", Kind: tools.KindProcess, State: manager.StateServing, Tools: 1},
			{Name: "remote", Kind: tools.KindHTTP, State: manager.StateServing, Tools: 1},
		},
		ready: true,
	}
}

// echoInvoker returns the "text" argument, and typed errors for a few
// reserved tool names.
func echoInvoker() transport.ToolInvoker {
	return transport.ToolInvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
		switch name {
		case "echo":
			text, _ := args["text"].(string)
			return &tools.ToolResult{Content: text}, nil
		case "fetch":
			return nil, &tools.InvokeError{Kind: tools.DestinationDenied, Tool: "fetch", Provider: "remote", Message: "http://10.0.0.5/x is not allowed"}
		case "slow":
			<-ctx.Done()
			return nil, ctx.Err()
		default:
			return nil, &tools.InvokeError{Kind: tools.NotFound, Tool: name, Message: "unknown action"}
		}
	})
}

func newTestAdapter(cfg Config, reloader transport.Reloader) (*Adapter, *stubCatalog) {
	cat := newStubCatalog()
	return NewAdapter(echoInvoker(), cat, reloader, cfg, transport.Recovery(), transport.RequestID()), cat
}

func doRequest(t *testing.T, h http.Handler, method, path string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) transport.ErrorBody {
	t.Helper()
	var resp transport.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return resp.Error
}

func TestListTools(t *testing.T) {
	a, _ := newTestAdapter(DefaultConfig(), nil)
	rec := doRequest(t, a.Handler(), "GET", "/v1/tools", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var list transport.ToolList
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 2 || list.Data[0].Name != "echo" {
		t.Errorf("list = %+v", list)
	}
}

func TestGetTool(t *testing.T) {
	a, _ := newTestAdapter(DefaultConfig(), nil)

	rec := doRequest(t, a.Handler(), "GET", "/v1/tools/fetch", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var d tools.ActionDescriptor
	json.NewDecoder(rec.Body).Decode(&d)
	if d.Provider != "remote" {
		t.Errorf("descriptor = %+v", d)
	}

	rec = doRequest(t, a.Handler(), "GET", "/v1/tools/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing tool status = %d, want 404", rec.Code)
	}
}

func TestInvokeSuccess(t *testing.T) {
	a, _ := newTestAdapter(DefaultConfig(), nil)
	rec := doRequest(t, a.Handler(), "POST", "/v1/tools/echo/invoke",
		strings.NewReader(`{"arguments":{"text":"hi"}}`), "X-Request-ID", "req-42")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
	var resp transport.InvokeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tool != "echo" || resp.RequestID != "req-42" || resp.Result.Content != "hi" {
		t.Errorf("response = %+v", resp)
	}
}

func TestInvokeEmptyBody(t *testing.T) {
	a, _ := newTestAdapter(DefaultConfig(), nil)
	rec := doRequest(t, a.Handler(), "POST", "/v1/tools/echo/invoke", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}
}

func TestInvokeErrors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		ctype      string
		wantStatus int
		wantType   string
	}{
		{"unknown tool", "/v1/tools/nope/invoke", `{}`, "application/json", http.StatusNotFound, "not_found"},
		{"denied destination", "/v1/tools/fetch/invoke", `{}`, "application/json", http.StatusForbidden, "destination_denied"},
		{"invalid json", "/v1/tools/echo/invoke", `{"arguments":`, "application/json", http.StatusBadRequest, transport.ErrorTypeInvalidRequest},
		{"wrong content type", "/v1/tools/echo/invoke", `text=hi`, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType, transport.ErrorTypeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAdapter(DefaultConfig(), nil)
			req := httptest.NewRequest("POST", tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.ctype)
			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := decodeError(t, rec); got.Type != tt.wantType {
				t.Errorf("error type = %q, want %q", got.Type, tt.wantType)
			}
		})
	}
}

func TestInvokeBodyTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBodySize = 32
	a, _ := newTestAdapter(cfg, nil)

	body := `{"arguments":{"text":"` + strings.Repeat("x", 100) + `"}}`
	rec := doRequest(t, a.Handler(), "POST", "/v1/tools/echo/invoke", strings.NewReader(body))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestCancelRunningInvocation(t *testing.T) {
	a, _ := newTestAdapter(DefaultConfig(), nil)
	h := a.Handler()

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- doRequest(t, h, "POST", "/v1/tools/slow/invoke", strings.NewReader(`{}`), "X-Request-ID", "req-slow")
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(a.inflight.List()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("invocation never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := doRequest(t, h, "GET", "/v1/invocations", nil)
	if !strings.Contains(rec.Body.String(), "req-slow") {
		t.Errorf("in-flight list = %s, want req-slow", rec.Body.String())
	}

	rec = doRequest(t, h, "DELETE", "/v1/invocations/req-slow", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", rec.Code)
	}

	res := <-done
	if res.Code != transport.StatusClientClosedRequest {
		t.Errorf("cancelled invocation status = %d, want %d", res.Code, transport.StatusClientClosedRequest)
	}

	rec = doRequest(t, h, "DELETE", "/v1/invocations/req-slow", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second cancel status = %d, want 404", rec.Code)
	}
}

func TestListProviders(t *testing.T) {
	a, _ := newTestAdapter(DefaultConfig(), nil)
	rec := doRequest(t, a.Handler(), "GET", "/v1/providers", nil)

	var list transport.ProviderList
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Data) != 2 || list.Data[1].Kind != tools.KindHTTP {
		t.Errorf("providers = %+v", list.Data)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	a, cat := newTestAdapter(DefaultConfig(), nil)
	h := a.Handler()

	if rec := doRequest(t, h, "GET", "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}
	if rec := doRequest(t, h, "GET", "/readyz", nil); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d, want 200", rec.Code)
	}
	cat.ready = false
	if rec := doRequest(t, h, "GET", "/readyz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before start = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a, _ := newTestAdapter(DefaultConfig(), nil)
	h := a.Handler()
	doRequest(t, h, "GET", "/v1/tools", nil)

	rec := doRequest(t, h, "GET", "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "toolgate_requests_total") {
		t.Error("metrics output missing toolgate_requests_total")
	}

	cfg := DefaultConfig()
	cfg.MetricsPath = ""
	a, _ = newTestAdapter(cfg, nil)
	if rec := doRequest(t, a.Handler(), "GET", "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Errorf("disabled metrics status = %d, want 404", rec.Code)
	}
}

func TestReload(t *testing.T) {
	var calls atomic.Int32
	reloader := transport.ReloaderFunc(func(ctx context.Context) (*manager.ReloadSummary, error) {
		if calls.Add(1) == 2 {
			return nil, &catalog.ConfigError{Kind: catalog.MissingField, Provider: "broken", Field: "command"}
		}
		return &manager.ReloadSummary{Generation: 3, Unchanged: []string{"local"}}, nil
	})
	a, _ := newTestAdapter(DefaultConfig(), reloader)
	h := a.Handler()

	rec := doRequest(t, h, "POST", "/admin/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload status = %d: %s", rec.Code, rec.Body.String())
	}
	var summary manager.ReloadSummary
	json.NewDecoder(rec.Body).Decode(&summary)
	if summary.Generation != 3 {
		t.Errorf("summary = %+v", summary)
	}

	rec = doRequest(t, h, "POST", "/admin/reload", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad catalog reload status = %d, want 400", rec.Code)
	}

	a, _ = newTestAdapter(DefaultConfig(), nil)
	if rec := doRequest(t, a.Handler(), "POST", "/admin/reload", nil); rec.Code != http.StatusNotImplemented {
		t.Errorf("unconfigured reload status = %d, want 501", rec.Code)
	}
}

func TestAuthentication(t *testing.T) {
	chain := &auth.Chain{
		Authenticators: []auth.Authenticator{&keyAuthn{keys: map[string]*auth.Identity{
			"user-key":  {Subject: "alice", Scopes: []string{"invoke"}},
			"admin-key": {Subject: "ops", Scopes: []string{"admin"}},
		}}},
		DefaultDecision: auth.No,
	}
	cfg := DefaultConfig()
	cfg.Auth = auth.Middleware(chain, nil, auth.DefaultBypassEndpoints)

	reloader := transport.ReloaderFunc(func(ctx context.Context) (*manager.ReloadSummary, error) {
		return &manager.ReloadSummary{}, nil
	})
	a, _ := newTestAdapter(cfg, reloader)
	h := a.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"health bypasses auth", "GET", "/healthz", "", http.StatusOK},
		{"metrics bypasses auth", "GET", "/metrics", "", http.StatusOK},
		{"catalog needs a key", "GET", "/v1/tools", "", http.StatusUnauthorized},
		{"catalog with key", "GET", "/v1/tools", "user-key", http.StatusOK},
		{"reload without admin scope", "POST", "/admin/reload", "user-key", http.StatusForbidden},
		{"reload with admin scope", "POST", "/admin/reload", "admin-key", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.key != "" {
				headers = []string{"Authorization", "Bearer " + tt.key}
			}
			rec := doRequest(t, h, tt.method, tt.path, nil, headers...)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("response carries no X-Request-ID")
			}
		})
	}
}

type keyAuthn struct {
	keys map[string]*auth.Identity
}

func (k *keyAuthn) Authenticate(_ context.Context, r *http.Request) auth.Result {
	key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if key == "" {
		return auth.Result{Decision: auth.Abstain}
	}
	if id, ok := k.keys[key]; ok {
		return auth.Result{Decision: auth.Yes, Identity: id}
	}
	return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	return bytes.NewReader(data)
}
