package http

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/rhuss/toolgate/pkg/auth"
	"github.com/rhuss/toolgate/pkg/storage"
	"github.com/rhuss/toolgate/pkg/storage/memory"
	"github.com/rhuss/toolgate/pkg/transport"
)

func decodeHistory(t *testing.T, body []byte) transport.InvocationList {
	t.Helper()
	var list transport.InvocationList
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decoding history: %v\n%s", err, body)
	}
	return list
}

func TestHistoryRecordsInvocations(t *testing.T) {
	store := memory.New(0)
	cfg := DefaultConfig()
	cfg.History = store
	a, _ := newTestAdapter(cfg, nil)
	h := a.Handler()

	rec := doRequest(t, h, "POST", "/v1/tools/echo/invoke", jsonBody(t, map[string]any{
		"arguments": map[string]any{"text": "hi"},
	}), "X-Request-ID", "req-echo")
	if rec.Code != http.StatusOK {
		t.Fatalf("invoke status = %d", rec.Code)
	}
	doRequest(t, h, "POST", "/v1/tools/fetch/invoke", jsonBody(t, map[string]any{}), "X-Request-ID", "req-fetch")

	rec = doRequest(t, h, "GET", "/v1/history/req-echo", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", rec.Code, rec.Body.String())
	}
	var inv storage.Invocation
	json.NewDecoder(rec.Body).Decode(&inv)
	if inv.Tool != "echo" || inv.Provider != "local" || inv.Outcome != storage.OutcomeOK {
		t.Errorf("echo record = %+v", inv)
	}

	rec = doRequest(t, h, "GET", "/v1/history?outcome=destination_denied", nil)
	list := decodeHistory(t, rec.Body.Bytes())
	if len(list.Data) != 1 || list.Data[0].ID != "req-fetch" || list.Data[0].Provider != "remote" {
		t.Errorf("denied list = %+v", list.Data)
	}

	rec = doRequest(t, h, "GET", "/v1/history?limit=1", nil)
	list = decodeHistory(t, rec.Body.Bytes())
	if len(list.Data) != 1 || !list.HasMore {
		t.Errorf("limited list = %+v", list)
	}
}

func TestHistoryErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.History = memory.New(0)
	a, _ := newTestAdapter(cfg, nil)
	h := a.Handler()

	if rec := doRequest(t, h, "GET", "/v1/history/missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing record status = %d, want 404", rec.Code)
	}
	if rec := doRequest(t, h, "GET", "/v1/history?limit=zero", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestHistoryDisabledWithoutStore(t *testing.T) {
	a, _ := newTestAdapter(DefaultConfig(), nil)
	if rec := doRequest(t, a.Handler(), "GET", "/v1/history", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when history is off", rec.Code)
	}
}

func TestHistoryScopedToCaller(t *testing.T) {
	chain := &auth.Chain{
		Authenticators: []auth.Authenticator{&keyAuthn{keys: map[string]*auth.Identity{
			"alice-key": {Subject: "alice", Scopes: []string{"invoke"}},
			"bob-key":   {Subject: "bob", Scopes: []string{"invoke"}},
			"admin-key": {Subject: "ops", Scopes: []string{"admin"}},
		}}},
		DefaultDecision: auth.No,
	}
	cfg := DefaultConfig()
	cfg.Auth = auth.Middleware(chain, nil, auth.DefaultBypassEndpoints)
	cfg.History = memory.New(0)
	a, _ := newTestAdapter(cfg, nil)
	h := a.Handler()

	doRequest(t, h, "POST", "/v1/tools/echo/invoke", jsonBody(t, map[string]any{}),
		"Authorization", "Bearer alice-key", "X-Request-ID", "req-alice")
	doRequest(t, h, "POST", "/v1/tools/echo/invoke", jsonBody(t, map[string]any{}),
		"Authorization", "Bearer bob-key", "X-Request-ID", "req-bob")

	tests := []struct {
		key  string
		want int
	}{
		{"alice-key", 1},
		{"bob-key", 1},
		{"admin-key", 2},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			rec := doRequest(t, h, "GET", "/v1/history", nil, "Authorization", "Bearer "+tt.key)
			list := decodeHistory(t, rec.Body.Bytes())
			if len(list.Data) != tt.want {
				t.Errorf("listed %d records, want %d", len(list.Data), tt.want)
			}
		})
	}

	if rec := doRequest(t, h, "GET", "/v1/history/req-alice", nil, "Authorization", "Bearer bob-key"); rec.Code != http.StatusNotFound {
		t.Errorf("bob reading alice's record: status = %d, want 404", rec.Code)
	}
	if rec := doRequest(t, h, "GET", "/v1/history/req-alice", nil, "Authorization", "Bearer alice-key"); rec.Code != http.StatusOK {
		t.Errorf("alice reading own record: status = %d, want 200", rec.Code)
	}
}
