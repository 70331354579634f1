package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/rhuss/toolgate/pkg/tools/manager"
	"github.com/rhuss/toolgate/pkg/transport"
)

func TestHealthEndpoint(t *testing.T) {
	env := setupTestEnvironment(t)

	resp := getURL(t, env.BaseURL()+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, "ok") {
		t.Errorf("body = %q, want to contain 'ok'", body)
	}
}

func TestReadinessAfterStart(t *testing.T) {
	env := setupTestEnvironment(t)

	resp := getURL(t, env.BaseURL()+"/readyz")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 once started, got %d", resp.StatusCode)
	}
}

func TestProvidersEndpoint(t *testing.T) {
	env := setupTestEnvironment(t)

	var list transport.ProviderList
	decodeJSON(t, getURL(t, env.BaseURL()+"/v1/providers"), &list)

	byName := map[string]manager.ProviderStatus{}
	for _, p := range list.Data {
		byName[p.Name] = p
	}
	local, ok := byName["local"]
	if !ok {
		t.Fatalf("providers = %+v, missing local", list.Data)
	}
	if local.State != manager.StateServing || local.Tools != 3 || local.PID == 0 {
		t.Errorf("local = %+v, want serving with 3 tools and a pid", local)
	}
	if byName["weather"].State != manager.StateServing {
		t.Errorf("weather = %+v", byName["weather"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestEnvironment(t)

	invoke(t, env, "echo", map[string]any{"text": "count me"}).Body.Close()

	body := readBody(t, getURL(t, env.BaseURL()+"/metrics"))
	for _, name := range []string{
		"toolgate_tool_invocations_total",
		"toolgate_provider_up",
		"toolgate_catalog_actions",
		"toolgate_requests_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
