package integration

import (
	"net/http"
	"testing"

	"github.com/rhuss/toolgate/pkg/tools/manager"
)

func TestReloadAppliesCatalogChanges(t *testing.T) {
	env := setupTestEnvironment(t)

	providers := defaultProviders()
	delete(providers, "metadata")
	forecast := weatherProvider()
	forecast["tool"].(map[string]any)["name"] = "get_forecast"
	providers["forecast"] = forecast
	env.WriteCatalog(t, providers)

	resp := postJSON(t, env.BaseURL()+"/admin/reload", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reload status = %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var summary manager.ReloadSummary
	decodeJSON(t, resp, &summary)

	if len(summary.Added) != 1 || summary.Added[0] != "forecast" {
		t.Errorf("added = %v, want [forecast]", summary.Added)
	}
	if len(summary.Removed) != 1 || summary.Removed[0] != "metadata" {
		t.Errorf("removed = %v, want [metadata]", summary.Removed)
	}
	if len(summary.Unchanged) != 2 {
		t.Errorf("unchanged = %v, want local and weather", summary.Unchanged)
	}
	if summary.Generation < 2 {
		t.Errorf("generation = %d, want a new snapshot", summary.Generation)
	}

	resp = invoke(t, env, "instance_metadata", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("removed tool status = %d, want 404", resp.StatusCode)
	}

	resp = invoke(t, env, "get_forecast", map[string]any{"city": "Oslo"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("added tool status = %d, want 200", resp.StatusCode)
	}

	resp = invoke(t, env, "echo", map[string]any{"text": "still here"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unchanged process tool status = %d, want 200", resp.StatusCode)
	}
}

func TestReloadKeepsCatalogOnParseError(t *testing.T) {
	env := setupTestEnvironment(t)

	if err := writeRaw(env.CatalogPath, "{not json"); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, env.BaseURL()+"/admin/reload", nil)
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatal("reload of an unparseable catalog succeeded")
	}

	resp = invoke(t, env, "echo", map[string]any{"text": "unaffected"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("echo after failed reload = %d, want 200", resp.StatusCode)
	}
}
