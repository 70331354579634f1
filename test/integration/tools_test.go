package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/rhuss/toolgate/pkg/tools"
	"github.com/rhuss/toolgate/pkg/transport"
)

func TestListTools(t *testing.T) {
	env := setupTestEnvironment(t)

	var list transport.ToolList
	decodeJSON(t, getURL(t, env.BaseURL()+"/v1/tools"), &list)

	var names []string
	owners := map[string]string{}
	for _, d := range list.Data {
		names = append(names, d.Name)
		owners[d.Name] = d.Provider
	}
	want := "echo,fail,get_weather,instance_metadata,slow"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("tools = %s, want %s", got, want)
	}
	if owners["echo"] != "local" || owners["get_weather"] != "weather" {
		t.Errorf("owners = %v", owners)
	}
}

func TestInvokeProcessTool(t *testing.T) {
	env := setupTestEnvironment(t)

	resp := invoke(t, env, "echo", map[string]any{"text": "hello from the agent"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var out transport.InvokeResponse
	decodeJSON(t, resp, &out)
	if out.Result.Content != "hello from the agent" {
		t.Errorf("content = %q", out.Result.Content)
	}
	if out.RequestID == "" {
		t.Error("response carries no request id")
	}
}

func TestInvokeHTTPTool(t *testing.T) {
	env := setupTestEnvironment(t)

	resp := invoke(t, env, "get_weather", map[string]any{"city": "Berlin"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var out transport.InvokeResponse
	decodeJSON(t, resp, &out)
	structured, ok := out.Result.Structured.(map[string]any)
	if !ok {
		t.Fatalf("structured = %#v, want object", out.Result.Structured)
	}
	if structured["city"] != "Berlin" || structured["conditions"] != "sunny" {
		t.Errorf("structured = %v", structured)
	}
}

func TestToolLevelErrorIsNotAnInvokeError(t *testing.T) {
	env := setupTestEnvironment(t)

	resp := invoke(t, env, "fail", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out transport.InvokeResponse
	decodeJSON(t, resp, &out)
	if !out.Result.IsError || out.Result.Content != "upstream quota exhausted" {
		t.Errorf("result = %+v", out.Result)
	}
}

func TestInvokeErrors(t *testing.T) {
	env := setupTestEnvironment(t)

	tests := []struct {
		name   string
		tool   string
		args   map[string]any
		status int
		kind   string
	}{
		{"unknown tool", "teleport", nil, http.StatusNotFound, string(tools.NotFound)},
		{"missing required argument", "echo", map[string]any{}, http.StatusBadRequest, string(tools.ValidationFailed)},
		{"wrong argument type", "get_weather", map[string]any{"city": 42}, http.StatusBadRequest, string(tools.ValidationFailed)},
		{"link-local destination", "instance_metadata", nil, http.StatusForbidden, string(tools.DestinationDenied)},
		{"upstream 404", "get_weather", map[string]any{"city": "Atlantis"}, http.StatusBadGateway, string(tools.HTTPStatus)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := invoke(t, env, tt.tool, tt.args)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.status, readBody(t, resp))
			}
			var body transport.ErrorResponse
			decodeJSON(t, resp, &body)
			if body.Error.Type != tt.kind {
				t.Errorf("error type = %q, want %q", body.Error.Type, tt.kind)
			}
		})
	}
}

func TestInvokeRejectsNonJSON(t *testing.T) {
	env := setupTestEnvironment(t)

	resp, err := http.Post(env.BaseURL()+"/v1/tools/echo/invoke", "text/plain", strings.NewReader("hi"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", resp.StatusCode)
	}
}
