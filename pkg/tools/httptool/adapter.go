package httptool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/tools"
	"github.com/rhuss/toolgate/pkg/tools/catalog"
	"github.com/rhuss/toolgate/pkg/tools/credentials"
	"github.com/rhuss/toolgate/pkg/tools/schema"
)

const (
	// DefaultTimeout bounds a single HTTP tool call.
	DefaultTimeout = 10 * time.Second

	// MaxResponseBytes caps the response body read from a tool endpoint.
	MaxResponseBytes = 1 << 20
)

// Options carries the shared dependencies of HTTP adapters.
type Options struct {
	AllowList *AllowList
	Auth      *credentials.Registry

	// Client is shared by every adapter. Nil builds a guarded client
	// from AllowList.
	Client *http.Client

	// Timeout overrides the per-call default when the descriptor does
	// not set one.
	Timeout time.Duration
}

// placeholder matches a path parameter left in a URL template.
var placeholder = regexp.MustCompile(`\{[^{}/]*\}`)

// Adapter exposes one HTTP endpoint as a single tool.
type Adapter struct {
	name      string
	spec      catalog.HTTPSpec
	allow     *AllowList
	auth      *credentials.Registry
	client    *http.Client
	validator *schema.Validator
	timeout   time.Duration
}

// NewAdapter creates an adapter for an HTTP provider descriptor.
func NewAdapter(desc *catalog.ProviderDescriptor, opts Options) (*Adapter, error) {
	if desc.HTTP == nil {
		return nil, fmt.Errorf("provider %q has no http section", desc.Name)
	}
	v, err := schema.Compile(desc.HTTP.Tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", desc.Name, err)
	}
	client := opts.Client
	if client == nil {
		client = NewClient(opts.AllowList, nil)
	}
	auth := opts.Auth
	if auth == nil {
		auth = credentials.Default(client)
	}
	timeout := desc.HTTP.Timeout
	if timeout <= 0 {
		timeout = opts.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{
		name:      desc.Name,
		spec:      *desc.HTTP,
		allow:     opts.AllowList,
		auth:      auth,
		client:    client,
		validator: v,
		timeout:   timeout,
	}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Kind() tools.ProviderKind { return tools.KindHTTP }

// Connect opens no connection. HTTP providers are validated lazily on
// each call; Connect only logs a warning when Preflight already knows
// that calls will be rejected.
func (a *Adapter) Connect(_ context.Context) error {
	if err := a.Preflight(); err != nil {
		slog.Warn("http provider destination will be rejected", "provider", a.name, "error", err)
		return nil
	}
	debug.Log("http", "http provider registered", "provider", a.name, "method", a.spec.Method)
	return nil
}

// Preflight checks the configured endpoint, and the token endpoint of an
// OAuth strategy, against the allow-list without any I/O. URLs with path
// placeholders are checked on their origin only.
func (a *Adapter) Preflight() error {
	u, err := url.Parse(a.spec.URL)
	if err != nil {
		return err
	}
	if err := a.allow.Check(u); err != nil {
		return err
	}
	return a.checkTokenURL()
}

// checkTokenURL applies the allow-list to the token endpoint of an OAuth
// strategy. Credentials are posted there, so it gets the same treatment
// as the tool endpoint.
func (a *Adapter) checkTokenURL() error {
	if a.spec.Auth == nil || a.spec.Auth.TokenURL == "" {
		return nil
	}
	tu, err := url.Parse(a.spec.Auth.TokenURL)
	if err == nil {
		err = a.allow.Check(tu)
	}
	if err != nil {
		return fmt.Errorf("token_url: %w", err)
	}
	return nil
}

// Discover returns the single configured tool.
func (a *Adapter) Discover(_ context.Context) ([]tools.ToolDefinition, error) {
	return []tools.ToolDefinition{a.spec.Tool}, nil
}

// Close releases idle connections held for this adapter's client.
func (a *Adapter) Close(_ context.Context) error {
	a.client.CloseIdleConnections()
	return nil
}

// Invoke performs the HTTP call for tool.
func (a *Adapter) Invoke(ctx context.Context, tool string, args map[string]any) (*tools.ToolResult, error) {
	if tool != a.spec.Tool.Name {
		return nil, tools.NewInvokeError(tools.NotFound, "provider %q has no tool %q", a.name, tool).WithTool(tool, a.name)
	}
	args, err := a.validator.Validate(args)
	if err != nil {
		return nil, &tools.InvokeError{Kind: tools.ValidationFailed, Tool: tool, Provider: a.name, Cause: err}
	}

	req, err := a.buildRequest(ctx, args)
	if err != nil {
		return nil, &tools.InvokeError{Kind: tools.ValidationFailed, Tool: tool, Provider: a.name, Message: "building request", Cause: err}
	}

	if err := a.allow.Check(req.URL); err != nil {
		debug.Log("http", "destination rejected", "provider", a.name, "error", err)
		return nil, &tools.InvokeError{Kind: tools.DestinationDenied, Tool: tool, Provider: a.name, Cause: err}
	}

	if a.spec.Auth != nil {
		if err := a.checkTokenURL(); err != nil {
			debug.Log("http", "token endpoint rejected", "provider", a.name, "error", err)
			return nil, &tools.InvokeError{Kind: tools.DestinationDenied, Tool: tool, Provider: a.name, Cause: err}
		}
		h, err := a.auth.Apply(ctx, a.spec.Auth.Type, *a.spec.Auth, req.Header)
		if err != nil {
			slog.Warn("http tool authentication failed", "provider", a.name, "strategy", a.spec.Auth.Type, "error", err)
			return nil, &tools.InvokeError{Kind: tools.AuthFailed, Tool: tool, Provider: a.name, Cause: err}
		}
		req.Header = h
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	req = req.WithContext(callCtx)

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, a.transportError(ctx, callCtx, tool, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return nil, a.transportError(ctx, callCtx, tool, err)
	}
	truncated := len(body) > MaxResponseBytes
	if truncated {
		body = body[:MaxResponseBytes]
		slog.Warn("http tool response truncated", "provider", a.name, "tool", tool, "limit", MaxResponseBytes)
	}
	debug.Log("http", "http tool call", "provider", a.name, "status", resp.StatusCode,
		"bytes", len(body), "truncated", truncated, "duration", time.Since(start))
	if debug.TraceIsEnabled("http") {
		debug.Raw("http", string(body))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &tools.InvokeError{
			Kind:     tools.HTTPStatus,
			Tool:     tool,
			Provider: a.name,
			Status:   resp.StatusCode,
			Message:  statusHint(resp.StatusCode) + bodySnippet(body),
		}
	}
	return decodeBody(resp.Header.Get("Content-Type"), body, truncated), nil
}

// buildRequest maps args onto the URL, query, headers and body.
func (a *Adapter) buildRequest(ctx context.Context, args map[string]any) (*http.Request, error) {
	method := strings.ToUpper(a.spec.Method)
	if method == "" {
		method = http.MethodGet
	}

	rawURL := a.spec.URL
	query := url.Values{}
	header := http.Header{}
	body := map[string]any{}

	for name, value := range args {
		target := a.spec.ParamMapping[name]
		if target == "" {
			target = name
		}
		loc, field, ok := strings.Cut(target, ".")
		if !ok {
			loc, field = defaultLocation(method), target
		}
		switch loc {
		case "path":
			rawURL = strings.ReplaceAll(rawURL, "{"+field+"}", url.PathEscape(stringify(value)))
		case "query":
			query.Set(field, stringify(value))
		case "header":
			header.Set(field, stringify(value))
		case "body":
			body[field] = value
		default:
			return nil, fmt.Errorf("argument %q: unsupported target %q", name, target)
		}
	}

	if m := placeholder.FindString(rawURL); m != "" {
		return nil, fmt.Errorf("no argument supplied for path parameter %s", m)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if len(body) > 0 {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
		header.Set("Content-Type", "application/json")
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.5")
	return req, nil
}

func (a *Adapter) transportError(parent, callCtx context.Context, tool string, err error) error {
	var denied *DeniedError
	if errors.As(err, &denied) {
		debug.Log("http", "destination rejected", "provider", a.name, "error", denied)
		return &tools.InvokeError{Kind: tools.DestinationDenied, Tool: tool, Provider: a.name, Cause: denied}
	}
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return fmt.Errorf("http tool %q: %w", tool, parent.Err())
	case errors.Is(parent.Err(), context.DeadlineExceeded):
		return &tools.InvokeError{Kind: tools.Timeout, Tool: tool, Provider: a.name,
			Message: "caller deadline expired", Cause: parent.Err()}
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return &tools.InvokeError{Kind: tools.Timeout, Tool: tool, Provider: a.name,
			Message: fmt.Sprintf("no response within %s", a.timeout), Cause: err}
	}
	return &tools.InvokeError{Kind: tools.ProviderUnavailable, Tool: tool, Provider: a.name, Cause: err}
}

func defaultLocation(method string) string {
	switch method {
	case http.MethodGet, http.MethodDelete, http.MethodHead:
		return "query"
	}
	return "body"
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int, int64, bool:
		return fmt.Sprint(x)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func statusHint(code int) string {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "check the provider credentials"
	case code == http.StatusNotFound:
		return "check the configured URL"
	case code == http.StatusTooManyRequests:
		return "rate limited by upstream"
	case code >= 500:
		return "upstream service failure"
	}
	return "unexpected status"
}

func bodySnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return ""
	}
	return ": " + debug.Truncate(s, 200)
}

// decodeBody turns a successful response into a ToolResult. JSON bodies
// also populate Structured.
func decodeBody(contentType string, body []byte, truncated bool) *tools.ToolResult {
	res := &tools.ToolResult{Content: string(body), Truncated: truncated}
	if truncated {
		return res
	}
	if !strings.Contains(contentType, "json") && !json.Valid(body) {
		return res
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return res
	}
	res.Structured = v
	if pretty, err := json.MarshalIndent(v, "", "  "); err == nil {
		res.Content = string(pretty)
	}
	return res
}
