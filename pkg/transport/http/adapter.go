package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/toolgate/pkg/auth"
	"github.com/rhuss/toolgate/pkg/observability"
	"github.com/rhuss/toolgate/pkg/storage"
	"github.com/rhuss/toolgate/pkg/tools/catalog"
	"github.com/rhuss/toolgate/pkg/transport"
)

// Adapter serves the tool catalog, invocation and admin API over HTTP.
type Adapter struct {
	invoker  transport.ToolInvoker
	catalog  transport.Catalog
	reloader transport.Reloader // nil disables POST /admin/reload
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64

	// MetricsPath serves the Prometheus registry. Empty disables it.
	MetricsPath string

	// Auth wraps every route except the bypass endpoints it was built
	// with. Nil serves without authentication.
	Auth func(http.Handler) http.Handler

	// AdminScope is required on admin routes when Auth is set. Callers
	// without it only see their own invocation history.
	AdminScope string

	// History records completed invocations and serves /v1/history. Nil
	// disables both.
	History transport.InvocationStore
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 1 << 20, // 1 MB
		MetricsPath: "/metrics",
		AdminScope:  "admin",
	}
}

// NewAdapter creates an HTTP adapter. Middleware is applied to the invoker
// in the given order, followed by history recording and, innermost,
// in-flight tracking.
func NewAdapter(invoker transport.ToolInvoker, cat transport.Catalog, reloader transport.Reloader, cfg Config, middlewares ...transport.Middleware) *Adapter {
	a := &Adapter{
		catalog:  cat,
		reloader: reloader,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
	}
	var recording transport.Middleware
	if cfg.History != nil {
		recording = transport.Recording(cfg.History, transport.ProviderLookup(cat))
	}
	a.invoker = transport.Chain(
		transport.Chain(middlewares...),
		recording,
		transport.Tracking(a.inflight),
	)(invoker)

	a.mux.HandleFunc("GET /v1/tools", a.handleListTools)
	a.mux.HandleFunc("GET /v1/tools/{name}", a.handleGetTool)
	a.mux.HandleFunc("POST /v1/tools/{name}/invoke", a.handleInvoke)
	a.mux.HandleFunc("GET /v1/providers", a.handleListProviders)
	a.mux.HandleFunc("GET /v1/invocations", a.handleListInvocations)
	a.mux.HandleFunc("DELETE /v1/invocations/{id}", a.handleCancelInvocation)
	if cfg.History != nil {
		a.mux.HandleFunc("GET /v1/history", a.handleListHistory)
		a.mux.HandleFunc("GET /v1/history/{id}", a.handleGetHistory)
	}
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)

	reload := http.Handler(http.HandlerFunc(a.handleReload))
	if cfg.Auth != nil && cfg.AdminScope != "" {
		reload = auth.RequireScope(cfg.AdminScope, reload)
	}
	a.mux.Handle("POST /admin/reload", reload)

	if cfg.MetricsPath != "" {
		a.mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. Request IDs are assigned
// before authentication so that rejected requests carry one too.
func (a *Adapter) Handler() http.Handler {
	h := observability.HTTPMetrics(a.mux)
	if a.config.Auth != nil {
		h = a.config.Auth(h)
	}
	return httpRequestIDMiddleware(h)
}

// httpRequestIDMiddleware propagates the X-Request-ID header into the
// request context, generating one when the client sent none, and echoes
// it on the response.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(transport.ContextWithRequestID(r.Context(), id)))
	})
}

// handleListTools handles GET /v1/tools.
func (a *Adapter) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, transport.ToolList{Object: "list", Data: a.catalog.Catalog()})
}

// handleGetTool handles GET /v1/tools/{name}.
func (a *Adapter) handleGetTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	for _, d := range a.catalog.Catalog() {
		if d.Name == name {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}
	transport.WriteErrorResponse(w, transport.ErrorBody{
		Type:    transport.ErrorTypeNotFound,
		Message: fmt.Sprintf("tool %q not found", name),
		Tool:    name,
	}, http.StatusNotFound)
}

// handleInvoke handles POST /v1/tools/{name}/invoke.
func (a *Adapter) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			transport.WriteErrorResponse(w, transport.ErrorBody{
				Type:    transport.ErrorTypeInvalidRequest,
				Message: "Content-Type must be application/json",
			}, http.StatusUnsupportedMediaType)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req transport.InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w, transport.ErrorBody{
				Type:    transport.ErrorTypeInvalidRequest,
				Message: fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize),
			}, http.StatusRequestEntityTooLarge)
			return
		}
		transport.WriteErrorResponse(w, transport.ErrorBody{
			Type:    transport.ErrorTypeInvalidRequest,
			Message: "invalid JSON: " + err.Error(),
		}, http.StatusBadRequest)
		return
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}

	name := r.PathValue("name")
	res, err := a.invoker.Invoke(r.Context(), name, req.Arguments)
	if err != nil {
		transport.WriteInvokeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transport.InvokeResponse{
		Tool:      name,
		RequestID: transport.RequestIDFromContext(r.Context()),
		Result:    res,
	})
}

// handleListProviders handles GET /v1/providers.
func (a *Adapter) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, transport.ProviderList{Object: "list", Data: a.catalog.Providers()})
}

// handleListInvocations handles GET /v1/invocations.
func (a *Adapter) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": a.inflight.List()})
}

// handleCancelInvocation handles DELETE /v1/invocations/{id}.
func (a *Adapter) handleCancelInvocation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.inflight.Cancel(id) {
		transport.WriteErrorResponse(w, transport.ErrorBody{
			Type:    transport.ErrorTypeNotFound,
			Message: fmt.Sprintf("no running invocation %q", id),
		}, http.StatusNotFound)
		return
	}
	slog.Info("invocation cancelled", "request_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "cancelled": true})
}

// handleListHistory handles GET /v1/history.
func (a *Adapter) handleListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := transport.ListOptions{
		After:    q.Get("after"),
		Tool:     q.Get("tool"),
		Provider: q.Get("provider"),
		Outcome:  q.Get("outcome"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			transport.WriteErrorResponse(w, transport.ErrorBody{
				Type:    transport.ErrorTypeInvalidRequest,
				Message: fmt.Sprintf("limit must be a positive integer, got %q", v),
			}, http.StatusBadRequest)
			return
		}
		opts.Limit = n
	}

	ctx, ok := a.historyContext(r)
	if !ok {
		writeUnauthenticated(w)
		return
	}
	list, err := a.config.History.ListInvocations(ctx, opts)
	if err != nil {
		slog.Error("listing invocation history", "error", err)
		transport.WriteErrorResponse(w, transport.ErrorBody{
			Type:    transport.ErrorTypeServerError,
			Message: "listing invocation history failed",
		}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetHistory handles GET /v1/history/{id}.
func (a *Adapter) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, ok := a.historyContext(r)
	if !ok {
		writeUnauthenticated(w)
		return
	}
	inv, err := a.config.History.GetInvocation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		transport.WriteErrorResponse(w, transport.ErrorBody{
			Type:    transport.ErrorTypeNotFound,
			Message: fmt.Sprintf("invocation %q not found", id),
		}, http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("reading invocation history", "request_id", id, "error", err)
		transport.WriteErrorResponse(w, transport.ErrorBody{
			Type:    transport.ErrorTypeServerError,
			Message: "reading invocation history failed",
		}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// historyContext restricts history reads to the caller's own records
// unless the caller holds the admin scope. It reports false when auth is
// enabled but the request carries no identity.
func (a *Adapter) historyContext(r *http.Request) (context.Context, bool) {
	ctx := r.Context()
	if a.config.Auth == nil {
		return ctx, true
	}
	id := auth.IdentityFromContext(ctx)
	if id == nil || id.Subject == "" {
		return nil, false
	}
	if a.config.AdminScope != "" && id.HasScope(a.config.AdminScope) {
		return ctx, true
	}
	return storage.SetOwner(ctx, id.Subject), true
}

func writeUnauthenticated(w http.ResponseWriter) {
	transport.WriteErrorResponse(w, transport.ErrorBody{
		Type:    "unauthenticated",
		Message: "authentication required",
	}, http.StatusUnauthorized)
}

// handleReload handles POST /admin/reload.
func (a *Adapter) handleReload(w http.ResponseWriter, r *http.Request) {
	if a.reloader == nil {
		transport.WriteErrorResponse(w, transport.ErrorBody{
			Type:    transport.ErrorTypeInvalidRequest,
			Message: "reload is not configured",
		}, http.StatusNotImplemented)
		return
	}

	summary, err := a.reloader.Reload(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		errType := transport.ErrorTypeServerError
		var cfgErr *catalog.ConfigError
		if errors.As(err, &cfgErr) {
			status = http.StatusBadRequest
			errType = transport.ErrorTypeInvalidRequest
		}
		transport.WriteErrorResponse(w, transport.ErrorBody{Type: errType, Message: err.Error()}, status)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !a.catalog.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	if a.config.History != nil {
		if err := a.config.History.HealthCheck(r.Context()); err != nil {
			slog.Warn("history store unhealthy", "error", err)
			http.Error(w, "history store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
