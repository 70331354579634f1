package transport

import (
	"context"

	"github.com/rhuss/toolgate/pkg/storage"
	"github.com/rhuss/toolgate/pkg/tools"
	"github.com/rhuss/toolgate/pkg/tools/manager"
)

// ToolInvoker runs a named action with decoded JSON arguments.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error)
}

// ToolInvokerFunc is an adapter that allows using an ordinary function
// as a ToolInvoker.
type ToolInvokerFunc func(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error)

// Invoke calls f(ctx, name, args).
func (f ToolInvokerFunc) Invoke(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
	return f(ctx, name, args)
}

// Catalog is the read side of the tool manager.
type Catalog interface {
	// Catalog returns the published actions sorted by name.
	Catalog() []tools.ActionDescriptor

	// Providers reports per-provider state.
	Providers() []manager.ProviderStatus

	// Ready reports whether the initial start completed.
	Ready() bool
}

// Reloader re-reads the provider catalog and applies the difference.
type Reloader interface {
	Reload(ctx context.Context) (*manager.ReloadSummary, error)
}

// ReloaderFunc is an adapter that allows using an ordinary function as a
// Reloader.
type ReloaderFunc func(ctx context.Context) (*manager.ReloadSummary, error)

// Reload calls f(ctx).
func (f ReloaderFunc) Reload(ctx context.Context) (*manager.ReloadSummary, error) {
	return f(ctx)
}

// InvocationStore records completed invocations. Implementations scope
// reads by the owner in the context (see storage.SetOwner).
type InvocationStore interface {
	// SaveInvocation persists a completed invocation.
	SaveInvocation(ctx context.Context, inv *storage.Invocation) error

	// GetInvocation retrieves an invocation by request id.
	GetInvocation(ctx context.Context, id string) (*storage.Invocation, error)

	// ListInvocations returns invocations, newest first.
	ListInvocations(ctx context.Context, opts ListOptions) (*InvocationList, error)

	// HealthCheck verifies the store backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// ListOptions configures history listing.
type ListOptions struct {
	// After is a cursor: only invocations older than this id are returned.
	After string

	// Limit is the page size (default 20, max 100).
	Limit int

	// Tool and Provider filter by exact match when set.
	Tool     string
	Provider string

	// Outcome filters by outcome ("success", "tool_error" or an error kind).
	Outcome string
}

// InvocationList is the body of GET /v1/history.
type InvocationList struct {
	Object  string                `json:"object"`
	Data    []*storage.Invocation `json:"data"`
	HasMore bool                  `json:"has_more"`
	FirstID string                `json:"first_id,omitempty"`
	LastID  string                `json:"last_id,omitempty"`
}

// InvokeRequest is the body of POST /v1/tools/{name}/invoke.
type InvokeRequest struct {
	Arguments map[string]any `json:"arguments"`
}

// InvokeResponse wraps a successful invocation.
type InvokeResponse struct {
	Tool      string            `json:"tool"`
	RequestID string            `json:"request_id,omitempty"`
	Result    *tools.ToolResult `json:"result"`
}

// ToolList is the body of GET /v1/tools.
type ToolList struct {
	Object string                   `json:"object"`
	Data   []tools.ActionDescriptor `json:"data"`
}

// ProviderList is the body of GET /v1/providers.
type ProviderList struct {
	Object string                   `json:"object"`
	Data   []manager.ProviderStatus `json:"data"`
}
