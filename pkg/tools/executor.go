package tools

import (
	"context"
)

// ProviderKind classifies how a tool provider is reached.
type ProviderKind string

const (
	// KindProcess is a long-lived local subprocess speaking MCP over
	// its standard streams.
	KindProcess ProviderKind = "process"

	// KindHTTP is a stateless outbound HTTP call built from a manifest.
	KindHTTP ProviderKind = "http"
)

// Adapter is the capability every provider transport exposes. The
// manager drives an adapter through Connect, Discover, any number of
// concurrent Invoke calls, and finally Close.
type Adapter interface {
	// Name returns the provider name this adapter is bound to.
	Name() string

	// Kind returns the transport kind.
	Kind() ProviderKind

	// Connect establishes the session. For process providers this
	// spawns the child and performs the protocol handshake.
	Connect(ctx context.Context) error

	// Discover returns the tool definitions the provider exposes.
	Discover(ctx context.Context) ([]ToolDefinition, error)

	// Invoke calls a tool with already validated arguments. Invoke must
	// be safe for concurrent use.
	Invoke(ctx context.Context, tool string, args map[string]any) (*ToolResult, error)

	// Close tears the session down. Close is bounded by ctx and always
	// reclaims any underlying process.
	Close(ctx context.Context) error
}

// ToolDefinition is one capability exposed by a provider.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ActionDescriptor is the caller-visible view of an invokable action.
type ActionDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`

	// Provider is the name of the provider that owns the action.
	Provider string `json:"provider"`
}

// ToolResult represents the output of a tool invocation.
type ToolResult struct {
	// Content is the text rendering of the result.
	Content string `json:"content"`

	// Structured holds the decoded JSON result when the provider
	// returned one.
	Structured any `json:"structured,omitempty"`

	// IsError reports that the provider completed the call but flagged
	// the outcome as a tool-level error. The layer does not interpret it.
	IsError bool `json:"is_error,omitempty"`

	// Truncated reports that Content holds only a prefix of the
	// provider's response.
	Truncated bool `json:"truncated,omitempty"`
}

// Health is a point-in-time view of an adapter's session.
type Health struct {
	State string `json:"state"`

	// PID is the child process id for process providers, zero otherwise.
	PID int `json:"pid,omitempty"`

	InFlight            int  `json:"in_flight"`
	ConsecutiveTimeouts int  `json:"consecutive_timeouts"`
	Flagged             bool `json:"flagged"`

	// LastError describes why the session ended or last failed.
	LastError string `json:"last_error,omitempty"`
}

// HealthReporter is implemented by adapters that can describe their
// session state.
type HealthReporter interface {
	Health() Health
}
