// Package transport defines the handler interfaces and middleware chain for
// the toolgate HTTP transport layer.
//
// The transport layer bridges external callers (agent loops, operators) and
// the tool manager. It decodes incoming requests, dispatches them to the
// manager, and serializes results and typed invocation errors back as JSON.
//
// # Handler Interfaces
//
// Three interfaces define the contract between the transport layer and the
// tool manager:
//
//   - ToolInvoker runs a single named action.
//   - Catalog exposes the live action catalog and provider health.
//   - Reloader applies a fresh provider catalog.
//
// *manager.Manager satisfies ToolInvoker and Catalog directly. The command
// wires Reloader to a closure that binds the configured catalog source.
//
// # Middleware
//
// The middleware chain wraps ToolInvoker with cross-cutting concerns.
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID), cancellation tracking, and structured logging via
// log/slog.
package transport
