// Package mcp provides the process transport: one MCP (Model Context
// Protocol) session with a local subprocess over its standard streams.
//
// A Client owns exactly one child process. Requests are newline
// delimited JSON-RPC 2.0 messages written to the child's stdin; a single
// reader goroutine demultiplexes responses from stdout by request id into
// per-call channels, so concurrent invocations share one channel without
// blocking each other.
//
// Wire types and the JSON-RPC codec come from the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk). Framing, correlation and
// process supervision are handled here so that a malformed line from the
// provider fails only the call it belongs to instead of the session.
package mcp
