// Package tools defines the adapter contract and shared types of the
// toolgate invocation layer. Every provider transport (MCP over stdio,
// manifest-driven HTTP) implements Adapter, and the manager composes
// adapters into one name-keyed action catalog.
//
// The package also defines the error taxonomy surfaced to callers
// (InvokeError, ProviderError) and per-provider tool filtering.
//
// This package has no external dependencies.
package tools
