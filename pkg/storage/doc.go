// Package storage provides types shared across invocation history stores,
// including the record type, sentinel errors and owner context helpers.
//
// Store implementations (memory, postgres) satisfy the
// transport.InvocationStore interface defined in pkg/transport/handler.go.
// This package contains only shared types and helpers, not the interface
// itself.
package storage
