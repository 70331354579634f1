package tools

import (
	"errors"
	"fmt"
)

// InvokeErrorKind classifies an invocation failure.
type InvokeErrorKind string

const (
	NotFound            InvokeErrorKind = "not_found"
	ValidationFailed    InvokeErrorKind = "validation_failed"
	ProviderUnavailable InvokeErrorKind = "provider_unavailable"
	Timeout             InvokeErrorKind = "timeout"
	ProtocolError       InvokeErrorKind = "protocol_error"
	HTTPStatus          InvokeErrorKind = "http_status"
	AuthFailed          InvokeErrorKind = "auth_failed"
	DestinationDenied   InvokeErrorKind = "destination_denied"
	RemoteError         InvokeErrorKind = "remote_error"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrNotFound            = &InvokeError{Kind: NotFound}
	ErrValidationFailed    = &InvokeError{Kind: ValidationFailed}
	ErrProviderUnavailable = &InvokeError{Kind: ProviderUnavailable}
	ErrTimeout             = &InvokeError{Kind: Timeout}
	ErrProtocol            = &InvokeError{Kind: ProtocolError}
	ErrHTTPStatus          = &InvokeError{Kind: HTTPStatus}
	ErrAuthFailed          = &InvokeError{Kind: AuthFailed}
	ErrDestinationDenied   = &InvokeError{Kind: DestinationDenied}
	ErrRemote              = &InvokeError{Kind: RemoteError}
)

// InvokeError is the umbrella error returned to callers of Invoke.
type InvokeError struct {
	Kind     InvokeErrorKind
	Tool     string
	Provider string

	// Status is the upstream HTTP status for HTTPStatus errors, or the
	// JSON-RPC error code for RemoteError.
	Status int

	Message string
	Cause   error
}

// NewInvokeError creates an InvokeError of the given kind.
func NewInvokeError(kind InvokeErrorKind, format string, args ...any) *InvokeError {
	return &InvokeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *InvokeError) Error() string {
	msg := string(e.Kind)
	if e.Tool != "" {
		msg += " (tool " + e.Tool + ")"
	}
	if e.Status != 0 && e.Kind == HTTPStatus {
		msg += fmt.Sprintf(" [%d]", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil && e.Message == "" {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *InvokeError) Unwrap() error { return e.Cause }

// Is matches any InvokeError of the same kind.
func (e *InvokeError) Is(target error) bool {
	t, ok := target.(*InvokeError)
	return ok && t.Kind == e.Kind
}

// WithTool returns a copy of e annotated with the tool and provider.
func (e *InvokeError) WithTool(tool, provider string) *InvokeError {
	c := *e
	if c.Tool == "" {
		c.Tool = tool
	}
	if c.Provider == "" {
		c.Provider = provider
	}
	return &c
}

// KindOf returns the InvokeErrorKind carried by err, or "" if err is
// not an InvokeError.
func KindOf(err error) InvokeErrorKind {
	var ie *InvokeError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

// ProviderErrorKind classifies a connection level failure.
type ProviderErrorKind string

const (
	HandshakeTimeout ProviderErrorKind = "handshake_timeout"
	ConnectFailed    ProviderErrorKind = "connect_failed"
	ProcessExited    ProviderErrorKind = "process_exited"
)

// ProviderError reports a handshake, connection or process failure. A
// provider that fails with a ProviderError is unusable until reloaded.
type ProviderError struct {
	Kind     ProviderErrorKind
	Provider string
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %q: %s: %v", e.Provider, e.Kind, e.Cause)
	}
	return fmt.Sprintf("provider %q: %s", e.Provider, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Is matches any ProviderError of the same kind.
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	return ok && t.Kind == e.Kind
}
