package tools

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestInvokeError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("calling: %w", &InvokeError{Kind: Timeout, Tool: "echo", Message: "deadline exceeded"})

	if !errors.Is(err, ErrTimeout) {
		t.Error("expected errors.Is(err, ErrTimeout) = true")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is(err, ErrNotFound) = false")
	}
	if got := KindOf(err); got != Timeout {
		t.Errorf("KindOf = %q, want %q", got, Timeout)
	}
	if got := KindOf(io.EOF); got != "" {
		t.Errorf("KindOf(io.EOF) = %q, want empty", got)
	}
}

func TestInvokeError_UnwrapCause(t *testing.T) {
	err := &InvokeError{Kind: ProviderUnavailable, Cause: io.ErrClosedPipe}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if !strings.Contains(err.Error(), io.ErrClosedPipe.Error()) {
		t.Errorf("Error() = %q, want cause text", err.Error())
	}
}

func TestInvokeError_Message(t *testing.T) {
	err := &InvokeError{Kind: HTTPStatus, Tool: "weather", Status: 404, Message: "check the URL"}
	want := "http_status (tool weather) [404]: check the URL"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestInvokeError_WithToolKeepsExisting(t *testing.T) {
	base := NewInvokeError(NotFound, "tool %q is not in the catalog", "x")
	annotated := base.WithTool("x", "alpha")
	if annotated.Provider != "alpha" || annotated.Tool != "x" {
		t.Errorf("annotated = %+v", annotated)
	}
	if base.Provider != "" {
		t.Error("WithTool must not mutate the receiver")
	}

	again := annotated.WithTool("y", "beta")
	if again.Tool != "x" || again.Provider != "alpha" {
		t.Errorf("WithTool overwrote existing fields: %+v", again)
	}
}

func TestProviderError_Is(t *testing.T) {
	err := fmt.Errorf("start: %w", &ProviderError{Kind: HandshakeTimeout, Provider: "slow"})
	if !errors.Is(err, &ProviderError{Kind: HandshakeTimeout}) {
		t.Error("expected HandshakeTimeout to match")
	}
	if errors.Is(err, &ProviderError{Kind: ProcessExited}) {
		t.Error("expected ProcessExited not to match")
	}
}
