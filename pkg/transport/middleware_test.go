package transport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/rhuss/toolgate/pkg/auth"
	"github.com/rhuss/toolgate/pkg/tools"
)

func okInvoker() ToolInvoker {
	return ToolInvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
		return &tools.ToolResult{Content: "ok"}, nil
	})
}

func TestChainAppliesMiddlewareInOrder(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next ToolInvoker) ToolInvoker {
			return ToolInvokerFunc(func(ctx context.Context, tool string, args map[string]any) (*tools.ToolResult, error) {
				order = append(order, name+":before")
				res, err := next.Invoke(ctx, tool, args)
				order = append(order, name+":after")
				return res, err
			})
		}
	}

	handler := ToolInvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
		order = append(order, "handler")
		return nil, nil
	})

	wrapped := Chain(mw("first"), nil, Chain(mw("second"), mw("third")))(handler)
	wrapped.Invoke(context.Background(), "echo", nil)

	expected := []string{
		"first:before", "second:before", "third:before",
		"handler",
		"third:after", "second:after", "first:after",
	}

	if len(order) != len(expected) {
		t.Fatalf("execution order length = %d, want %d: %v", len(order), len(expected), order)
	}
	for i, got := range order {
		if got != expected[i] {
			t.Errorf("order[%d] = %q, want %q", i, got, expected[i])
		}
	}
}

func TestRecoveryCatchesPanic(t *testing.T) {
	handler := ToolInvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
		panic("test panic")
	})

	res, err := Recovery()(handler).Invoke(context.Background(), "echo", nil)
	if err == nil {
		t.Fatal("expected error after panic, got nil")
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}

	var ie *tools.InvokeError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *tools.InvokeError, got %T: %v", err, err)
	}
	if ie.Kind != tools.ProtocolError || ie.Tool != "echo" {
		t.Errorf("error = %+v, want protocol_error for echo", ie)
	}
	if !strings.Contains(ie.Message, "test panic") {
		t.Errorf("error message = %q, should contain %q", ie.Message, "test panic")
	}
}

func TestRecoveryPassesThroughNormalExecution(t *testing.T) {
	res, err := Recovery()(okInvoker()).Invoke(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "ok" {
		t.Errorf("content = %q, want ok", res.Content)
	}
}

func TestRequestIDGeneratesNewID(t *testing.T) {
	var capturedID string

	handler := ToolInvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
		capturedID = RequestIDFromContext(ctx)
		return nil, nil
	})

	RequestID()(handler).Invoke(context.Background(), "echo", nil)

	if capturedID == "" {
		t.Fatal("expected a generated request ID, got empty string")
	}
	if _, err := uuid.Parse(capturedID); err != nil {
		t.Errorf("request ID %q is not a UUID: %v", capturedID, err)
	}
}

func TestRequestIDPropagatesExisting(t *testing.T) {
	var capturedID string

	handler := ToolInvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
		capturedID = RequestIDFromContext(ctx)
		return nil, nil
	})

	ctx := ContextWithRequestID(context.Background(), "existing-id-123")
	RequestID()(handler).Invoke(ctx, "echo", nil)

	if capturedID != "existing-id-123" {
		t.Errorf("request ID = %q, want %q", capturedID, "existing-id-123")
	}
}

func TestRequestIDUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	handler := ToolInvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
		ids[RequestIDFromContext(ctx)] = true
		return nil, nil
	})

	wrapped := RequestID()(handler)
	for i := 0; i < 100; i++ {
		wrapped.Invoke(context.Background(), "echo", nil)
	}

	if len(ids) != 100 {
		t.Errorf("expected 100 unique IDs, got %d", len(ids))
	}
}

func TestLoggingEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := ContextWithRequestID(context.Background(), "req-log-test")
	ctx = auth.WithIdentity(ctx, &auth.Identity{Subject: "alice"})
	Logging(logger)(okInvoker()).Invoke(ctx, "echo", nil)

	output := buf.String()
	for _, expected := range []string{"request_id=req-log-test", "tool=echo", "subject=alice", "invocation completed"} {
		if !strings.Contains(output, expected) {
			t.Errorf("log output missing %q in:\n%s", expected, output)
		}
	}
}

func TestLoggingEmitsErrorOnFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := ToolInvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
		return nil, tools.NewInvokeError(tools.Timeout, "no reply in 30s")
	})

	Logging(logger)(handler).Invoke(context.Background(), "slow", nil)

	output := buf.String()
	for _, expected := range []string{"invocation failed", "kind=timeout", "no reply in 30s"} {
		if !strings.Contains(output, expected) {
			t.Errorf("log output missing %q in:\n%s", expected, output)
		}
	}
}

func TestLoggingToolError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := ToolInvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
		return &tools.ToolResult{Content: "bad input", IsError: true}, nil
	})

	Logging(logger)(handler).Invoke(context.Background(), "echo", nil)

	if !strings.Contains(buf.String(), "invocation returned tool error") {
		t.Errorf("log output missing tool error entry in:\n%s", buf.String())
	}
}
