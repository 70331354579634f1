package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/observability"
	"github.com/rhuss/toolgate/pkg/tools"
)

// Invoke validates args against the action's schema and dispatches the
// call to the owning adapter. Invalid arguments never reach the adapter.
// Errors are *tools.InvokeError except when ctx itself is cancelled.
func (m *Manager) Invoke(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
	act, ok := m.snap.Load().actions[name]
	if !ok {
		observability.ToolInvocationsTotal.WithLabelValues("", name, string(tools.NotFound)).Inc()
		return nil, &tools.InvokeError{Kind: tools.NotFound, Tool: name, Message: fmt.Sprintf("no action named %q", name)}
	}
	return m.invoke(ctx, act, args)
}

func (m *Manager) invoke(ctx context.Context, act *action, args map[string]any) (*tools.ToolResult, error) {
	provider := act.binding.provider
	id := uuid.NewString()

	ctx, span := m.tracer.Start(ctx, "toolgate.invoke", trace.WithAttributes(
		attribute.String("toolgate.tool", act.desc.Name),
		attribute.String("toolgate.provider", provider),
		attribute.String("toolgate.invocation_id", id),
	))
	defer span.End()

	start := time.Now()
	res, err := m.dispatch(ctx, act, args, id)
	elapsed := time.Since(start)

	outcome := outcomeOf(res, err)
	observability.ToolInvocationsTotal.WithLabelValues(provider, act.desc.Name, outcome).Inc()
	observability.ToolInvocationDuration.WithLabelValues(provider, act.desc.Name).Observe(elapsed.Seconds())
	span.SetAttributes(attribute.String("toolgate.outcome", outcome))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		debug.Log("providers", "invocation failed", "invocation", id, "tool", act.desc.Name,
			"provider", provider, "outcome", outcome, "duration", elapsed, "error", err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	debug.Log("providers", "invocation finished", "invocation", id, "tool", act.desc.Name,
		"provider", provider, "outcome", outcome, "duration", elapsed)
	return res, nil
}

// dispatch validates and calls the adapter, converting a panic inside the
// adapter into a ProtocolError.
func (m *Manager) dispatch(ctx context.Context, act *action, args map[string]any, id string) (res *tools.ToolResult, err error) {
	provider := act.binding.provider
	tool := act.desc.Name

	validated, verr := act.validator.Validate(args)
	if verr != nil {
		return nil, &tools.InvokeError{Kind: tools.ValidationFailed, Tool: tool, Provider: provider, Cause: verr}
	}
	if act.binding.dead() {
		return nil, &tools.InvokeError{Kind: tools.ProviderUnavailable, Tool: tool, Provider: provider,
			Message: "provider is not connected"}
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool adapter panicked", "provider", provider, "tool", tool, "invocation", id, "panic", rec)
			res = nil
			err = &tools.InvokeError{Kind: tools.ProtocolError, Tool: tool, Provider: provider,
				Message: fmt.Sprintf("adapter panicked: %v", rec)}
		}
	}()

	res, err = act.binding.adapter.Invoke(ctx, tool, validated)
	if err != nil {
		var ie *tools.InvokeError
		if errors.As(err, &ie) {
			return nil, ie.WithTool(tool, provider)
		}
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, &tools.InvokeError{Kind: tools.Timeout, Tool: tool, Provider: provider, Cause: err}
		case ctx.Err() != nil:
			return nil, err
		}
		return nil, &tools.InvokeError{Kind: tools.ProviderUnavailable, Tool: tool, Provider: provider, Cause: err}
	}
	if res == nil {
		res = &tools.ToolResult{}
	}
	return res, nil
}

func outcomeOf(res *tools.ToolResult, err error) string {
	if err != nil {
		if kind := tools.KindOf(err); kind != "" {
			return string(kind)
		}
		if errors.Is(err, context.Canceled) {
			return "canceled"
		}
		return "error"
	}
	if res.IsError {
		return "tool_error"
	}
	return "success"
}
