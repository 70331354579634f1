package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/rhuss/toolgate/pkg/tools"
)

type requestIDKey struct{}

// RequestIDFromContext returns the invocation's request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID stores id as the request ID of ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID keeps a request ID already on the context, set by the HTTP
// adapter from X-Request-ID, and otherwise assigns a random UUID.
func RequestID() Middleware {
	return func(next ToolInvoker) ToolInvoker {
		return ToolInvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, uuid.NewString())
			}
			return next.Invoke(ctx, name, args)
		})
	}
}
