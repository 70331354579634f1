package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/toolgate/pkg/tools"
)

// Recovery turns a panic below it into a protocol error for the one
// invocation that raised it.
func Recovery() Middleware {
	return func(next ToolInvoker) ToolInvoker {
		return ToolInvokerFunc(func(ctx context.Context, name string, args map[string]any) (res *tools.ToolResult, err error) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				slog.ErrorContext(ctx, "invocation panicked",
					"tool", name,
					"request_id", RequestIDFromContext(ctx),
					"panic", p,
					"stack", string(debug.Stack()),
				)
				res, err = nil, &tools.InvokeError{
					Kind:    tools.ProtocolError,
					Tool:    name,
					Message: fmt.Sprintf("internal error: %v", p),
				}
			}()
			return next.Invoke(ctx, name, args)
		})
	}
}
