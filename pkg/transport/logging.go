package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/toolgate/pkg/auth"
	"github.com/rhuss/toolgate/pkg/tools"
)

// Logging returns middleware that emits one structured log entry per
// invocation with the tool, request ID, caller subject and duration.
// Failures are logged with their invocation error kind.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next ToolInvoker) ToolInvoker {
		return ToolInvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
			start := time.Now()

			res, err := next.Invoke(ctx, name, args)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("tool", name),
				slog.Duration("duration", time.Since(start)),
			}
			if sub := auth.SubjectFromContext(ctx); sub != "" {
				attrs = append(attrs, slog.String("subject", sub))
			}

			switch {
			case err != nil:
				attrs = append(attrs,
					slog.String("kind", string(tools.KindOf(err))),
					slog.String("error", err.Error()),
				)
				logger.LogAttrs(ctx, slog.LevelWarn, "invocation failed", attrs...)
			case res != nil && res.IsError:
				logger.LogAttrs(ctx, slog.LevelInfo, "invocation returned tool error", attrs...)
			default:
				logger.LogAttrs(ctx, slog.LevelInfo, "invocation completed", attrs...)
			}

			return res, err
		})
	}
}
