package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/toolgate/pkg/auth"
	"github.com/rhuss/toolgate/pkg/storage"
	"github.com/rhuss/toolgate/pkg/tools"
)

// Recording returns middleware that saves one storage.Invocation per call.
// providerOf resolves the owning provider of a tool and may be nil. A
// failed save is logged and does not change the invocation result.
func Recording(store InvocationStore, providerOf func(tool string) string) Middleware {
	return func(next ToolInvoker) ToolInvoker {
		return ToolInvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
			start := time.Now()
			res, err := next.Invoke(ctx, name, args)

			inv := &storage.Invocation{
				ID:         RequestIDFromContext(ctx),
				Tool:       name,
				Owner:      auth.SubjectFromContext(ctx),
				Outcome:    outcome(res, err),
				StartedAt:  start.UTC(),
				DurationMS: time.Since(start).Milliseconds(),
			}
			if inv.ID == "" {
				inv.ID = uuid.NewString()
			}
			var ie *tools.InvokeError
			if errors.As(err, &ie) && ie.Provider != "" {
				inv.Provider = ie.Provider
			} else if providerOf != nil {
				inv.Provider = providerOf(name)
			}
			if err != nil {
				inv.Error = err.Error()
			}

			if serr := store.SaveInvocation(context.WithoutCancel(ctx), inv); serr != nil {
				slog.Warn("recording invocation", "request_id", inv.ID, "tool", name, "error", serr)
			}
			return res, err
		})
	}
}

// ProviderLookup returns a providerOf function for Recording backed by
// the live catalog.
func ProviderLookup(cat Catalog) func(string) string {
	return func(tool string) string {
		for _, a := range cat.Catalog() {
			if a.Name == tool {
				return a.Provider
			}
		}
		return ""
	}
}

func outcome(res *tools.ToolResult, err error) string {
	switch {
	case err != nil:
		if kind := tools.KindOf(err); kind != "" {
			return string(kind)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return storage.OutcomeCanceled
		}
		return storage.OutcomeError
	case res != nil && res.IsError:
		return storage.OutcomeToolError
	default:
		return storage.OutcomeOK
	}
}
