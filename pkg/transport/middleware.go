package transport

// Middleware decorates a ToolInvoker.
type Middleware func(ToolInvoker) ToolInvoker

// Chain composes middleware so that the first one sees the call first:
// Chain(a, b, c)(h) is a(b(c(h))). Nil entries are skipped, which lets
// callers pass optional stages inline.
func Chain(mws ...Middleware) Middleware {
	return func(inner ToolInvoker) ToolInvoker {
		for i := len(mws) - 1; i >= 0; i-- {
			if mws[i] != nil {
				inner = mws[i](inner)
			}
		}
		return inner
	}
}
