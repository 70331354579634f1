package transport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/toolgate/pkg/tools"
)

// InFlight describes an invocation that has not completed yet.
type InFlight struct {
	RequestID string    `json:"request_id"`
	Tool      string    `json:"tool"`
	Started   time.Time `json:"started"`
}

type inflightEntry struct {
	InFlight
	cancel context.CancelFunc
}

// InFlightRegistry tracks running invocations by request ID so that a
// DELETE request can cancel one that is still waiting on its provider.
//
// All methods are safe for concurrent access.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]*inflightEntry
}

// NewInFlightRegistry creates a new empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{
		entries: make(map[string]*inflightEntry),
	}
}

// Register adds an invocation to the registry. The cancel function is
// called if the invocation is explicitly cancelled.
func (r *InFlightRegistry) Register(id, tool string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &inflightEntry{
		InFlight: InFlight{RequestID: id, Tool: tool, Started: time.Now()},
		cancel:   cancel,
	}
}

// Cancel cancels an in-flight invocation by calling its cancel function.
// Returns true if the invocation was found and cancelled, false if the ID
// was not registered (either already completed or never existed).
func (r *InFlightRegistry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.cancel()
	delete(r.entries, id)
	return true
}

// CancelAll cancels every registered invocation and returns how many
// there were.
func (r *InFlightRegistry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	for id, e := range r.entries {
		e.cancel()
		delete(r.entries, id)
	}
	return n
}

// Remove removes an invocation from the registry without cancelling it.
func (r *InFlightRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// List returns the running invocations, oldest first.
func (r *InFlightRegistry) List() []InFlight {
	r.mu.Lock()
	out := make([]InFlight, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.InFlight)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// Tracking returns middleware that registers each invocation under its
// request ID for the duration of the call. It must run after RequestID.
func Tracking(reg *InFlightRegistry) Middleware {
	return func(next ToolInvoker) ToolInvoker {
		return ToolInvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
			id := RequestIDFromContext(ctx)
			if id == "" {
				return next.Invoke(ctx, name, args)
			}
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			reg.Register(id, name, cancel)
			defer reg.Remove(id)
			return next.Invoke(ctx, name, args)
		})
	}
}
