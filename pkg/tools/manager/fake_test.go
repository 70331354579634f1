package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rhuss/toolgate/pkg/tools"
	"github.com/rhuss/toolgate/pkg/tools/catalog"
)

var echoSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"text": map[string]any{"type": "string"},
	},
	"required": []any{"text"},
}

// fakeAdapter is an in-memory provider that echoes its arguments.
type fakeAdapter struct {
	id      string
	name    string
	defs    []tools.ToolDefinition
	factory *fakeFactory

	connectErr error
	panicOn    string

	calls  atomic.Int32
	closed atomic.Bool
	died   atomic.Bool
}

func (a *fakeAdapter) Name() string             { return a.name }
func (a *fakeAdapter) Kind() tools.ProviderKind { return tools.KindProcess }

func (a *fakeAdapter) Connect(context.Context) error {
	a.factory.event("connect " + a.id)
	return a.connectErr
}

func (a *fakeAdapter) Discover(context.Context) ([]tools.ToolDefinition, error) {
	return a.defs, nil
}

func (a *fakeAdapter) Invoke(ctx context.Context, tool string, args map[string]any) (*tools.ToolResult, error) {
	a.calls.Add(1)
	if tool == a.panicOn {
		panic("boom")
	}
	if args["text"] == "block" {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.died.Load() || a.closed.Load() {
		return nil, &tools.InvokeError{Kind: tools.ProviderUnavailable, Provider: a.name}
	}
	return &tools.ToolResult{Content: fmt.Sprint(args["text"]), Structured: args}, nil
}

func (a *fakeAdapter) Close(context.Context) error {
	a.factory.event("close " + a.id)
	a.closed.Store(true)
	return nil
}

func (a *fakeAdapter) Health() tools.Health {
	if a.died.Load() || a.closed.Load() {
		return tools.Health{State: "closed", LastError: "exited"}
	}
	return tools.Health{State: "tools_discovered", PID: 4242}
}

// fakeFactory counts adapter instantiations per provider.
type fakeFactory struct {
	mu         sync.Mutex
	tools      map[string][]tools.ToolDefinition
	connectErr map[string]error
	panicOn    string
	count      map[string]int
	adapters   map[string][]*fakeAdapter
	events     []string
}

func newFakeFactory(defs map[string][]tools.ToolDefinition) *fakeFactory {
	return &fakeFactory{
		tools:      defs,
		connectErr: make(map[string]error),
		count:      make(map[string]int),
		adapters:   make(map[string][]*fakeAdapter),
	}
}

func (f *fakeFactory) New(desc catalog.ProviderDescriptor) (tools.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count[desc.Name]++
	a := &fakeAdapter{
		id:         fmt.Sprintf("%s#%d", desc.Name, f.count[desc.Name]),
		name:       desc.Name,
		defs:       f.tools[desc.Name],
		factory:    f,
		connectErr: f.connectErr[desc.Name],
		panicOn:    f.panicOn,
	}
	f.adapters[desc.Name] = append(f.adapters[desc.Name], a)
	return a, nil
}

func (f *fakeFactory) event(e string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeFactory) instantiations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.count {
		n += c
	}
	return n
}

func (f *fakeFactory) latest(name string) *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.adapters[name]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (f *fakeFactory) indexOf(e string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, ev := range f.events {
		if ev == e {
			return i
		}
	}
	return -1
}

func tool(name string) tools.ToolDefinition {
	return tools.ToolDefinition{Name: name, Description: name + " tool", InputSchema: echoSchema}
}

func newTestManager(t *testing.T, f *fakeFactory, opts ...func(*Options)) *Manager {
	t.Helper()
	o := Options{
		Loader:  &catalog.Loader{Lookup: func(string) (string, bool) { return "", false }},
		Factory: f,
	}
	for _, fn := range opts {
		fn(&o)
	}
	m := New(o)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func requireKind(t *testing.T, err error, kind tools.InvokeErrorKind) *tools.InvokeError {
	t.Helper()
	if tools.KindOf(err) != kind {
		t.Fatalf("error kind = %q, want %q (%v)", tools.KindOf(err), kind, err)
	}
	ie, _ := err.(*tools.InvokeError)
	return ie
}
