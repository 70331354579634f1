package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/observability"
	"github.com/rhuss/toolgate/pkg/tools"
	"github.com/rhuss/toolgate/pkg/tools/catalog"
	"github.com/rhuss/toolgate/pkg/tools/credentials"
	"github.com/rhuss/toolgate/pkg/tools/httptool"
	"github.com/rhuss/toolgate/pkg/tools/mcp"
	"github.com/rhuss/toolgate/pkg/tools/schema"
)

// DefaultCloseTimeout bounds the teardown of a single adapter.
const DefaultCloseTimeout = 10 * time.Second

const tracerName = "github.com/rhuss/toolgate/pkg/tools/manager"

// Provider states reported by Providers in addition to the adapter's own
// session state.
const (
	StateServing  = "serving"
	StateFailed   = "failed"
	StateDisabled = "disabled"
	StateInvalid  = "invalid"
)

// Source produces a provider catalog.
type Source func(l *catalog.Loader) (*catalog.LoadResult, error)

// FromBytes reads the catalog from raw YAML or JSON.
func FromBytes(data []byte) Source {
	return func(l *catalog.Loader) (*catalog.LoadResult, error) { return l.Load(data) }
}

// FromFile reads the catalog from a file. Manifest paths resolve
// relative to the file's directory.
func FromFile(path string) Source {
	return func(l *catalog.Loader) (*catalog.LoadResult, error) { return l.LoadFile(path) }
}

// Options configures a Manager.
type Options struct {
	Loader *catalog.Loader

	// Factory creates adapters. Nil uses an AdapterFactory built from MCP
	// and HTTP.
	Factory Factory
	MCP     mcp.Options
	HTTP    httptool.Options

	// Disabled turns the whole layer off: the catalog stays empty and
	// every invocation fails with NotFound.
	Disabled bool

	// CloseTimeout bounds each adapter teardown during Reload. Zero
	// means DefaultCloseTimeout.
	CloseTimeout time.Duration

	TracerProvider trace.TracerProvider
}

// Manager owns the provider adapters and the live action catalog.
type Manager struct {
	opts    Options
	loader  *catalog.Loader
	factory Factory
	tracer  trace.Tracer

	// mu serializes Start, Reload and Shutdown. Readers use snap only.
	mu      sync.Mutex
	started bool
	stopped bool

	snap  atomic.Pointer[snapshot]
	ready atomic.Bool
}

// binding ties an adapter to the actions compiled from it. Once closed,
// every action bound to it fails with ProviderUnavailable.
type binding struct {
	provider string
	adapter  tools.Adapter
	closed   atomic.Bool
}

func (b *binding) dead() bool {
	if b.closed.Load() {
		return true
	}
	if hr, ok := b.adapter.(tools.HealthReporter); ok {
		switch hr.Health().State {
		case "closing", "closed":
			return true
		}
	}
	return false
}

// action is a compiled, invokable tool.
type action struct {
	desc      tools.ActionDescriptor
	validator *schema.Validator
	binding   *binding
}

// providerRecord is the immutable view of one configured provider in a
// snapshot.
type providerRecord struct {
	desc        catalog.ProviderDescriptor
	fingerprint string
	binding     *binding
	actions     []*action
	state       string
	err         error
	since       time.Time
}

func (r *providerRecord) serving() bool {
	return r.binding != nil && !r.binding.dead()
}

// snapshot is an immutable catalog generation.
type snapshot struct {
	generation uint64
	actions    map[string]*action
	catalog    []tools.ActionDescriptor
	providers  []*providerRecord
}

func (s *snapshot) record(name string) *providerRecord {
	for _, r := range s.providers {
		if r.desc.Name == name {
			return r
		}
	}
	return nil
}

// New creates a Manager. Call Start to load the catalog.
func New(opts Options) *Manager {
	m := &Manager{opts: opts, loader: opts.Loader}
	if m.opts.CloseTimeout <= 0 {
		m.opts.CloseTimeout = DefaultCloseTimeout
	}
	if m.opts.HTTP.Client == nil {
		m.opts.HTTP.Client = httptool.NewClient(m.opts.HTTP.AllowList, nil)
	}
	if m.loader == nil {
		m.loader = &catalog.Loader{}
	}
	if m.opts.HTTP.Auth == nil {
		m.opts.HTTP.Auth = m.loader.Auth
	}
	if m.opts.HTTP.Auth == nil {
		m.opts.HTTP.Auth = credentials.Default(m.opts.HTTP.Client)
	}
	if m.loader.Auth == nil {
		m.loader.Auth = m.opts.HTTP.Auth
	}

	m.factory = opts.Factory
	if m.factory == nil {
		mcpOpts := m.opts.MCP
		userClosed := mcpOpts.OnClosed
		mcpOpts.OnClosed = func(name string, err error) {
			m.providerClosed(name, err)
			if userClosed != nil {
				userClosed(name, err)
			}
		}
		m.factory = &AdapterFactory{MCP: mcpOpts, HTTP: m.opts.HTTP, Dir: m.loader.BaseDir}
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	m.tracer = tp.Tracer(tracerName)

	m.snap.Store(&snapshot{actions: map[string]*action{}})
	return m
}

// Start loads the catalog, connects every enabled provider in parallel
// and publishes the first snapshot. Provider failures are recorded and
// do not fail Start. Two providers offering the same action name fail
// Start with a *StartupError and every connected adapter is closed.
func (m *Manager) Start(ctx context.Context, src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New("manager already started")
	}
	if m.opts.Disabled {
		m.started = true
		m.ready.Store(true)
		slog.Info("tool integration disabled")
		return nil
	}

	res, err := src(m.loader)
	if err != nil {
		return err
	}

	var enabled []catalog.ProviderDescriptor
	records := make([]*providerRecord, 0, len(res.Providers)+len(res.Skipped))
	for _, desc := range res.Providers {
		if !desc.Enabled {
			records = append(records, &providerRecord{desc: desc, fingerprint: desc.Fingerprint(), state: StateDisabled, since: time.Now()})
			continue
		}
		enabled = append(enabled, desc)
	}
	records = append(records, invalidRecords(res.Skipped)...)

	connected := m.connectAll(ctx, enabled)
	records = append(records, connected...)

	owners := make(map[string]string)
	for _, rec := range sortedRecords(connected) {
		for _, a := range rec.actions {
			if owner, dup := owners[a.desc.Name]; dup {
				m.closeRecords(ctx, connected)
				return &StartupError{Action: a.desc.Name, Providers: [2]string{owner, rec.desc.Name}}
			}
			owners[a.desc.Name] = rec.desc.Name
		}
	}

	m.started = true
	snap := m.publish(records)
	m.ready.Store(true)
	slog.Info("tool manager started", "providers", len(connected), "actions", len(snap.catalog), "generation", snap.generation)
	return nil
}

// Catalog returns the live actions sorted by name. The slice is a copy.
func (m *Manager) Catalog() []tools.ActionDescriptor {
	snap := m.snap.Load()
	out := make([]tools.ActionDescriptor, len(snap.catalog))
	copy(out, snap.catalog)
	return out
}

// Generation returns the live snapshot generation. It increases with
// every Start and Reload.
func (m *Manager) Generation() uint64 {
	return m.snap.Load().generation
}

// ProviderStatus describes one configured provider.
type ProviderStatus struct {
	Name                string             `json:"name"`
	Kind                tools.ProviderKind `json:"kind,omitempty"`
	State               string             `json:"state"`
	Session             string             `json:"session,omitempty"`
	Tools               int                `json:"tools"`
	PID                 int                `json:"pid,omitempty"`
	InFlight            int                `json:"in_flight"`
	ConsecutiveTimeouts int                `json:"consecutive_timeouts"`
	Flagged             bool               `json:"flagged"`
	LastError           string             `json:"last_error,omitempty"`
	Since               time.Time          `json:"since"`
}

// Providers reports every configured provider, sorted by name.
func (m *Manager) Providers() []ProviderStatus {
	snap := m.snap.Load()
	out := make([]ProviderStatus, 0, len(snap.providers))
	for _, r := range snap.providers {
		st := ProviderStatus{
			Name:  r.desc.Name,
			Kind:  r.desc.Kind,
			State: r.state,
			Tools: len(r.actions),
			Since: r.since,
		}
		if r.err != nil {
			st.LastError = r.err.Error()
		}
		if r.binding != nil {
			if hr, ok := r.binding.adapter.(tools.HealthReporter); ok {
				h := hr.Health()
				st.Session = h.State
				st.PID = h.PID
				st.InFlight = h.InFlight
				st.ConsecutiveTimeouts = h.ConsecutiveTimeouts
				st.Flagged = h.Flagged
				if h.LastError != "" {
					st.LastError = h.LastError
				}
			}
			if r.binding.dead() {
				st.State = StateFailed
			}
		}
		out = append(out, st)
	}
	return out
}

// Ready reports whether Start completed and Shutdown has not run. It does
// not block on a Reload in progress.
func (m *Manager) Ready() bool {
	return m.ready.Load()
}

// Shutdown closes every adapter in parallel. Each close is bounded by
// ctx; adapters escalate to killing their process when it expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true
	m.ready.Store(false)

	old := m.snap.Load()
	m.snap.Store(&snapshot{generation: old.generation + 1, actions: map[string]*action{}})
	observability.CatalogActions.Set(0)

	err := m.closeRecords(ctx, old.providers)
	slog.Info("tool manager stopped", "providers", len(old.providers))
	return err
}

// connectAll connects descriptors in parallel. Every descriptor yields a
// record, failed or serving.
func (m *Manager) connectAll(ctx context.Context, descs []catalog.ProviderDescriptor) []*providerRecord {
	records := make([]*providerRecord, len(descs))
	var g errgroup.Group
	for i, desc := range descs {
		g.Go(func() error {
			records[i] = m.connect(ctx, desc)
			return nil
		})
	}
	_ = g.Wait()
	return records
}

func (m *Manager) connect(ctx context.Context, desc catalog.ProviderDescriptor) *providerRecord {
	rec := &providerRecord{desc: desc, fingerprint: desc.Fingerprint(), since: time.Now()}

	ctx, span := m.tracer.Start(ctx, "toolgate.provider.connect", trace.WithAttributes(
		attribute.String("toolgate.provider", desc.Name),
		attribute.String("toolgate.provider.kind", string(desc.Kind)),
	))
	defer span.End()

	b, actions, err := m.open(ctx, desc)
	if err != nil {
		rec.state = StateFailed
		rec.err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.ProviderStartsTotal.WithLabelValues(desc.Name, "error").Inc()
		slog.Warn("provider failed to start", "provider", desc.Name, "kind", desc.Kind, "error", err)
		return rec
	}

	rec.state = StateServing
	rec.binding = b
	rec.actions = actions
	span.SetAttributes(attribute.Int("toolgate.provider.tools", len(actions)))
	observability.ProviderStartsTotal.WithLabelValues(desc.Name, "ok").Inc()
	slog.Info("provider ready", "provider", desc.Name, "kind", desc.Kind, "tools", len(actions))
	return rec
}

func (m *Manager) open(ctx context.Context, desc catalog.ProviderDescriptor) (*binding, []*action, error) {
	ad, err := m.factory.New(desc)
	if err != nil {
		return nil, nil, err
	}
	if err := ad.Connect(ctx); err != nil {
		m.closeAdapter(ctx, ad)
		return nil, nil, err
	}
	defs, err := ad.Discover(ctx)
	if err != nil {
		m.closeAdapter(ctx, ad)
		return nil, nil, err
	}
	b := &binding{provider: desc.Name, adapter: ad}
	return b, compileActions(desc, b, defs), nil
}

// compileActions turns tool definitions into actions. Tools with a
// schema that does not compile are skipped.
func compileActions(desc catalog.ProviderDescriptor, b *binding, defs []tools.ToolDefinition) []*action {
	filtered := tools.FilterAllowedTools(defs, desc.AllowedTools)
	if len(filtered.Rejected) > 0 {
		debug.Log("providers", "tools hidden by allowed_tools", "provider", desc.Name, "tools", filtered.Rejected)
	}

	seen := make(map[string]bool, len(filtered.Allowed))
	actions := make([]*action, 0, len(filtered.Allowed))
	for _, def := range filtered.Allowed {
		if seen[def.Name] {
			slog.Warn("provider lists a tool twice, keeping the first", "provider", desc.Name, "tool", def.Name)
			continue
		}
		seen[def.Name] = true

		v, err := schema.Compile(def.InputSchema)
		if err != nil {
			slog.Warn("skipping tool with invalid input schema", "provider", desc.Name, "tool", def.Name, "error", err)
			continue
		}
		inputSchema := def.InputSchema
		if inputSchema == nil {
			inputSchema = map[string]any{"type": "object"}
		}
		actions = append(actions, &action{
			desc: tools.ActionDescriptor{
				Name:        def.Name,
				Description: describe(def, desc),
				InputSchema: inputSchema,
				Provider:    desc.Name,
			},
			validator: v,
			binding:   b,
		})
	}
	if len(actions) == 0 {
		slog.Info("provider exposes no tools", "provider", desc.Name)
	}
	return actions
}

func describe(def tools.ToolDefinition, desc catalog.ProviderDescriptor) string {
	if def.Description != "" {
		return def.Description
	}
	if desc.Description != "" {
		return desc.Description
	}
	return fmt.Sprintf("Tool %s from %s", def.Name, desc.Name)
}

// publish installs a new snapshot built from records. Callers hold mu.
func (m *Manager) publish(records []*providerRecord) *snapshot {
	records = sortedRecords(records)
	snap := &snapshot{
		generation: m.snap.Load().generation + 1,
		actions:    make(map[string]*action),
		providers:  records,
	}
	for _, r := range records {
		for _, a := range r.actions {
			snap.actions[a.desc.Name] = a
			snap.catalog = append(snap.catalog, a.desc)
		}
		up := 0.0
		if r.serving() {
			up = 1
		}
		if r.state != StateInvalid {
			observability.ProviderUp.WithLabelValues(r.desc.Name, string(r.desc.Kind)).Set(up)
		}
	}
	sort.Slice(snap.catalog, func(i, j int) bool { return snap.catalog[i].Name < snap.catalog[j].Name })
	m.snap.Store(snap)
	observability.CatalogActions.Set(float64(len(snap.catalog)))
	debug.Log("catalog", "snapshot published", "generation", snap.generation, "actions", len(snap.catalog))
	return snap
}

// providerClosed runs when a process session ends. Deliberate teardown
// marks the binding closed first, so only unexpected exits reach the
// warning.
func (m *Manager) providerClosed(name string, err error) {
	rec := m.snap.Load().record(name)
	if rec == nil || rec.binding == nil || rec.binding.closed.Load() || !rec.binding.dead() {
		return
	}
	observability.ProviderUp.WithLabelValues(name, string(rec.desc.Kind)).Set(0)
	slog.Warn("provider is no longer serving", "provider", name, "actions", len(rec.actions), "error", err)
}

// closeRecords tears down the bindings of records in parallel.
func (m *Manager) closeRecords(ctx context.Context, records []*providerRecord) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, r := range records {
		if r.binding == nil || !r.binding.closed.CompareAndSwap(false, true) {
			continue
		}
		g.Go(func() error {
			if err := r.binding.adapter.Close(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("closing provider %q: %w", r.desc.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// closeAdapter closes an adapter that never joined a snapshot.
func (m *Manager) closeAdapter(ctx context.Context, ad tools.Adapter) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.CloseTimeout)
	defer cancel()
	if err := ad.Close(cctx); err != nil {
		debug.Log("providers", "close after failed start", "provider", ad.Name(), "error", err)
	}
}

func sortedRecords(records []*providerRecord) []*providerRecord {
	out := make([]*providerRecord, len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool { return out[i].desc.Name < out[j].desc.Name })
	return out
}

func invalidRecords(skipped []*catalog.ConfigError) []*providerRecord {
	var out []*providerRecord
	for _, ce := range skipped {
		if ce.Provider == "" {
			continue
		}
		out = append(out, &providerRecord{
			desc:  catalog.ProviderDescriptor{Name: ce.Provider},
			state: StateInvalid,
			err:   ce,
			since: time.Now(),
		})
	}
	return out
}
