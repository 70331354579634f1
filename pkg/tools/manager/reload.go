package manager

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/observability"
	"github.com/rhuss/toolgate/pkg/tools/catalog"
)

// ReloadSummary reports what a reload changed.
type ReloadSummary struct {
	Generation uint64 `json:"generation"`

	Added     []string `json:"added,omitempty"`
	Changed   []string `json:"changed,omitempty"`
	Removed   []string `json:"removed,omitempty"`
	Unchanged []string `json:"unchanged,omitempty"`

	// Restarted lists unchanged providers that were reconnected because
	// their previous session had ended.
	Restarted []string `json:"restarted,omitempty"`

	Failed []ReloadFailure `json:"failed,omitempty"`
}

// ReloadFailure is a provider that could not be (re)started. When it
// replaced a serving provider, the old adapter keeps serving.
type ReloadFailure struct {
	Provider string `json:"provider"`
	Error    string `json:"error"`
	KeptOld  bool   `json:"kept_old"`
}

// Reload applies a new catalog. Added and changed providers are connected
// before anything is torn down; the new snapshot is then published and
// only afterwards are removed or replaced adapters closed. Providers
// whose fingerprint is unchanged and whose session is alive are left
// untouched. A catalog that fails to parse leaves the live set intact.
// Partial failures are reported in the summary and never rolled back.
func (m *Manager) Reload(ctx context.Context, src Source) (*ReloadSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started || m.stopped {
		return nil, errors.New("manager is not running")
	}
	if m.opts.Disabled {
		return &ReloadSummary{Generation: m.snap.Load().generation}, nil
	}

	ctx, span := m.tracer.Start(ctx, "toolgate.reload")
	defer span.End()
	start := time.Now()

	res, err := src(m.loader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog rejected")
		observability.ReloadsTotal.WithLabelValues("rejected").Inc()
		slog.Warn("reload rejected, keeping live providers", "error", err)
		return nil, err
	}

	live := m.snap.Load()
	prev := make(map[string]*providerRecord, len(live.providers))
	for _, r := range live.providers {
		prev[r.desc.Name] = r
	}

	summary := &ReloadSummary{}
	var (
		kept     []*providerRecord
		toStart  []catalog.ProviderDescriptor
		toClose  []*providerRecord
		seen     = make(map[string]bool, len(res.Providers))
		restarts = make(map[string]bool)
	)

	for _, desc := range res.Providers {
		seen[desc.Name] = true
		old := prev[desc.Name]
		fp := desc.Fingerprint()

		if !desc.Enabled {
			if old != nil && old.binding != nil {
				toClose = append(toClose, old)
				summary.Removed = append(summary.Removed, desc.Name)
			}
			kept = append(kept, &providerRecord{desc: desc, fingerprint: fp, state: StateDisabled, since: time.Now()})
			continue
		}

		switch {
		case old == nil || old.binding == nil && old.state != StateFailed:
			toStart = append(toStart, desc)
			summary.Added = append(summary.Added, desc.Name)
		case old.fingerprint != fp:
			toStart = append(toStart, desc)
			summary.Changed = append(summary.Changed, desc.Name)
		case old.serving():
			kept = append(kept, old)
			summary.Unchanged = append(summary.Unchanged, desc.Name)
		default:
			toStart = append(toStart, desc)
			restarts[desc.Name] = true
			summary.Restarted = append(summary.Restarted, desc.Name)
		}
	}
	for _, r := range live.providers {
		if !seen[r.desc.Name] && r.state != StateInvalid {
			toClose = append(toClose, r)
			summary.Removed = append(summary.Removed, r.desc.Name)
		}
	}
	kept = append(kept, invalidRecords(res.Skipped)...)

	started := m.connectAll(ctx, toStart)

	// Claim action names: kept providers first, then newcomers by name.
	// A newcomer that collides is rejected and the live owner stays.
	owners := make(map[string]string)
	for _, r := range kept {
		for _, a := range r.actions {
			owners[a.desc.Name] = r.desc.Name
		}
	}
	claim := func(r *providerRecord) error {
		for _, a := range r.actions {
			if owner, dup := owners[a.desc.Name]; dup && owner != r.desc.Name {
				return &errDuplicateAction{action: a.desc.Name, owner: owner}
			}
		}
		for _, a := range r.actions {
			owners[a.desc.Name] = r.desc.Name
		}
		return nil
	}

	next := kept
	var rejected []*providerRecord
	for _, rec := range sortedRecords(started) {
		name := rec.desc.Name
		old := prev[name]
		oldServing := old != nil && old.serving()

		if rec.err == nil {
			if err := claim(rec); err != nil {
				rejected = append(rejected, rec)
				rec = &providerRecord{desc: rec.desc, fingerprint: rec.fingerprint, state: StateFailed, err: err, since: time.Now()}
			}
		}

		if rec.err != nil {
			if oldServing && claim(old) == nil {
				next = append(next, old)
				summary.Failed = append(summary.Failed, ReloadFailure{Provider: name, Error: rec.err.Error(), KeptOld: true})
				slog.Warn("provider replacement failed, previous adapter keeps serving", "provider", name, "error", rec.err)
				continue
			}
			if old != nil && old.binding != nil {
				toClose = append(toClose, old)
			}
			next = append(next, rec)
			summary.Failed = append(summary.Failed, ReloadFailure{Provider: name, Error: rec.err.Error()})
			continue
		}

		if old != nil && old.binding != nil {
			toClose = append(toClose, old)
		}
		next = append(next, rec)
	}

	snap := m.publish(next)
	summary.Generation = snap.generation
	for _, r := range toClose {
		if snap.record(r.desc.Name) == nil {
			observability.ProviderUp.DeleteLabelValues(r.desc.Name, string(r.desc.Kind))
		}
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.CloseTimeout)
	defer cancel()
	if err := m.closeRecords(cctx, append(toClose, rejected...)); err != nil {
		slog.Warn("closing replaced providers", "error", err)
	}

	result := "ok"
	if len(summary.Failed) > 0 {
		result = "partial"
	}
	observability.ReloadsTotal.WithLabelValues(result).Inc()
	span.SetAttributes(
		attribute.Int64("toolgate.generation", int64(snap.generation)),
		attribute.Int("toolgate.reload.started", len(toStart)),
		attribute.Int("toolgate.reload.failed", len(summary.Failed)),
	)
	sortSummary(summary)
	slog.Info("catalog reloaded",
		"generation", snap.generation,
		"added", len(summary.Added),
		"changed", len(summary.Changed),
		"removed", len(summary.Removed),
		"unchanged", len(summary.Unchanged),
		"failed", len(summary.Failed),
		"duration", time.Since(start),
	)
	debug.Log("reload", "reload summary", "summary", summary)
	return summary, nil
}

func sortSummary(s *ReloadSummary) {
	for _, l := range [][]string{s.Added, s.Changed, s.Removed, s.Unchanged, s.Restarted} {
		sort.Strings(l)
	}
	sort.Slice(s.Failed, func(i, j int) bool { return s.Failed[i].Provider < s.Failed[j].Provider })
}
