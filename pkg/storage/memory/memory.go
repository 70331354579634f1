// Package memory provides an in-memory implementation of
// transport.InvocationStore for tests and single-instance deployments.
// Records are lost when the process restarts. Optional eviction of the
// oldest record bounds memory usage.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/rhuss/toolgate/pkg/storage"
	"github.com/rhuss/toolgate/pkg/transport"
)

// entry holds a stored invocation and its position in the eviction list.
type entry struct {
	inv  *storage.Invocation
	elem *list.Element
}

// Store is an in-memory InvocationStore with optional eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   *list.List // front = newest, back = oldest
	maxSize int        // 0 = unlimited
}

// Ensure Store implements transport.InvocationStore at compile time.
var _ transport.InvocationStore = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the oldest record is evicted when the
// limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// SaveInvocation stores a copy of inv.
func (s *Store) SaveInvocation(_ context.Context, inv *storage.Invocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[inv.ID]; exists {
		return storage.ErrConflict
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	rec := *inv
	elem := s.order.PushFront(inv.ID)
	s.entries[inv.ID] = &entry{inv: &rec, elem: elem}
	return nil
}

// GetInvocation retrieves an invocation by id. Scoped by owner when an
// owner is present in the context.
func (s *Store) GetInvocation(ctx context.Context, id string) (*storage.Invocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if owner := storage.GetOwner(ctx); owner != "" && e.inv.Owner != owner {
		return nil, storage.ErrNotFound
	}

	rec := *e.inv
	return &rec, nil
}

// ListInvocations returns a page of invocations, newest first, filtered
// by owner and the options.
func (s *Store) ListInvocations(ctx context.Context, opts transport.ListOptions) (*transport.InvocationList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner := storage.GetOwner(ctx)

	var matches []*storage.Invocation
	for _, e := range s.entries {
		inv := e.inv
		if owner != "" && inv.Owner != owner {
			continue
		}
		if opts.Tool != "" && inv.Tool != opts.Tool {
			continue
		}
		if opts.Provider != "" && inv.Provider != opts.Provider {
			continue
		}
		if opts.Outcome != "" && inv.Outcome != opts.Outcome {
			continue
		}
		rec := *inv
		matches = append(matches, &rec)
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].StartedAt.Equal(matches[j].StartedAt) {
			return matches[i].StartedAt.After(matches[j].StartedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	if opts.After != "" {
		idx := -1
		for i, inv := range matches {
			if inv.ID == opts.After {
				idx = i
				break
			}
		}
		if idx >= 0 {
			matches = matches[idx+1:]
		} else {
			matches = nil
		}
	}

	limit := clampLimit(opts.Limit)
	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}

	result := &transport.InvocationList{
		Object:  "list",
		Data:    matches,
		HasMore: hasMore,
	}
	if len(matches) > 0 {
		result.FirstID = matches[0].ID
		result.LastID = matches[len(matches)-1].ID
	}
	if result.Data == nil {
		result.Data = []*storage.Invocation{}
	}
	return result, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// evictOldest removes the oldest record. Must be called with mu held.
func (s *Store) evictOldest() {
	back := s.order.Back()
	if back == nil {
		return
	}

	id := back.Value.(string)
	s.order.Remove(back)
	delete(s.entries, id)
}

func clampLimit(n int) int {
	if n <= 0 {
		return 20
	}
	if n > 100 {
		return 100
	}
	return n
}
