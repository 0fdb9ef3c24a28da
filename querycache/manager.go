// Package querycache offers optimistic mutation helpers over a client-side
// fetch cache. Entries come in three shapes: a single item, a flat list, or a
// Paginated page with a total count. Mutations apply locally and return a
// Restore func that undoes them, so a caller can roll back when the server
// rejects the real mutation.
package querycache

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/keksclan/goServly/internal/cache"
)

var (
	// ErrNotFound is returned when the key has no cached entry.
	ErrNotFound = errors.New("querycache: entry not found")
	// ErrShapeMismatch is returned when an operation does not apply to the
	// entry's shape, e.g. CreateItem on a single-item entry.
	ErrShapeMismatch = errors.New("querycache: operation does not match entry shape")
	// ErrNoMatch is returned when a match function selected no item.
	ErrNoMatch = errors.New("querycache: no item matched")
)

// Cache is the storage the Manager mutates. The ristretto backend from
// NewDefault satisfies it, as does any compatible cache.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, cost int64, ttl time.Duration) bool
	Del(key string)
}

// Paginated is the page-shaped cache entry. Total counts items across all
// pages, not just Items.
type Paginated struct {
	Items   []any
	Total   int
	Page    int
	PerPage int
}

// Match selects items for UpdateItem and DeleteItem.
type Match func(item any) bool

// Apply transforms a matched item into its replacement.
type Apply func(item any) any

// Restore undoes one mutation by putting back the snapshot taken before it.
// Restoring after a later mutation of the same key overwrites that mutation.
type Restore func()

// Position says where CreateItem inserts into a list or page.
type Position int

const (
	PositionEnd Position = iota
	PositionStart
)

type entryKind int

const (
	kindSingle entryKind = iota
	kindList
	kindPaginated
)

type entry struct {
	kind   entryKind
	single any
	list   []any
	page   Paginated
}

func (e entry) clone() entry {
	e.list = slices.Clone(e.list)
	e.page.Items = slices.Clone(e.page.Items)
	return e
}

// Manager performs optimistic mutations over one Cache. Safe for concurrent
// use; each mutation is atomic with respect to the others.
type Manager struct {
	mu     sync.Mutex
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL bounds the lifetime of cached entries. Zero keeps entries until
// invalidated or evicted.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithLogger attaches a logger for mutation traces.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Manager over c.
func New(c Cache, opts ...Option) *Manager {
	m := &Manager{cache: c, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewDefault creates a Manager over a ristretto cache sized for typical
// client-side use.
func NewDefault(opts ...Option) (*Manager, error) {
	c, err := cache.NewRistrettoCache(1e4, 1<<24, 64)
	if err != nil {
		return nil, fmt.Errorf("init querycache backend: %w", err)
	}
	return New(c, opts...), nil
}

// Seed stores a value under key. A []any value seeds a list entry, a
// Paginated value seeds a page entry, everything else a single-item entry.
// The value's slices are copied, the caller keeps ownership of its own.
func (m *Manager) Seed(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(key, toEntry(value))
}

// Get returns the cached value under key: the item for single entries, a
// []any copy for lists, a Paginated copy for pages.
func (m *Manager) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.load(key)
	if !ok {
		return nil, false
	}
	return fromEntry(e.clone()), true
}

// CreateItem inserts item into a list or page entry at pos. Page entries get
// their Total incremented.
func (m *Manager) CreateItem(key string, item any, pos Position) (Restore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.load(key)
	if !ok {
		return nil, ErrNotFound
	}
	snap := e.clone()
	next := e.clone()

	switch next.kind {
	case kindList:
		next.list = insert(next.list, item, pos)
	case kindPaginated:
		next.page.Items = insert(next.page.Items, item, pos)
		next.page.Total++
	default:
		return nil, fmt.Errorf("%w: create on single entry %q", ErrShapeMismatch, key)
	}

	m.store(key, next)
	m.logger.Debug("cache item created", "key", key)
	return m.restoreFunc(key, snap), nil
}

// UpdateItem replaces every matched item with apply(item). On a single entry
// the one item is matched and replaced.
func (m *Manager) UpdateItem(key string, match Match, apply Apply) (Restore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.load(key)
	if !ok {
		return nil, ErrNotFound
	}
	snap := e.clone()
	next := e.clone()

	updated := 0
	switch next.kind {
	case kindSingle:
		if match(next.single) {
			next.single = apply(next.single)
			updated++
		}
	case kindList:
		updated = updateItems(next.list, match, apply)
	case kindPaginated:
		updated = updateItems(next.page.Items, match, apply)
	}
	if updated == 0 {
		return nil, fmt.Errorf("%w: update %q", ErrNoMatch, key)
	}

	m.store(key, next)
	m.logger.Debug("cache items updated", "key", key, "count", updated)
	return m.restoreFunc(key, snap), nil
}

// DeleteItem removes every matched item. A matched single entry is dropped
// from the cache entirely; page entries get their Total decremented per
// removed item.
func (m *Manager) DeleteItem(key string, match Match) (Restore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.load(key)
	if !ok {
		return nil, ErrNotFound
	}
	snap := e.clone()
	next := e.clone()

	removed := 0
	switch next.kind {
	case kindSingle:
		if match(next.single) {
			m.cache.Del(key)
			m.logger.Debug("cache entry deleted", "key", key)
			return m.restoreFunc(key, snap), nil
		}
	case kindList:
		next.list, removed = deleteItems(next.list, match)
	case kindPaginated:
		next.page.Items, removed = deleteItems(next.page.Items, match)
		next.page.Total -= removed
	}
	if removed == 0 {
		return nil, fmt.Errorf("%w: delete %q", ErrNoMatch, key)
	}

	m.store(key, next)
	m.logger.Debug("cache items deleted", "key", key, "count", removed)
	return m.restoreFunc(key, snap), nil
}

// Replace swaps the whole entry under key for value, which may change its
// shape. A missing entry is created; its Restore invalidates the key again.
func (m *Manager) Replace(key string, value any) (Restore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, existed := m.load(key)
	var snap entry
	if existed {
		snap = prev.clone()
	}

	m.store(key, toEntry(value))
	m.logger.Debug("cache entry replaced", "key", key)
	if !existed {
		return func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.cache.Del(key)
		}, nil
	}
	return m.restoreFunc(key, snap), nil
}

// Invalidate drops the entry under key. The Restore puts it back when one
// was cached.
func (m *Manager) Invalidate(key string) Restore {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, existed := m.load(key)
	m.cache.Del(key)
	if !existed {
		return func() {}
	}
	return m.restoreFunc(key, prev.clone())
}

func (m *Manager) load(key string) (entry, bool) {
	v, ok := m.cache.Get(key)
	if !ok {
		return entry{}, false
	}
	e, ok := v.(entry)
	return e, ok
}

func (m *Manager) store(key string, e entry) {
	m.cache.Set(key, e, 1, m.ttl)
	// Ristretto applies sets asynchronously; wait so the next read
	// observes this write.
	if w, ok := m.cache.(interface{ Wait() }); ok {
		w.Wait()
	}
}

func (m *Manager) restoreFunc(key string, snap entry) Restore {
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.store(key, snap.clone())
	}
}

func toEntry(value any) entry {
	switch v := value.(type) {
	case Paginated:
		v.Items = slices.Clone(v.Items)
		return entry{kind: kindPaginated, page: v}
	case []any:
		return entry{kind: kindList, list: slices.Clone(v)}
	default:
		return entry{kind: kindSingle, single: value}
	}
}

func fromEntry(e entry) any {
	switch e.kind {
	case kindList:
		return e.list
	case kindPaginated:
		return e.page
	default:
		return e.single
	}
}

func insert(items []any, item any, pos Position) []any {
	if pos == PositionStart {
		return append([]any{item}, items...)
	}
	return append(items, item)
}

func updateItems(items []any, match Match, apply Apply) int {
	n := 0
	for i, it := range items {
		if match(it) {
			items[i] = apply(it)
			n++
		}
	}
	return n
}

func deleteItems(items []any, match Match) ([]any, int) {
	kept := items[:0]
	removed := 0
	for _, it := range items {
		if match(it) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	return kept, removed
}
