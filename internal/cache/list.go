// Package cache holds the in-memory mirrors of server-owned collections.
//
// Every mutation bumps a per-cache version. A rollback carries the version its
// own mutation produced and is only applied while the cache is still at that
// version, so a stale rollback cannot clobber a later commit or fetch.
package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotFound reports an update or delete for an unknown identifier.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate reports two records sharing an identifier.
	ErrDuplicate = errors.New("duplicate record id")
)

// Status summarizes a cache for display.
type Status struct {
	Kind      string
	Count     int
	Version   uint64
	Loaded    bool
	UpdatedAt time.Time
	Stale     string
}

// Snapshot is the pre-mutation state of a List plus the versions around the
// mutation that produced it.
type Snapshot[T any] struct {
	Items  []T
	Before uint64
	After  uint64
}

// List is an ordered collection of records keyed by identifier.
type List[T any] struct {
	kind string
	id   func(T) string

	mu        sync.RWMutex
	items     []T
	version   uint64
	loaded    bool
	updatedAt time.Time
	stale     error
}

// NewList builds an empty List. id extracts a record's identifier.
func NewList[T any](kind string, id func(T) string) *List[T] {
	return &List[T]{kind: kind, id: id}
}

// Kind returns the entity kind name.
func (l *List[T]) Kind() string {
	return l.kind
}

// ID returns rec's identifier.
func (l *List[T]) ID(rec T) string {
	return l.id(rec)
}

// Items returns a copy of the records in order.
func (l *List[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneItems(l.items)
}

// Len returns the number of records.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Version returns the current version.
func (l *List[T]) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Find returns the record with id.
func (l *List[T]) Find(id string) (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := l.indexOf(id); i >= 0 {
		return l.items[i], true
	}
	var zero T
	return zero, false
}

// Replace swaps the whole contents for items, as after a successful fetch.
func (l *List[T]) Replace(items []T) error {
	seen := make(map[string]struct{}, len(items))
	for _, rec := range items {
		key := l.id(rec)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%s %q: %w", l.kind, key, ErrDuplicate)
		}
		seen[key] = struct{}{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = cloneItems(items)
	l.version++
	l.loaded = true
	l.updatedAt = time.Now()
	l.stale = nil
	return nil
}

// MarkStale records that the last fetch could not be used; contents are kept.
func (l *List[T]) MarkStale(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stale = err
}

// Append adds rec at the end.
func (l *List[T]) Append(rec T) (Snapshot[T], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.indexOf(l.id(rec)) >= 0 {
		return Snapshot[T]{}, fmt.Errorf("%s %q: %w", l.kind, l.id(rec), ErrDuplicate)
	}
	snap := l.begin()
	l.items = append(cloneItems(l.items), rec)
	return l.commit(snap), nil
}

// ReplaceByID swaps the record with id for rec, keeping its position.
func (l *List[T]) ReplaceByID(id string, rec T) (Snapshot[T], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexOf(id)
	if i < 0 {
		return Snapshot[T]{}, fmt.Errorf("%s %q: %w", l.kind, id, ErrNotFound)
	}
	if newID := l.id(rec); newID != id && l.indexOf(newID) >= 0 {
		return Snapshot[T]{}, fmt.Errorf("%s %q: %w", l.kind, newID, ErrDuplicate)
	}
	snap := l.begin()
	next := cloneItems(l.items)
	next[i] = rec
	l.items = next
	return l.commit(snap), nil
}

// RemoveByID drops the record with id.
func (l *List[T]) RemoveByID(id string) (Snapshot[T], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexOf(id)
	if i < 0 {
		return Snapshot[T]{}, fmt.Errorf("%s %q: %w", l.kind, id, ErrNotFound)
	}
	snap := l.begin()
	next := make([]T, 0, len(l.items)-1)
	next = append(next, l.items[:i]...)
	next = append(next, l.items[i+1:]...)
	l.items = next
	return l.commit(snap), nil
}

// Restore reverts to snap if nothing has touched the cache since the mutation
// that produced it. It reports whether the rollback was applied.
func (l *List[T]) Restore(snap Snapshot[T]) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.version != snap.After {
		return false
	}
	l.items = cloneItems(snap.Items)
	l.version++
	return true
}

// Status summarizes the cache.
func (l *List[T]) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := Status{
		Kind:      l.kind,
		Count:     len(l.items),
		Version:   l.version,
		Loaded:    l.loaded,
		UpdatedAt: l.updatedAt,
	}
	if l.stale != nil {
		st.Stale = l.stale.Error()
	}
	return st
}

func (l *List[T]) begin() Snapshot[T] {
	return Snapshot[T]{Items: cloneItems(l.items), Before: l.version}
}

func (l *List[T]) commit(snap Snapshot[T]) Snapshot[T] {
	l.version++
	snap.After = l.version
	return snap
}

func (l *List[T]) indexOf(id string) int {
	for i, rec := range l.items {
		if l.id(rec) == id {
			return i
		}
	}
	return -1
}

func cloneItems[T any](items []T) []T {
	if len(items) == 0 {
		return nil
	}
	dup := make([]T, len(items))
	copy(dup, items)
	return dup
}
