package cache

import (
	"sync"
	"time"
)

// ValueSnapshot is the pre-mutation state of a Value.
type ValueSnapshot[T any] struct {
	Value  T
	Set    bool
	Before uint64
	After  uint64
}

// Value holds a singleton record such as the settings or the current user.
type Value[T any] struct {
	kind string

	mu        sync.RWMutex
	value     T
	set       bool
	version   uint64
	updatedAt time.Time
	stale     error
}

// NewValue builds an unset Value.
func NewValue[T any](kind string) *Value[T] {
	return &Value[T]{kind: kind}
}

// Get returns the value and whether one is set.
func (v *Value[T]) Get() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value, v.set
}

// Version returns the current version.
func (v *Value[T]) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// Replace stores a fetched value.
func (v *Value[T]) Replace(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = val
	v.set = true
	v.version++
	v.updatedAt = time.Now()
	v.stale = nil
}

// Clear unsets the value.
func (v *Value[T]) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	var zero T
	v.value = zero
	v.set = false
	v.version++
	v.updatedAt = time.Now()
}

// MarkStale records that the last fetch could not be used; the value is kept.
func (v *Value[T]) MarkStale(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stale = err
}

// Swap applies an optimistic replacement and returns what it replaced.
func (v *Value[T]) Swap(val T) ValueSnapshot[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	snap := ValueSnapshot[T]{Value: v.value, Set: v.set, Before: v.version}
	v.value = val
	v.set = true
	v.version++
	snap.After = v.version
	return snap
}

// Restore reverts to snap if nothing has changed the value since Swap.
func (v *Value[T]) Restore(snap ValueSnapshot[T]) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.version != snap.After {
		return false
	}
	v.value = snap.Value
	v.set = snap.Set
	v.version++
	return true
}

// Status summarizes the value.
func (v *Value[T]) Status() Status {
	v.mu.RLock()
	defer v.mu.RUnlock()
	st := Status{Kind: v.kind, Version: v.version, Loaded: v.set, UpdatedAt: v.updatedAt}
	if v.set {
		st.Count = 1
	}
	if v.stale != nil {
		st.Stale = v.stale.Error()
	}
	return st
}
