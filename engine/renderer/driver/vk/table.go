package vkdriver

import (
	"sync"
	"sync/atomic"
)

// table maps opaque driver handles to native Vulkan handles.
type table[T any] struct {
	mu   sync.RWMutex
	next *atomic.Uint64
	m    map[uint64]T
}

func newTable[T any](next *atomic.Uint64) *table[T] {
	return &table[T]{next: next, m: make(map[uint64]T)}
}

func (t *table[T]) put(v T) uint64 {
	h := t.next.Add(1)
	t.mu.Lock()
	t.m[h] = v
	t.mu.Unlock()
	return h
}

func (t *table[T]) get(h uint64) T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m[h]
}

func (t *table[T]) take(h uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.m[h]
	delete(t.m, h)
	return v, ok
}

func (t *table[T]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}
