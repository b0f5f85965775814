package reconcile

import (
	"sort"
	"sync"
)

// Locker hands out one write lock per entity type. Overlapping reconciles serialize on the
// types they touch; disjoint ones run in parallel.
type Locker struct {
	mu    sync.Mutex
	locks map[EntityType]*sync.RWMutex
}

// NewLocker creates an empty lock registry.
func NewLocker() *Locker {
	return &Locker{locks: make(map[EntityType]*sync.RWMutex)}
}

func (l *Locker) get(t EntityType) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[t]
	if !ok {
		m = &sync.RWMutex{}
		l.locks[t] = m
	}
	return m
}

// Lock acquires the write locks of every given type in sorted order and returns the release func.
func (l *Locker) Lock(types ...EntityType) func() {
	ordered := dedupeSorted(types)
	held := make([]*sync.RWMutex, 0, len(ordered))
	for _, t := range ordered {
		m := l.get(t)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// RLock acquires shared locks for readers that need a stable view across several types.
func (l *Locker) RLock(types ...EntityType) func() {
	ordered := dedupeSorted(types)
	held := make([]*sync.RWMutex, 0, len(ordered))
	for _, t := range ordered {
		m := l.get(t)
		m.RLock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].RUnlock()
		}
	}
}

func dedupeSorted(types []EntityType) []EntityType {
	seen := make(map[EntityType]struct{}, len(types))
	out := make([]EntityType, 0, len(types))
	for _, t := range types {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
