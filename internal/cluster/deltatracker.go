package cluster

import (
	"sync"

	"golang.org/x/exp/constraints"
)

// numeric permits any integer or floating-point delta value.
type numeric interface {
	constraints.Integer | constraints.Float
}

// deltaTracker is a generic, thread-safe tracker for interval-over-interval
// differences, keyed by an arbitrary comparable id. The Coordinator uses one
// to track each device's memory-usage growth between janitor cycles, for
// the contention analysis's growth-rate recommendations.
type deltaTracker[K comparable, V numeric] struct {
	mu       sync.RWMutex
	current  map[K]V
	previous map[K]V
}

func newDeltaTracker[K comparable, V numeric]() *deltaTracker[K, V] {
	return &deltaTracker[K, V]{current: make(map[K]V), previous: make(map[K]V)}
}

// set records the current value for id.
func (t *deltaTracker[K, V]) set(id K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current[id] = value
}

// delta returns the change since the last cycle, or 0 if id has no prior
// value.
func (t *deltaTracker[K, V]) delta(id K) V {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cur, ok := t.current[id]
	if !ok {
		return 0
	}
	prev, ok := t.previous[id]
	if !ok {
		return 0
	}
	return cur - prev
}

// cycle rolls current into previous and starts a fresh interval.
func (t *deltaTracker[K, V]) cycle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.previous = t.current
	t.current = make(map[K]V)
}
