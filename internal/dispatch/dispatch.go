// Package dispatch implements the round-robin worker selector.
package dispatch

import (
	"sort"
	"sync"
)

// RoundRobin holds a sorted list of worker ids and a cursor into it.
// Sorting gives a stable, deterministic rotation independent of
// map-iteration order, so two orchestrators observing the same active set
// produce the same sequence of assignments.
type RoundRobin struct {
	mu      sync.Mutex
	workers []string
	cursor  int
}

// New returns an empty dispatcher.
func New() *RoundRobin {
	return &RoundRobin{}
}

// UpdateWorkers replaces the internal list with a sorted copy of workers.
// If the cursor falls outside the new length, it resets to 0.
func (d *RoundRobin) UpdateWorkers(workers []string) {
	sorted := append([]string(nil), workers...)
	sort.Strings(sorted)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.workers = sorted
	if d.cursor >= len(d.workers) {
		d.cursor = 0
	}
}

// Next returns the worker at the cursor and advances it, wrapping modulo
// the list length. Returns "", false if no workers are active.
func (d *RoundRobin) Next() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.workers) == 0 {
		return "", false
	}
	if d.cursor >= len(d.workers) {
		d.cursor = 0
	}
	w := d.workers[d.cursor]
	d.cursor = (d.cursor + 1) % len(d.workers)
	return w, true
}
