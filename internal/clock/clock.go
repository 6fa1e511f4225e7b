// Package clock implements a Lamport logical clock: a monotonic counter
// used to impose a causal order on task submissions within one orchestrator.
package clock

import "sync"

// Lamport is a mutex-guarded logical counter.
type Lamport struct {
	mu   sync.Mutex
	time int64
}

// New returns a clock starting at zero.
func New() *Lamport {
	return &Lamport{}
}

// Increment records an internal event: submitting a task. Returns the new
// value.
func (c *Lamport) Increment() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time++
	return c.time
}

// Update records receipt of a message carrying receivedTime from another
// process: the clock jumps to max(local, received)+1. Reserved for future
// inter-orchestrator causal exchange; not on the current dispatch path.
func (c *Lamport) Update(receivedTime int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if receivedTime > c.time {
		c.time = receivedTime
	}
	c.time++
	return c.time
}

// Time reads the current value.
func (c *Lamport) Time() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

// SetTime overwrites the counter. Used only by snapshot loading on the
// backup, to resync with the primary's highest observed timestamp.
func (c *Lamport) SetTime(t int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = t
}
