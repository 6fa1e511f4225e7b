// Package store implements the State Store: the single authoritative,
// mutex-guarded home for tasks, the pending queue, and worker liveness.
// No other package mutates this state directly.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"distask/internal/clock"
	"distask/internal/task"
)

// ErrSnapshotInvalid is returned by LoadSnapshot when the payload is
// malformed or missing required fields. The store is left unchanged.
var ErrSnapshotInvalid = errors.New("invalid state snapshot")

// WorkerEntry is what the store knows about one worker: the address its
// heartbeats were last observed from, and when.
type WorkerEntry struct {
	ID            string
	Host          string
	SourcePort    int
	LastHeartbeat time.Time
}

// Active reports whether the worker has heartbeated within timeout of now.
func (w WorkerEntry) Active(now time.Time, timeout time.Duration) bool {
	return now.Sub(w.LastHeartbeat) <= timeout
}

// Store is the in-memory task table, pending queue, and worker table, all
// guarded by a single mutex. Every method below is externally atomic.
type Store struct {
	mu      sync.Mutex
	tasks   map[string]*task.Task
	pending []string
	workers map[string]*WorkerEntry
}

// New returns an empty store.
func New() *Store {
	return &Store{
		tasks:   make(map[string]*task.Task),
		pending: make([]string, 0, 16),
		workers: make(map[string]*WorkerEntry),
	}
}

// AddTask inserts t into the task table as PENDING with no assigned worker
// and appends its id to the pending queue. Used both for fresh submissions
// (tail) and for dispatch-failure re-queues, which also append at the tail
// per spec §3.
func (s *Store) AddTask(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Status = task.Pending
	t.AssignedWorker = ""
	s.tasks[t.ID] = t
	s.pending = append(s.pending, t.ID)
}

// GetNextTask pops the head of the pending queue and flips it to
// IN_PROGRESS in the same atomic step: no observer ever sees a task
// dequeued but still PENDING, or IN_PROGRESS while still enqueued.
func (s *Store) GetNextTask() (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]
		t, ok := s.tasks[id]
		if !ok {
			continue
		}
		t.Status = task.InProgress
		return t, true
	}
	return nil, false
}

// UpdateWorkerHeartbeat upserts a worker's last-seen address and timestamp.
// First sighting of a worker id is the caller's cue to log.
func (s *Store) UpdateWorkerHeartbeat(workerID, host string, sourcePort int, now time.Time) (firstSighting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		w = &WorkerEntry{ID: workerID}
		s.workers[workerID] = w
		firstSighting = true
	}
	w.Host = host
	w.SourcePort = sourcePort
	w.LastHeartbeat = now
	return firstSighting
}

// WorkerAddr returns the last-observed source host for a worker, used by
// the dispatch loop to compute the outbound task-port address.
func (s *Store) WorkerAddr(workerID string) (host string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		return "", false
	}
	return w.Host, true
}

// CheckDeadWorkers removes workers whose last heartbeat is older than
// timeout, resets their in-flight tasks to PENDING (prepended to the
// queue to expedite recovery), and returns the ids that remain active.
func (s *Store) CheckDeadWorkers(now time.Time, timeout time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dead []string
	for id, w := range s.workers {
		if now.Sub(w.LastHeartbeat) > timeout {
			dead = append(dead, id)
		}
	}

	for _, deadID := range dead {
		delete(s.workers, deadID)
		var rescued []string
		for _, t := range s.tasks {
			if t.AssignedWorker == deadID && t.Status == task.InProgress {
				t.Status = task.Pending
				t.AssignedWorker = ""
				rescued = append(rescued, t.ID)
			}
		}
		// Prepend rescued task ids at the head, in map-iteration order,
		// which is not deterministic (spec: "prepended... in some order"
		// is explicitly allowed, so no sort is applied).
		if len(rescued) > 0 {
			s.pending = append(rescued, s.pending...)
		}
	}

	active := make([]string, 0, len(s.workers))
	for id := range s.workers {
		active = append(active, id)
	}
	return active
}

// UpdateTaskStatus sets status (and, if non-nil, result) for a known task.
// An unknown id is a silent no-op: orphan completions are tolerated.
func (s *Store) UpdateTaskStatus(taskID string, status task.Status, result interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return
	}
	t.Status = status
	if result != nil {
		t.Result = result
	}
}

// SetAssignedWorker marks t as dispatched to workerID. Called by the
// dispatch loop after a successful outbound send.
func (s *Store) SetAssignedWorker(taskID, workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		t.AssignedWorker = workerID
	}
}

// GetTaskStatus returns a snapshot view of one task's current attributes.
func (s *Store) GetTaskStatus(taskID string) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// PendingCount returns the current pending-queue depth.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// WorkerCount returns the number of workers currently tracked (not
// necessarily active; callers wanting "active" should use the return
// value of CheckDeadWorkers instead).
func (s *Store) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// --- Snapshotting -----------------------------------------------------

type workerSnapshot struct {
	Host          string  `json:"host"`
	SourcePort    int     `json:"port"`
	LastHeartbeat float64 `json:"last_heartbeat"`
}

type stateSnapshot struct {
	Tasks        map[string]*task.Task     `json:"tasks"`
	PendingTasks []string                  `json:"pending_tasks"`
	Workers      map[string]workerSnapshot `json:"workers"`
}

// Snapshot produces a self-describing serialization of {tasks,
// pending_tasks, workers} sufficient to rebuild state identically. Taken
// under the store's lock, so it is a point-in-time consistent view.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := stateSnapshot{
		Tasks:        make(map[string]*task.Task, len(s.tasks)),
		PendingTasks: append([]string(nil), s.pending...),
		Workers:      make(map[string]workerSnapshot, len(s.workers)),
	}
	for id, t := range s.tasks {
		snap.Tasks[id] = t
	}
	for id, w := range s.workers {
		snap.Workers[id] = workerSnapshot{
			Host:          w.Host,
			SourcePort:    w.SourcePort,
			LastHeartbeat: float64(w.LastHeartbeat.UnixNano()) / 1e9,
		}
	}
	return json.Marshal(snap)
}

// LoadSnapshot replaces tasks, pending queue, and workers wholesale from a
// decoded snapshot, and sets clk to the highest lamport timestamp observed
// across all tasks. Malformed payloads are rejected without mutating state.
func (s *Store) LoadSnapshot(data []byte, clk *clock.Lamport) error {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotInvalid, err)
	}
	if snap.Tasks == nil || snap.Workers == nil {
		return fmt.Errorf("%w: missing tasks or workers", ErrSnapshotInvalid)
	}

	workers := make(map[string]*WorkerEntry, len(snap.Workers))
	for id, w := range snap.Workers {
		sec := int64(w.LastHeartbeat)
		nsec := int64((w.LastHeartbeat - float64(sec)) * 1e9)
		workers[id] = &WorkerEntry{
			ID:            id,
			Host:          w.Host,
			SourcePort:    w.SourcePort,
			LastHeartbeat: time.Unix(sec, nsec),
		}
	}

	var maxTS int64
	for _, t := range snap.Tasks {
		if t.LamportTS > maxTS {
			maxTS = t.LamportTS
		}
	}

	s.mu.Lock()
	s.tasks = snap.Tasks
	s.pending = snap.PendingTasks
	s.workers = workers
	s.mu.Unlock()

	if clk != nil {
		clk.SetTime(maxTS)
	}
	return nil
}
