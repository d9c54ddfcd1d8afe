// Package registry implements the Task Registry (C8): a concurrent map of
// live task.Context values keyed by task id, with admission control bounding
// how many tasks may run at once, per spec.md §4.1 and §5.
//
// The sharded-map shape generalizes the teacher's TaskStore vocabulary
// (core/async_task.go's Create/Get/Update/Delete/Cancel, TaskStatusQueued/
// Running/Completed/Failed/Cancelled) from a single Redis-backed store into
// shardCount independently-mutexed in-memory maps, the shard picked by
// fnv32(task_id) % shardCount so that unrelated tasks never contend on the
// same lock. The admission permit mirrors
// orchestration/executor.go's SmartExecutor.semaphore: a buffered channel
// sized to the concurrency limit, acquired before a task starts running and
// released on every terminal transition.
package registry

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/avalonlabs/taskrunner/task"
)

// ErrNotFound is returned when a task id has no entry in the registry.
var ErrNotFound = errors.New("registry: task not found")

// ErrAlreadyExists is returned by Insert when task_id collides with a live
// entry — spec.md §3 guarantees ids are unique by construction, so this
// indicates caller error rather than a race to be retried.
var ErrAlreadyExists = errors.New("registry: task already exists")

// ErrAlreadyTerminal is returned by Cancel when taskID is registered but has
// already reached a terminal status.
var ErrAlreadyTerminal = errors.New("registry: task already in terminal state")

const defaultShardCount = 16

type shard struct {
	mu    sync.RWMutex
	tasks map[string]*task.Context
}

// Registry is the sharded concurrent map of in-flight task.Context values,
// plus the admission semaphore gating how many may run concurrently.
type Registry struct {
	shards  []*shard
	permits chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithShardCount overrides the default 16-way shard fan-out.
func WithShardCount(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.shards = make([]*shard, n)
			for i := range r.shards {
				r.shards[i] = &shard{tasks: make(map[string]*task.Context)}
			}
		}
	}
}

// New constructs a Registry admitting at most maxConcurrent tasks at once.
// maxConcurrent <= 0 means unbounded admission.
func New(maxConcurrent int, opts ...Option) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	if r.shards == nil {
		r.shards = make([]*shard, defaultShardCount)
		for i := range r.shards {
			r.shards[i] = &shard{tasks: make(map[string]*task.Context)}
		}
	}
	if maxConcurrent > 0 {
		r.permits = make(chan struct{}, maxConcurrent)
	}
	return r
}

func (r *Registry) shardFor(taskID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Acquire blocks until an admission permit is free or ctx is done. Callers
// with an unbounded Registry (maxConcurrent <= 0) always acquire
// immediately. Release must be called exactly once per successful Acquire,
// on every terminal transition (Completed, Failed, Cancelled, TimedOut).
func (r *Registry) Acquire(ctx context.Context) error {
	if r.permits == nil {
		return nil
	}
	select {
	case r.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns an admission permit. Safe to call on an unbounded
// Registry (no-op).
func (r *Registry) Release() {
	if r.permits == nil {
		return
	}
	<-r.permits
}

// Insert adds a newly-born TaskContext. Per spec.md §4.1, insertion is
// unconditional since ids are unique by construction; Insert still guards
// against a caller-supplied duplicate id rather than silently overwriting a
// live task.
func (r *Registry) Insert(tc *task.Context) error {
	s := r.shardFor(tc.TaskID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[tc.TaskID]; exists {
		return ErrAlreadyExists
	}
	s.tasks[tc.TaskID] = tc
	return nil
}

// Get returns the live TaskContext for taskID, or ErrNotFound. The returned
// pointer is shared with the task's own executor goroutine; callers must
// treat it as read-only per spec.md §3's single-writer invariant.
func (r *Registry) Get(taskID string) (*task.Context, error) {
	s := r.shardFor(taskID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	tc, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return tc, nil
}

// Delete removes a task's entry. Called once its terminal TaskResponse has
// been materialized and reported, per spec.md §4.1's lifecycle-ownership
// rule.
func (r *Registry) Delete(taskID string) {
	s := r.shardFor(taskID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
}

// Cancel flips a live task's status to Cancelled so the next cooperative
// check (between phases or steps) observes it and unwinds. Returns
// ErrNotFound if no such task is registered, or an error if the task is
// already in a terminal state.
func (r *Registry) Cancel(taskID string) error {
	s := r.shardFor(taskID)
	s.mu.Lock()
	defer s.mu.Unlock()
	tc, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if isTerminal(tc.Status) {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, tc.Status)
	}
	tc.Status = task.StatusCancelled
	return nil
}

func isTerminal(s task.Status) bool {
	switch s {
	case task.StatusCompleted, task.StatusFailed, task.StatusCancelled, task.StatusTimedOut:
		return true
	default:
		return false
	}
}

// Counts returns the number of registered tasks per status, for
// get_status's active/completed/failed tallies.
func (r *Registry) Counts() map[task.Status]int {
	counts := make(map[task.Status]int)
	for _, s := range r.shards {
		s.mu.RLock()
		for _, tc := range s.tasks {
			counts[tc.Status]++
		}
		s.mu.RUnlock()
	}
	return counts
}

// Len returns the total number of currently-registered tasks across all
// shards.
func (r *Registry) Len() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.tasks)
		s.mu.RUnlock()
	}
	return total
}
