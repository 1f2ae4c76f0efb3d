// Package runner executes content jobs as background tasks: the main
// generation runner plus the voiceover and video sub-runners, with
// cooperative cancellation through the task registry.
package runner

import (
	"context"
	"sync"
)

// Registry maps a job id to its running task's cancel handle. All
// operations are mutex-guarded and O(1). Each replica owns only the tasks
// it spawned; cancellation does not cross replicas.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]context.CancelFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]context.CancelFunc)}
}

// Register records a running task's cancel handle. Registering a job id
// twice replaces the prior handle.
func (r *Registry) Register(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[jobID] = cancel
}

// Unregister drops a job's handle. Called from the runner's cleanup path;
// unregistering an unknown id is a no-op.
func (r *Registry) Unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, jobID)
}

// Cancel signals the job's task and reports whether a task was registered.
// The signal returns immediately; the runner observes it at its next
// suspension point and unwinds. Double-cancel is idempotent.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.tasks[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// IsRunning reports whether a task is registered for the job.
func (r *Registry) IsRunning(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[jobID]
	return ok
}
