// Package task runs long-running tool calls on a bounded worker pool with
// priority scheduling, progress events, cooperative cancellation, retries,
// and an optional persisted result cache.
package task

import (
	"context"
	"sync"
	"time"
)

// State is the task lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Runner executes the task body. It must observe ctx cooperatively; progress
// calls are advisory and also serve as cancellation observation points.
type Runner func(ctx context.Context, progress func(pct int, message string)) (map[string]any, error)

// Task is one managed long-running call.
type Task struct {
	ID       string
	Tool     string
	Priority int
	CacheKey string

	seq       int64
	createdAt time.Time
	run       Runner

	mu          sync.Mutex
	state       State
	progress    int
	progressMsg string
	result      map[string]any
	err         error
	cancel      context.CancelFunc

	done chan struct{}
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the terminal outcome. Only meaningful after Done.
func (t *Task) Result() (map[string]any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// setProgress keeps progress monotonically non-decreasing while running.
func (t *Task) setProgress(pct int, message string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return t.progress, false
	}
	if pct < t.progress {
		pct = t.progress
	}
	if pct > 100 {
		pct = 100
	}
	t.progress = pct
	t.progressMsg = message
	return pct, true
}

func (t *Task) statusMap() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := map[string]any{
		"task_id":    t.ID,
		"tool":       t.Tool,
		"state":      string(t.state),
		"priority":   t.Priority,
		"progress":   t.progress,
		"message":    t.progressMsg,
		"created_at": t.createdAt.UTC().Format(time.RFC3339),
	}
	if t.result != nil {
		m["result"] = t.result
	}
	if t.err != nil {
		m["error"] = t.err.Error()
	}
	return m
}
