package task

import (
	"container/heap"
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/genomebridge/genome-bridge/internal/config"
	"github.com/genomebridge/genome-bridge/internal/errkind"
)

const retryBackoffBase = 500 * time.Millisecond

// EventFunc receives task lifecycle events: "task-progress", "task-completed",
// "task-failed", "task-cancelled". Payload always carries task_id and tool.
type EventFunc func(event string, payload map[string]any)

// Manager schedules long-running tasks over a bounded worker pool. Highest
// priority first, FIFO within a priority. Implements handler.TaskInspector.
type Manager struct {
	opts  *config.Options
	cache *resultCache
	tlog  *transitionLog

	mu      sync.Mutex
	queue   taskHeap
	tasks   map[string]*Task
	running int
	seq     int64
	closed  bool

	onEvent EventFunc
	wg      sync.WaitGroup
}

// New builds a Manager from configuration. Persistence files are only touched
// when EnablePersistence is set; interrupted tasks from a previous run are
// marked failed in the log before any new work starts.
func New(opts *config.Options) *Manager {
	m := &Manager{
		opts:  opts,
		tasks: make(map[string]*Task),
	}
	cachePath := ""
	if opts.EnablePersistence && opts.EnableCache {
		cachePath = opts.CacheFile
	}
	m.cache = newResultCache(cachePath)
	if opts.EnablePersistence {
		m.tlog = newTransitionLog(opts.TaskLogFile)
		m.tlog.markInterrupted()
	}
	return m
}

// SetEventSink wires lifecycle events out (broadcasts, MCP progress
// notifications). Must be called before the first Submit.
func (m *Manager) SetEventSink(fn EventFunc) { m.onEvent = fn }

func (m *Manager) emit(event string, payload map[string]any) {
	if m.onEvent != nil {
		m.onEvent(event, payload)
	}
}

// Submit enqueues a task. On a cache hit the returned task is already
// succeeded and no worker is consumed. Beyond the queue soft limit Submit
// fails QueueFull instead of blocking.
func (m *Manager) Submit(tool string, args map[string]any, priority int, cacheable bool, run Runner) (*Task, error) {
	t := &Task{
		ID:        uuid.NewString(),
		Tool:      tool,
		Priority:  priority,
		createdAt: time.Now(),
		run:       run,
		state:     StateQueued,
		done:      make(chan struct{}),
	}
	if cacheable && m.opts.EnableCache {
		t.CacheKey = CacheKey(tool, args)
		if result, ok := m.cache.get(t.CacheKey); ok {
			t.state = StateSucceeded
			t.progress = 100
			t.result = result
			close(t.done)
			m.mu.Lock()
			m.tasks[t.ID] = t
			m.mu.Unlock()
			log.Debug().Str("tool", tool).Str("task", t.ID).Msg("task served from cache")
			m.emit("task-completed", map[string]any{"task_id": t.ID, "tool": tool, "cached": true})
			return t, nil
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errkind.E(errkind.Internal, "task manager is shut down")
	}
	if len(m.queue) >= m.opts.QueueSoftLimit {
		m.mu.Unlock()
		return nil, errkind.E(errkind.QueueFull, "task queue is full (%d queued)", m.opts.QueueSoftLimit)
	}
	m.seq++
	t.seq = m.seq
	m.tasks[t.ID] = t
	heap.Push(&m.queue, t)
	m.schedule()
	m.mu.Unlock()

	m.logTransition(t, "")
	return t, nil
}

// schedule starts queued tasks while worker capacity remains. Caller holds
// m.mu.
func (m *Manager) schedule() {
	for m.running < m.opts.MaxConcurrentTasks && len(m.queue) > 0 {
		t := heap.Pop(&m.queue).(*Task)
		t.mu.Lock()
		if t.state != StateQueued { // cancelled while queued
			t.mu.Unlock()
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.DefaultTaskTimeout)
		t.state = StateRunning
		t.cancel = cancel
		t.mu.Unlock()

		m.running++
		m.wg.Add(1)
		go m.work(ctx, cancel, t)
	}
}

func (m *Manager) work(ctx context.Context, cancel context.CancelFunc, t *Task) {
	defer m.wg.Done()
	defer cancel()

	m.logTransition(t, "")
	progress := func(pct int, message string) {
		if clamped, ok := t.setProgress(pct, message); ok {
			m.emit("task-progress", map[string]any{
				"task_id":  t.ID,
				"tool":     t.Tool,
				"progress": clamped,
				"message":  message,
			})
		}
	}

	var result map[string]any
	var err error
	for attempt := 0; ; attempt++ {
		result, err = t.run(ctx, progress)
		if err == nil || !errkind.KindOf(err).Retryable() || attempt >= m.opts.MaxRetries {
			break
		}
		delay := retryBackoffBase * time.Duration(1<<attempt)
		delay += time.Duration(float64(delay) * 0.2 * (rand.Float64()*2 - 1))
		log.Debug().Err(err).Str("task", t.ID).Int("attempt", attempt+1).Dur("backoff", delay).
			Msg("task attempt failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = ctxTaskError(ctx)
			goto terminal
		}
	}
	if err != nil && ctx.Err() != nil {
		err = ctxTaskError(ctx)
	}

terminal:
	t.mu.Lock()
	switch {
	case err == nil:
		t.state = StateSucceeded
		t.result = result
		if t.progress > 0 {
			t.progress = 100
		}
	case errkind.KindOf(err) == errkind.Cancelled:
		t.state = StateCancelled
		t.err = err
	default:
		t.state = StateFailed
		t.err = err
	}
	state := t.state
	cacheKey := t.CacheKey
	t.mu.Unlock()
	close(t.done)

	if state == StateSucceeded && cacheKey != "" {
		m.cache.put(cacheKey, result)
	}
	m.logTransition(t, errText(err))

	payload := map[string]any{"task_id": t.ID, "tool": t.Tool}
	switch state {
	case StateSucceeded:
		m.emit("task-completed", payload)
	case StateCancelled:
		m.emit("task-cancelled", payload)
	default:
		payload["error"] = errText(err)
		m.emit("task-failed", payload)
	}

	m.mu.Lock()
	m.running--
	m.schedule()
	m.mu.Unlock()
}

func ctxTaskError(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errkind.E(errkind.TimedOut, "task exceeded its deadline")
	}
	return errkind.E(errkind.Cancelled, "task cancelled")
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Status reports a task snapshot. Implements handler.TaskInspector.
func (m *Manager) Status(taskID string) (map[string]any, bool) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return t.statusMap(), true
}

// Cancel cancels a queued or running task. Queued tasks terminate
// immediately; running workers observe the cancel cooperatively.
func (m *Manager) Cancel(taskID string) bool {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	t.mu.Lock()
	switch t.state {
	case StateQueued:
		t.state = StateCancelled
		t.err = errkind.E(errkind.Cancelled, "cancelled while queued")
		t.mu.Unlock()
		close(t.done)
		m.logTransition(t, "cancelled while queued")
		m.emit("task-cancelled", map[string]any{"task_id": t.ID, "tool": t.Tool})
		return true
	case StateRunning:
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return true
	default:
		t.mu.Unlock()
		return false
	}
}

// Counts reports queue occupancy. Implements handler.TaskInspector.
func (m *Manager) Counts() (queued, running, terminal int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		switch t.State() {
		case StateQueued:
			queued++
		case StateRunning:
			running++
		default:
			terminal++
		}
	}
	return queued, running, terminal
}

// Shutdown stops accepting work and waits for running tasks up to the
// context deadline.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	for len(m.queue) > 0 {
		t := heap.Pop(&m.queue).(*Task)
		t.mu.Lock()
		if t.state == StateQueued {
			t.state = StateCancelled
			t.err = errkind.E(errkind.Cancelled, "shutdown")
			t.mu.Unlock()
			close(t.done)
		} else {
			t.mu.Unlock()
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("shutdown deadline reached with tasks still running")
	}
}

func (m *Manager) logTransition(t *Task, errMsg string) {
	if m.tlog == nil {
		return
	}
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	m.tlog.record(transitionRecord{
		TaskID: t.ID,
		Tool:   t.Tool,
		State:  state,
		At:     time.Now(),
		Error:  errMsg,
	})
}
