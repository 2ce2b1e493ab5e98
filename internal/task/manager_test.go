package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/genomebridge/genome-bridge/internal/config"
	"github.com/genomebridge/genome-bridge/internal/errkind"
)

func testOpts() *config.Options {
	return &config.Options{
		MaxConcurrentTasks: 3,
		MaxRetries:         2,
		DefaultTaskTimeout: 5 * time.Second,
		QueueSoftLimit:     256,
		EnableCache:        true,
	}
}

func waitTerminal(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("task %s did not reach a terminal state", task.ID)
	}
}

func TestSubmitRunsToSuccess(t *testing.T) {
	m := New(testOpts())
	task, err := m.Submit("compute_gc", map[string]any{"sequence": "ATCG"}, 5, false,
		func(ctx context.Context, progress func(int, string)) (map[string]any, error) {
			return map[string]any{"gcContent": 50.0}, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, task)
	if task.State() != StateSucceeded {
		t.Fatalf("state = %s, want succeeded", task.State())
	}
	result, _ := task.Result()
	if result["gcContent"] != 50.0 {
		t.Errorf("result = %#v", result)
	}
}

func TestBoundedConcurrency(t *testing.T) {
	opts := testOpts()
	opts.MaxConcurrentTasks = 2
	m := New(opts)

	var current, peak atomic.Int32
	release := make(chan struct{})
	var tasks []*Task
	for i := 0; i < 5; i++ {
		task, err := m.Submit("blast_search", nil, 5, false,
			func(ctx context.Context, progress func(int, string)) (map[string]any, error) {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-release
				current.Add(-1)
				return map[string]any{}, nil
			})
		if err != nil {
			t.Fatal(err)
		}
		tasks = append(tasks, task)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	for _, task := range tasks {
		waitTerminal(t, task)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestPriorityAndFIFOOrder(t *testing.T) {
	opts := testOpts()
	opts.MaxConcurrentTasks = 1
	m := New(opts)

	var mu sync.Mutex
	var order []string
	blockerStarted := make(chan struct{})
	release := make(chan struct{})
	blocker, err := m.Submit("blocker", nil, 0, false,
		func(ctx context.Context, progress func(int, string)) (map[string]any, error) {
			close(blockerStarted)
			<-release
			return map[string]any{}, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	<-blockerStarted

	submit := func(name string, priority int) *Task {
		task, err := m.Submit(name, nil, priority, false,
			func(ctx context.Context, progress func(int, string)) (map[string]any, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return map[string]any{}, nil
			})
		if err != nil {
			t.Fatal(err)
		}
		return task
	}
	// Submission order: low1, high, low2. Expected run order: high, low1, low2.
	tasks := []*Task{submit("low1", 1), submit("high", 9), submit("low2", 1)}

	close(release)
	waitTerminal(t, blocker)
	for _, task := range tasks {
		waitTerminal(t, task)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"high", "low1", "low2"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("run order = %v, want %v", order, want)
		}
	}
}

func TestQueueFull(t *testing.T) {
	opts := testOpts()
	opts.MaxConcurrentTasks = 1
	opts.QueueSoftLimit = 2
	m := New(opts)

	release := make(chan struct{})
	defer close(release)
	blocking := func(ctx context.Context, progress func(int, string)) (map[string]any, error) {
		<-release
		return map[string]any{}, nil
	}
	// One running + two queued fills the queue.
	for i := 0; i < 3; i++ {
		if _, err := m.Submit("slow", nil, 5, false, blocking); err != nil {
			t.Fatal(err)
		}
	}
	_, err := m.Submit("slow", nil, 5, false, blocking)
	if errkind.KindOf(err) != errkind.QueueFull {
		t.Fatalf("kind = %v, want QueueFull", errkind.KindOf(err))
	}
}

func TestCacheHitSkipsExecution(t *testing.T) {
	m := New(testOpts())
	var runs atomic.Int32
	run := func(ctx context.Context, progress func(int, string)) (map[string]any, error) {
		runs.Add(1)
		return map[string]any{"value": "computed"}, nil
	}
	args := map[string]any{"sequence": "ATCGATCG"}

	first, err := m.Submit("compute_gc", args, 5, true, run)
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, first)

	second, err := m.Submit("compute_gc", args, 5, true, run)
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, second)

	if runs.Load() != 1 {
		t.Errorf("runner executed %d times, want 1", runs.Load())
	}
	result, _ := second.Result()
	if result["value"] != "computed" {
		t.Errorf("cached result = %#v", result)
	}
	if second.State() != StateSucceeded {
		t.Errorf("cached task state = %s, want succeeded", second.State())
	}
}

func TestCacheKeyCanonicalizesArgs(t *testing.T) {
	a := CacheKey("tool", map[string]any{"x": 1.0, "y": "z"})
	b := CacheKey("tool", map[string]any{"y": "z", "x": 1.0})
	if a != b {
		t.Error("key differs for identical args in different insertion order")
	}
	if a == CacheKey("other", map[string]any{"x": 1.0, "y": "z"}) {
		t.Error("key ignores tool name")
	}
}

func TestRetryOnRetryableError(t *testing.T) {
	m := New(testOpts())
	var attempts atomic.Int32
	task, err := m.Submit("flaky", nil, 5, false,
		func(ctx context.Context, progress func(int, string)) (map[string]any, error) {
			if attempts.Add(1) < 3 {
				return nil, errkind.E(errkind.UpstreamError, "transient")
			}
			return map[string]any{}, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, task)
	if task.State() != StateSucceeded {
		t.Fatalf("state = %s, want succeeded after retries", task.State())
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestNoRetryOnTerminalError(t *testing.T) {
	m := New(testOpts())
	var attempts atomic.Int32
	task, err := m.Submit("bad", nil, 5, false,
		func(ctx context.Context, progress func(int, string)) (map[string]any, error) {
			attempts.Add(1)
			return nil, errkind.E(errkind.InvalidArguments, "bad input")
		})
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, task)
	if task.State() != StateFailed {
		t.Fatalf("state = %s, want failed", task.State())
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1 (no retry)", attempts.Load())
	}
}

func TestCancelQueuedTask(t *testing.T) {
	opts := testOpts()
	opts.MaxConcurrentTasks = 1
	m := New(opts)

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	m.Submit("blocker", nil, 5, false,
		func(ctx context.Context, progress func(int, string)) (map[string]any, error) {
			close(started)
			<-release
			return map[string]any{}, nil
		})
	<-started

	queued, err := m.Submit("victim", nil, 5, false,
		func(ctx context.Context, progress func(int, string)) (map[string]any, error) {
			t.Error("cancelled queued task still ran")
			return map[string]any{}, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if !m.Cancel(queued.ID) {
		t.Fatal("Cancel returned false for a queued task")
	}
	waitTerminal(t, queued)
	if queued.State() != StateCancelled {
		t.Fatalf("state = %s, want cancelled", queued.State())
	}
}

func TestCancelRunningTask(t *testing.T) {
	m := New(testOpts())
	started := make(chan struct{})
	task, err := m.Submit("long", nil, 5, false,
		func(ctx context.Context, progress func(int, string)) (map[string]any, error) {
			close(started)
			<-ctx.Done()
			return nil, errkind.E(errkind.Cancelled, "observed cancel")
		})
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if !m.Cancel(task.ID) {
		t.Fatal("Cancel returned false for a running task")
	}
	waitTerminal(t, task)
	if task.State() != StateCancelled {
		t.Fatalf("state = %s, want cancelled", task.State())
	}
}

func TestTaskTimeout(t *testing.T) {
	opts := testOpts()
	opts.DefaultTaskTimeout = 50 * time.Millisecond
	m := New(opts)

	task, err := m.Submit("slow", nil, 5, false,
		func(ctx context.Context, progress func(int, string)) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, task)
	if task.State() != StateFailed {
		t.Fatalf("state = %s, want failed", task.State())
	}
	_, resErr := task.Result()
	if errkind.KindOf(resErr) != errkind.TimedOut {
		t.Errorf("kind = %v, want TimedOut", errkind.KindOf(resErr))
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	m := New(testOpts())
	var events []int
	var mu sync.Mutex
	m.SetEventSink(func(event string, payload map[string]any) {
		if event != "task-progress" {
			return
		}
		mu.Lock()
		events = append(events, payload["progress"].(int))
		mu.Unlock()
	})

	task, err := m.Submit("stepper", nil, 5, false,
		func(ctx context.Context, progress func(int, string)) (map[string]any, error) {
			progress(10, "a")
			progress(60, "b")
			progress(30, "regression must clamp")
			progress(90, "c")
			return map[string]any{}, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, task)

	mu.Lock()
	defer mu.Unlock()
	prev := -1
	for _, p := range events {
		if p < prev {
			t.Fatalf("progress regressed: %v", events)
		}
		prev = p
	}
	status, _ := m.Status(task.ID)
	if status["progress"] != 100 {
		t.Errorf("terminal progress = %v, want 100", status["progress"])
	}
}

func TestStatusAndCounts(t *testing.T) {
	m := New(testOpts())
	task, err := m.Submit("quick", nil, 5, false,
		func(ctx context.Context, progress func(int, string)) (map[string]any, error) {
			return map[string]any{}, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, task)

	status, ok := m.Status(task.ID)
	if !ok {
		t.Fatal("Status lost the task")
	}
	if status["state"] != "succeeded" || status["tool"] != "quick" {
		t.Errorf("status = %#v", status)
	}
	if _, ok := m.Status("nonexistent"); ok {
		t.Error("Status found a task that never existed")
	}

	_, _, terminal := m.Counts()
	if terminal != 1 {
		t.Errorf("terminal = %d, want 1", terminal)
	}
}
