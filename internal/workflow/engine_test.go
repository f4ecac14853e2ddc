package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"toolgate/internal/bus"
	"toolgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func noop(ctx context.Context) (any, error) { return nil, nil }

func TestWorkflow_DependencyOrder(t *testing.T) {
	w := New("order", WithLogger(testLogger()))

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) (any, error) {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	mustAdd(t, w, Task{Name: "fetch", Action: record("fetch")})
	mustAdd(t, w, Task{Name: "parse", DependsOn: []string{"fetch"}, Action: record("parse")})
	mustAdd(t, w, Task{Name: "store", DependsOn: []string{"parse"}, Action: record("store")})

	results, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !results.Success() {
		t.Fatalf("expected success: %+v", results)
	}
	want := []string{"fetch", "parse", "store"}
	for i, n := range want {
		if order[i] != n {
			t.Fatalf("execution order %v, want %v", order, want)
		}
	}
	if results["parse"].Output != "parse" {
		t.Fatalf("output missing: %+v", results["parse"])
	}
}

func TestWorkflow_FailureSkipsDependents(t *testing.T) {
	w := New("skip", WithLogger(testLogger()))

	invoked := false
	mustAdd(t, w, Task{Name: "a", Action: func(ctx context.Context) (any, error) {
		return nil, errors.New("a broke")
	}})
	mustAdd(t, w, Task{Name: "b", DependsOn: []string{"a"}, Action: func(ctx context.Context) (any, error) {
		invoked = true
		return nil, nil
	}})
	mustAdd(t, w, Task{Name: "c", DependsOn: []string{"b"}, Action: func(ctx context.Context) (any, error) {
		invoked = true
		return nil, nil
	}})
	mustAdd(t, w, Task{Name: "d", Action: noop})

	results, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if invoked {
		t.Fatal("skipped task actions must never be invoked")
	}
	if results["a"].Status != StatusFailed {
		t.Fatalf("a: %s", results["a"].Status)
	}
	if results["b"].Status != StatusSkipped || results["c"].Status != StatusSkipped {
		t.Fatalf("b/c should cascade to skipped: %s / %s", results["b"].Status, results["c"].Status)
	}
	// An independent task still runs.
	if results["d"].Status != StatusCompleted {
		t.Fatalf("d: %s", results["d"].Status)
	}
	if results.Success() {
		t.Fatal("results with failures must not report success")
	}
}

func TestWorkflow_FailFast(t *testing.T) {
	w := New("failfast", WithLogger(testLogger()), WithFailFast(true), WithMaxConcurrency(1))

	ran := int32(0)
	mustAdd(t, w, Task{Name: "first", Action: func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}})
	mustAdd(t, w, Task{Name: "second", Action: func(ctx context.Context) (any, error) {
		atomic.AddInt32(&ran, 1)
		return nil, nil
	}})

	results, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatal("fail-fast run must not start tasks after a failure")
	}
	if results["second"].Status != StatusSkipped {
		t.Fatalf("second: %s", results["second"].Status)
	}
}

func TestWorkflow_ConcurrencyBound(t *testing.T) {
	const bound = 4
	w := New("bound", WithLogger(testLogger()), WithMaxConcurrency(bound))

	var current, peak int32
	for i := 0; i < 100; i++ {
		mustAdd(t, w, Task{
			Name: fmt.Sprintf("task-%d", i),
			Action: func(ctx context.Context) (any, error) {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil, nil
			},
		})
	}

	results, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !results.Success() {
		t.Fatal("expected all tasks to complete")
	}
	if p := atomic.LoadInt32(&peak); p > bound {
		t.Fatalf("observed %d concurrent tasks, bound is %d", p, bound)
	}
}

func TestWorkflow_PriorityOrdering(t *testing.T) {
	// With a single worker, ready tasks must start in priority order.
	w := New("prio", WithLogger(testLogger()), WithMaxConcurrency(1))

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) (any, error) {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	mustAdd(t, w, Task{Name: "low", Priority: 1, Action: record("low")})
	mustAdd(t, w, Task{Name: "high", Priority: 10, Action: record("high")})
	mustAdd(t, w, Task{Name: "mid", Priority: 5, Action: record("mid")})

	if _, err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"high", "mid", "low"}
	for i, n := range want {
		if order[i] != n {
			t.Fatalf("start order %v, want %v", order, want)
		}
	}
}

func TestWorkflow_TaskRetry(t *testing.T) {
	w := New("retry", WithLogger(testLogger()))

	calls := 0
	mustAdd(t, w, Task{
		Name:       "flaky",
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		Action: func(ctx context.Context) (any, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		},
	})

	results, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	r := results["flaky"]
	if r.Status != StatusCompleted || r.Attempts != 3 {
		t.Fatalf("expected completion on attempt 3, got %+v", r)
	}
}

func TestWorkflow_TaskRetryExhausted(t *testing.T) {
	w := New("retry-fail", WithLogger(testLogger()))

	calls := 0
	mustAdd(t, w, Task{
		Name:       "doomed",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Action: func(ctx context.Context) (any, error) {
			calls++
			return nil, errors.New("permanent")
		},
	})

	results, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	r := results["doomed"]
	if calls != 3 || r.Attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got calls=%d attempts=%d", calls, r.Attempts)
	}
	if r.Status != StatusFailed || r.Err == nil || r.Err.Message != "permanent" {
		t.Fatalf("original error must survive retries: %+v", r)
	}
}

func TestWorkflow_PanicInAction(t *testing.T) {
	w := New("panic", WithLogger(testLogger()))
	mustAdd(t, w, Task{Name: "bad", Action: func(ctx context.Context) (any, error) {
		panic("action bug")
	}})

	results, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("run must survive a panicking action: %v", err)
	}
	if results["bad"].Status != StatusFailed {
		t.Fatalf("bad: %s", results["bad"].Status)
	}
}

func TestWorkflow_Timeout(t *testing.T) {
	w := New("slow", WithLogger(testLogger()), WithTimeout(30*time.Millisecond))
	mustAdd(t, w, Task{Name: "sleeper", Action: func(ctx context.Context) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, nil
		}
	}})

	results, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	r := results["sleeper"]
	if r.Status != StatusFailed || r.Err == nil || r.Err.Code != domain.CodeTimeout {
		t.Fatalf("expected TIMEOUT failure, got %+v", r)
	}
}

func TestWorkflow_StructuralErrors(t *testing.T) {
	t.Run("duplicate task", func(t *testing.T) {
		w := New("dup", WithLogger(testLogger()))
		mustAdd(t, w, Task{Name: "a", Action: noop})
		if err := w.Add(Task{Name: "a", Action: noop}); err == nil {
			t.Fatal("expected duplicate name rejection")
		}
	})

	t.Run("unknown dependency", func(t *testing.T) {
		w := New("unknown", WithLogger(testLogger()))
		mustAdd(t, w, Task{Name: "a", DependsOn: []string{"ghost"}, Action: noop})
		if _, err := w.Run(context.Background()); err == nil {
			t.Fatal("expected unknown dependency error")
		}
	})

	t.Run("self dependency", func(t *testing.T) {
		w := New("self", WithLogger(testLogger()))
		mustAdd(t, w, Task{Name: "a", DependsOn: []string{"a"}, Action: noop})
		if _, err := w.Run(context.Background()); err == nil {
			t.Fatal("expected self dependency error")
		}
	})

	t.Run("cycle", func(t *testing.T) {
		w := New("cycle", WithLogger(testLogger()))
		mustAdd(t, w, Task{Name: "a", DependsOn: []string{"b"}, Action: noop})
		mustAdd(t, w, Task{Name: "b", DependsOn: []string{"a"}, Action: noop})
		if _, err := w.Run(context.Background()); err == nil {
			t.Fatal("expected cycle detection")
		}
	})

	t.Run("rerun", func(t *testing.T) {
		w := New("once", WithLogger(testLogger()))
		mustAdd(t, w, Task{Name: "a", Action: noop})
		if _, err := w.Run(context.Background()); err != nil {
			t.Fatalf("first run: %v", err)
		}
		if _, err := w.Run(context.Background()); err == nil {
			t.Fatal("second run must be rejected")
		}
	})
}

func TestWorkflow_Events(t *testing.T) {
	eb := bus.NewEventBus(testLogger())
	var mu sync.Mutex
	counts := map[bus.EventType]int{}
	types := []bus.EventType{
		bus.EventWorkflowStarted, bus.EventWorkflowCompleted, bus.EventWorkflowFailed,
		bus.EventTaskStarted, bus.EventTaskCompleted, bus.EventTaskFailed, bus.EventTaskSkipped,
	}
	if _, err := eb.Subscribe(types, func(e bus.Event) {
		mu.Lock()
		counts[e.Type]++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	w := New("observed", WithLogger(testLogger()), WithEventBus(eb))
	mustAdd(t, w, Task{Name: "ok", Action: noop})
	mustAdd(t, w, Task{Name: "bad", Action: func(ctx context.Context) (any, error) {
		return nil, errors.New("nope")
	}})
	mustAdd(t, w, Task{Name: "after-bad", DependsOn: []string{"bad"}, Action: noop})

	if _, err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if counts[bus.EventWorkflowStarted] != 1 || counts[bus.EventWorkflowFailed] != 1 {
		t.Fatalf("workflow events: %+v", counts)
	}
	if counts[bus.EventTaskCompleted] != 1 || counts[bus.EventTaskFailed] != 1 || counts[bus.EventTaskSkipped] != 1 {
		t.Fatalf("task events: %+v", counts)
	}
	if counts[bus.EventWorkflowCompleted] != 0 {
		t.Fatalf("failed run must not publish workflow.completed: %+v", counts)
	}
}

func mustAdd(t *testing.T, w *Workflow, task Task) {
	t.Helper()
	if err := w.Add(task); err != nil {
		t.Fatalf("add %s: %v", task.Name, err)
	}
}
