// Package workflow runs a named set of tasks with dependency ordering,
// bounded concurrency and per-task retry. A Workflow is single-use: build it,
// Add tasks, Run once, read the Results map.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"toolgate/internal/bus"
	"toolgate/internal/domain"
	"toolgate/internal/metrics"
	"toolgate/internal/retry"
)

const defaultMaxConcurrency = 4

// Workflow owns an ordered collection of tasks and produces a Results map.
type Workflow struct {
	name           string
	logger         *slog.Logger
	events         *bus.EventBus
	recorder       *metrics.Recorder
	maxConcurrency int
	failFast       bool
	timeout        time.Duration

	tasks []*Task
	index map[string]int

	mu  sync.Mutex
	ran bool
}

// Option configures a Workflow.
type Option func(*Workflow)

func WithLogger(l *slog.Logger) Option        { return func(w *Workflow) { w.logger = l } }
func WithEventBus(b *bus.EventBus) Option     { return func(w *Workflow) { w.events = b } }
func WithRecorder(r *metrics.Recorder) Option { return func(w *Workflow) { w.recorder = r } }
func WithMaxConcurrency(n int) Option         { return func(w *Workflow) { w.maxConcurrency = n } }
func WithFailFast(v bool) Option              { return func(w *Workflow) { w.failFast = v } }
func WithTimeout(d time.Duration) Option      { return func(w *Workflow) { w.timeout = d } }

func New(name string, opts ...Option) *Workflow {
	w := &Workflow{
		name:           name,
		maxConcurrency: defaultMaxConcurrency,
		index:          make(map[string]int),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.maxConcurrency < 1 {
		w.maxConcurrency = 1
	}
	return w
}

// Add appends a task. Duplicate names and nil actions are rejected.
func (w *Workflow) Add(t Task) error {
	if t.Name == "" {
		return fmt.Errorf("workflow %s: task name is empty", w.name)
	}
	if t.Action == nil {
		return fmt.Errorf("workflow %s: task %s has no action", w.name, t.Name)
	}
	if _, exists := w.index[t.Name]; exists {
		return fmt.Errorf("workflow %s: duplicate task name %s", w.name, t.Name)
	}
	task := t
	w.index[t.Name] = len(w.tasks)
	w.tasks = append(w.tasks, &task)
	return nil
}

// taskOutcome is sent by a worker goroutine when a task finishes.
type taskOutcome struct {
	idx      int
	output   any
	err      error
	attempts int
	started  time.Time
	duration time.Duration
}

// Run executes the workflow. It returns an error only for structural
// problems (duplicate run, unknown dependency, dependency cycle); task
// failures are recorded as data in the Results map.
func (w *Workflow) Run(ctx context.Context) (Results, error) {
	w.mu.Lock()
	if w.ran {
		w.mu.Unlock()
		return nil, fmt.Errorf("workflow %s: already ran; build a new workflow to re-run", w.name)
	}
	w.ran = true
	w.mu.Unlock()

	if err := w.validate(); err != nil {
		return nil, err
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	results := make(Results, len(w.tasks))
	status := make([]Status, len(w.tasks))
	pendingDeps := make([]int, len(w.tasks))
	dependents := make([][]int, len(w.tasks))
	for i, t := range w.tasks {
		status[i] = StatusPending
		pendingDeps[i] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			j := w.index[dep]
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i := range w.tasks {
		if pendingDeps[i] == 0 {
			ready = append(ready, i)
		}
	}

	w.publish(bus.EventWorkflowStarted, map[string]any{
		"workflow": w.name,
		"tasks":    len(w.tasks),
	})
	w.logger.Info("workflow started", "workflow", w.name, "tasks", len(w.tasks))

	outcomes := make(chan taskOutcome, len(w.tasks))
	running := 0
	terminal := 0
	aborted := false

	// skip marks a pending task SKIPPED and cascades to its dependents.
	// The task's action is never invoked.
	var skip func(idx int, reason string)
	skip = func(idx int, reason string) {
		if status[idx] != StatusPending {
			return
		}
		status[idx] = StatusSkipped
		terminal++
		results[w.tasks[idx].Name] = TaskResult{
			Name:   w.tasks[idx].Name,
			Status: StatusSkipped,
			Err:    domain.NewError(domain.CodeExecution, "skipped: %s", reason),
		}
		w.publish(bus.EventTaskSkipped, map[string]any{
			"workflow": w.name,
			"task":     w.tasks[idx].Name,
			"reason":   reason,
		})
		for _, dep := range dependents[idx] {
			skip(dep, "dependency "+w.tasks[idx].Name+" skipped")
		}
	}

	for terminal < len(w.tasks) {
		if !aborted {
			// Dispatch ready tasks up to the concurrency bound, higher
			// priority first, insertion order as the tie-break.
			sort.SliceStable(ready, func(a, b int) bool {
				pa, pb := w.tasks[ready[a]].Priority, w.tasks[ready[b]].Priority
				if pa != pb {
					return pa > pb
				}
				return ready[a] < ready[b]
			})
			for len(ready) > 0 && running < w.maxConcurrency {
				idx := ready[0]
				ready = ready[1:]
				status[idx] = StatusRunning
				running++
				w.launch(ctx, idx, outcomes)
			}
		}

		if running == 0 {
			// Nothing in flight: whatever is still pending is unreachable
			// (abort, or an exhausted ready set after failures).
			for i := range w.tasks {
				if status[i] == StatusPending {
					reason := "dependencies not satisfied"
					if aborted {
						reason = "run aborted"
					}
					skip(i, reason)
				}
			}
			break
		}

		oc := <-outcomes
		running--
		terminal++
		t := w.tasks[oc.idx]

		if oc.err != nil {
			status[oc.idx] = StatusFailed
			taskErr := w.normalizeErr(oc.err)
			results[t.Name] = TaskResult{
				Name:      t.Name,
				Status:    StatusFailed,
				Err:       taskErr,
				Attempts:  oc.attempts,
				StartedAt: oc.started,
				Duration:  oc.duration,
			}
			w.logger.Warn("task failed", "workflow", w.name, "task", t.Name, "attempts", oc.attempts, "err", oc.err)
			w.publish(bus.EventTaskFailed, map[string]any{
				"workflow": w.name,
				"task":     t.Name,
				"attempts": oc.attempts,
				"error":    taskErr.Message,
			})
			if w.failFast {
				aborted = true
			} else {
				for _, dep := range dependents[oc.idx] {
					skip(dep, "dependency "+t.Name+" failed")
				}
			}
		} else {
			status[oc.idx] = StatusCompleted
			results[t.Name] = TaskResult{
				Name:      t.Name,
				Status:    StatusCompleted,
				Output:    oc.output,
				Attempts:  oc.attempts,
				StartedAt: oc.started,
				Duration:  oc.duration,
			}
			w.publish(bus.EventTaskCompleted, map[string]any{
				"workflow": w.name,
				"task":     t.Name,
				"attempts": oc.attempts,
			})
			for _, dep := range dependents[oc.idx] {
				pendingDeps[dep]--
				if pendingDeps[dep] == 0 && status[dep] == StatusPending {
					ready = append(ready, dep)
				}
			}
		}
	}

	if results.Success() {
		w.publish(bus.EventWorkflowCompleted, map[string]any{
			"workflow":  w.name,
			"completed": results.Completed(),
		})
		w.observeRun("completed")
		w.logger.Info("workflow completed", "workflow", w.name, "completed", results.Completed())
	} else {
		w.publish(bus.EventWorkflowFailed, map[string]any{
			"workflow":  w.name,
			"completed": results.Completed(),
		})
		w.observeRun("failed")
		w.logger.Warn("workflow failed", "workflow", w.name, "completed", results.Completed())
	}
	return results, nil
}

// launch runs one task in its own goroutine, wrapped by the retry policy.
func (w *Workflow) launch(ctx context.Context, idx int, outcomes chan<- taskOutcome) {
	t := w.tasks[idx]
	if w.recorder != nil {
		w.recorder.TaskStarted()
	}
	w.publish(bus.EventTaskStarted, map[string]any{
		"workflow": w.name,
		"task":     t.Name,
		"priority": t.Priority,
	})

	policy := retry.Policy{
		MaxAttempts: t.MaxRetries + 1,
		BaseDelay:   t.RetryDelay,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			if w.recorder != nil {
				w.recorder.TaskRetried()
			}
			w.publish(bus.EventTaskRetrying, map[string]any{
				"workflow": w.name,
				"task":     t.Name,
				"attempt":  attempt,
				"error":    err.Error(),
			})
		},
	}

	go func() {
		started := time.Now()
		out, attempts, err := retry.DoValue(ctx, policy, func(ctx context.Context) (any, error) {
			return runAction(ctx, t.Action)
		})
		if w.recorder != nil {
			w.recorder.TaskDone()
		}
		outcomes <- taskOutcome{
			idx:      idx,
			output:   out,
			err:      err,
			attempts: attempts,
			started:  started,
			duration: time.Since(started),
		}
	}()
}

// runAction invokes a task body, converting a panic into an error.
func runAction(ctx context.Context, action func(context.Context) (any, error)) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return action(ctx)
}

// normalizeErr folds a task error into the envelope, classifying deadline
// hits as TIMEOUT.
func (w *Workflow) normalizeErr(err error) *domain.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.CodeTimeout, "task exceeded run deadline")
	}
	return domain.Wrap(err)
}

// validate checks that every dependency exists and the graph is acyclic.
func (w *Workflow) validate() error {
	indegree := make([]int, len(w.tasks))
	for _, t := range w.tasks {
		for _, dep := range t.DependsOn {
			if _, ok := w.index[dep]; !ok {
				return fmt.Errorf("workflow %s: task %s depends on unknown task %s", w.name, t.Name, dep)
			}
			if dep == t.Name {
				return fmt.Errorf("workflow %s: task %s depends on itself", w.name, t.Name)
			}
			indegree[w.index[t.Name]]++
		}
	}

	// Kahn's algorithm: if not every task is reachable, there is a cycle.
	queue := make([]int, 0, len(w.tasks))
	for i, d := range indegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	dependents := make([][]int, len(w.tasks))
	for i, t := range w.tasks {
		for _, dep := range t.DependsOn {
			dependents[w.index[dep]] = append(dependents[w.index[dep]], i)
		}
	}
	seen := 0
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		seen++
		for _, d := range dependents[i] {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if seen != len(w.tasks) {
		return fmt.Errorf("workflow %s: dependency cycle detected", w.name)
	}
	return nil
}

func (w *Workflow) publish(t bus.EventType, payload map[string]any) {
	if w.events == nil {
		return
	}
	if err := w.events.Publish(bus.Event{Type: t, Source: "workflow", Payload: payload}); err != nil {
		w.logger.Warn("event publish failed", "type", t, "err", err)
	}
}

func (w *Workflow) observeRun(status string) {
	if w.recorder != nil {
		w.recorder.WorkflowFinished(status)
	}
}
