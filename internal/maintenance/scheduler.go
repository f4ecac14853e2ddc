// Package maintenance runs recurring housekeeping tasks: fixed-interval
// tasks on a ticker loop and cron-expression tasks via robfig/cron. Task
// failures are logged and published, never fatal to the scheduler.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"toolgate/internal/bus"
)

// Task is a recurring unit of work. Exactly one of Interval or Spec must be
// set: Interval for fixed-period tasks, Spec for cron expressions.
type Task struct {
	Name         string
	Interval     time.Duration
	Spec         string // cron expression, e.g. "0 3 * * *"
	RunOnStartup bool
	Action       func(ctx context.Context) error
}

// State is the serializable per-task run state.
type State struct {
	Name       string    `json:"name"`
	LastRun    time.Time `json:"last_run,omitzero"`
	NextRun    time.Time `json:"next_run,omitzero"`
	LastStatus string    `json:"last_status,omitempty"` // ok | error
	Runs       int       `json:"runs"`
}

type entry struct {
	task  Task
	state State
}

// Scheduler owns the recurring tasks and their run state.
type Scheduler struct {
	mu       sync.Mutex
	entries  map[string]*entry
	cron     *cron.Cron
	cronIDs  map[string]cron.EntryID
	logger   *slog.Logger
	events   *bus.EventBus
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithEventBus(b *bus.EventBus) Option { return func(s *Scheduler) { s.events = b } }

func New(logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		entries: make(map[string]*entry),
		cronIDs: make(map[string]cron.EntryID),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a task. Must be called before Start.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" {
		return fmt.Errorf("maintenance task has no name")
	}
	if t.Action == nil {
		return fmt.Errorf("maintenance task %s has no action", t.Name)
	}
	if (t.Interval <= 0) == (t.Spec == "") {
		return fmt.Errorf("maintenance task %s: exactly one of interval or cron spec required", t.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[t.Name]; exists {
		return fmt.Errorf("maintenance task %s already registered", t.Name)
	}
	e := &entry{task: t, state: State{Name: t.Name}}
	if t.Interval > 0 {
		e.state.NextRun = time.Now().Add(t.Interval)
	}
	s.entries[t.Name] = e
	s.logger.Info("maintenance task added", "name", t.Name, "interval", t.Interval, "spec", t.Spec)
	return nil
}

// Remove drops a task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.cronIDs[name]; ok && s.cron != nil {
		s.cron.Remove(id)
		delete(s.cronIDs, name)
	}
	delete(s.entries, name)
}

// Start launches the scheduler: startup tasks run immediately, cron tasks
// are handed to the cron runner, interval tasks tick on a one-second loop.
// Blocks until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron = cron.New()

	s.mu.Lock()
	for _, e := range s.entries {
		if e.task.RunOnStartup {
			go s.execute(ctx, e.task.Name)
		}
		if e.task.Spec != "" {
			name := e.task.Name
			id, err := s.cron.AddFunc(e.task.Spec, func() { s.execute(ctx, name) })
			if err != nil {
				s.logger.Error("invalid cron spec, task disabled", "name", name, "spec", e.task.Spec, "err", err)
				continue
			}
			s.cronIDs[name] = id
		}
	}
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("maintenance scheduler started", "tasks", len(s.entries))

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// Stop halts the scheduler. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.shutdown()
}

func (s *Scheduler) shutdown() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			s.cron.Stop()
		}
		close(s.stopCh)
		s.logger.Info("maintenance scheduler stopped")
	})
}

// tick fires interval tasks whose next run is due.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []string
	for name, e := range s.entries {
		if e.task.Interval > 0 && now.After(e.state.NextRun) {
			e.state.NextRun = now.Add(e.task.Interval)
			due = append(due, name)
		}
	}
	s.mu.Unlock()

	for _, name := range due {
		go s.execute(ctx, name)
	}
}

func (s *Scheduler) execute(ctx context.Context, name string) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	task := e.task
	s.mu.Unlock()

	s.logger.Info("maintenance task running", "name", name)
	err := runSafe(ctx, task.Action)

	s.mu.Lock()
	if e, ok := s.entries[name]; ok {
		e.state.LastRun = time.Now()
		e.state.Runs++
		if err != nil {
			e.state.LastStatus = "error"
		} else {
			e.state.LastStatus = "ok"
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("maintenance task failed", "name", name, "err", err)
	}
	if s.events != nil {
		payload := map[string]any{"task": name, "ok": err == nil}
		if err != nil {
			payload["error"] = err.Error()
		}
		if perr := s.events.Publish(bus.Event{Type: bus.EventMaintenanceRun, Source: "maintenance", Payload: payload}); perr != nil {
			s.logger.Warn("event publish failed", "err", perr)
		}
	}
}

func runSafe(ctx context.Context, action func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("maintenance task panicked: %v", r)
		}
	}()
	return action(ctx)
}

// Snapshot returns the per-task run state, sorted by name.
func (s *Scheduler) Snapshot() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make([]State, 0, len(s.entries))
	for _, e := range s.entries {
		states = append(states, e.state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}
