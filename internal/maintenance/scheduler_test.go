package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"toolgate/internal/bus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestScheduler_AddValidation(t *testing.T) {
	s := New(testLogger())
	act := func(ctx context.Context) error { return nil }

	if err := s.Add(Task{Interval: time.Second, Action: act}); err == nil {
		t.Fatal("expected rejection for empty name")
	}
	if err := s.Add(Task{Name: "x", Interval: time.Second}); err == nil {
		t.Fatal("expected rejection for nil action")
	}
	if err := s.Add(Task{Name: "x", Action: act}); err == nil {
		t.Fatal("expected rejection when neither interval nor spec is set")
	}
	if err := s.Add(Task{Name: "x", Interval: time.Second, Spec: "* * * * *", Action: act}); err == nil {
		t.Fatal("expected rejection when both interval and spec are set")
	}
	if err := s.Add(Task{Name: "x", Interval: time.Second, Action: act}); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}
	if err := s.Add(Task{Name: "x", Spec: "* * * * *", Action: act}); err == nil {
		t.Fatal("expected rejection for duplicate name")
	}
}

func TestScheduler_RunOnStartup(t *testing.T) {
	s := New(testLogger())
	ran := make(chan struct{}, 1)
	err := s.Add(Task{
		Name:         "boot",
		Interval:     time.Hour,
		RunOnStartup: true,
		Action: func(ctx context.Context) error {
			ran <- struct{}{}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("startup task did not run")
	}
}

func TestScheduler_TickFiresDueTasks(t *testing.T) {
	s := New(testLogger())
	var runs int32
	ran := make(chan struct{}, 4)
	err := s.Add(Task{
		Name:     "periodic",
		Interval: 10 * time.Millisecond,
		Action: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			ran <- struct{}{}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Drive the tick loop directly with a clock past the next-run mark.
	s.tick(context.Background(), time.Now().Add(time.Second))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("due task did not run")
	}

	// Immediately after firing, the task is rescheduled and not due yet.
	s.tick(context.Background(), time.Now())
	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadInt32(&runs); n != 1 {
		t.Fatalf("task fired while not due: %d runs", n)
	}
}

func TestScheduler_StateTracking(t *testing.T) {
	eb := bus.NewEventBus(testLogger())
	events := make(chan bus.Event, 4)
	if _, err := eb.Subscribe([]bus.EventType{bus.EventMaintenanceRun}, func(e bus.Event) {
		events <- e
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	s := New(testLogger(), WithEventBus(eb))
	if err := s.Add(Task{
		Name:     "failing",
		Interval: time.Hour,
		Action:   func(ctx context.Context) error { return errors.New("cannot vacuum") },
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.execute(context.Background(), "failing")

	select {
	case e := <-events:
		if e.Payload["ok"] != false || e.Payload["task"] != "failing" {
			t.Fatalf("unexpected event payload: %+v", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("maintenance.run event not published")
	}

	states := s.Snapshot()
	if len(states) != 1 {
		t.Fatalf("expected 1 state, got %d", len(states))
	}
	st := states[0]
	if st.Runs != 1 || st.LastStatus != "error" || st.LastRun.IsZero() {
		t.Fatalf("state not tracked: %+v", st)
	}
}

func TestScheduler_PanicIsolated(t *testing.T) {
	s := New(testLogger())
	if err := s.Add(Task{
		Name:     "buggy",
		Interval: time.Hour,
		Action:   func(ctx context.Context) error { panic("task bug") },
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.execute(context.Background(), "buggy")

	if st := s.Snapshot()[0]; st.LastStatus != "error" {
		t.Fatalf("panic must record an error status: %+v", st)
	}
}

func TestScheduler_RemoveAndStop(t *testing.T) {
	s := New(testLogger())
	if err := s.Add(Task{
		Name:     "gone",
		Interval: time.Hour,
		Action:   func(ctx context.Context) error { return nil },
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Remove("gone")
	if len(s.Snapshot()) != 0 {
		t.Fatal("removed task still present")
	}
	// Executing a removed task is a no-op.
	s.execute(context.Background(), "gone")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	s.Stop()
	s.Stop() // idempotent
}
