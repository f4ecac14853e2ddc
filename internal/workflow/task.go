package workflow

import (
	"context"
	"time"

	"toolgate/internal/domain"
)

// Status is the lifecycle state of a task within one run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Task is a unit of schedulable work. Name must be unique within a workflow;
// DependsOn lists tasks that must complete before this one starts.
type Task struct {
	Name       string
	Action     func(ctx context.Context) (any, error)
	DependsOn  []string
	Priority   int           // higher runs first among ready tasks
	MaxRetries int           // extra attempts after the first failure
	RetryDelay time.Duration // backoff base between attempts
}

// TaskResult records the final outcome of one task.
type TaskResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Output    any           `json:"output,omitempty"`
	Err       *domain.Error `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Duration  time.Duration `json:"execution_time"`
}

// Results maps task name to final result for a completed run. It is directly
// serializable for export.
type Results map[string]TaskResult

// Success reports whether every non-skipped task completed.
func (r Results) Success() bool {
	for _, res := range r {
		if res.Status != StatusCompleted && res.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// Completed returns the number of tasks that finished successfully.
func (r Results) Completed() int {
	n := 0
	for _, res := range r {
		if res.Status == StatusCompleted {
			n++
		}
	}
	return n
}
