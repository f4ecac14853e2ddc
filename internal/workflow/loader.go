package workflow

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"toolgate/internal/domain"
)

// ToolCaller resolves a named tool invocation; the trust gateway satisfies
// this, so file-defined tasks go through the gated path.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (domain.ToolResult, error)
}

// fileWorkflow is the YAML shape of a declarative workflow definition.
type fileWorkflow struct {
	Name           string     `yaml:"name"`
	MaxConcurrency int        `yaml:"max_concurrency"`
	FailFast       bool       `yaml:"fail_fast"`
	TimeoutSeconds int        `yaml:"timeout_seconds"`
	Tasks          []fileTask `yaml:"tasks"`
}

type fileTask struct {
	Name              string         `yaml:"name"`
	Tool              string         `yaml:"tool"`
	Args              map[string]any `yaml:"args"`
	DependsOn         []string       `yaml:"depends_on"`
	Priority          int            `yaml:"priority"`
	MaxRetries        int            `yaml:"max_retries"`
	RetryDelaySeconds float64        `yaml:"retry_delay_seconds"`
}

// LoadFile reads a YAML workflow definition and binds each task to a gated
// tool call through the given caller.
func LoadFile(path string, caller ToolCaller, opts ...Option) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return Load(data, caller, opts...)
}

// Load parses a YAML workflow definition.
func Load(data []byte, caller ToolCaller, opts ...Option) (*Workflow, error) {
	var def fileWorkflow
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("workflow definition has no name")
	}
	if len(def.Tasks) == 0 {
		return nil, fmt.Errorf("workflow %s defines no tasks", def.Name)
	}

	if def.MaxConcurrency > 0 {
		opts = append(opts, WithMaxConcurrency(def.MaxConcurrency))
	}
	if def.FailFast {
		opts = append(opts, WithFailFast(true))
	}
	if def.TimeoutSeconds > 0 {
		opts = append(opts, WithTimeout(time.Duration(def.TimeoutSeconds)*time.Second))
	}

	w := New(def.Name, opts...)
	for _, ft := range def.Tasks {
		if ft.Tool == "" {
			return nil, fmt.Errorf("workflow %s: task %s names no tool", def.Name, ft.Name)
		}
		toolName, args := ft.Tool, ft.Args
		task := Task{
			Name:       ft.Name,
			DependsOn:  ft.DependsOn,
			Priority:   ft.Priority,
			MaxRetries: ft.MaxRetries,
			RetryDelay: time.Duration(ft.RetryDelaySeconds * float64(time.Second)),
			Action: func(ctx context.Context) (any, error) {
				res, err := caller.Call(ctx, toolName, args)
				if err != nil {
					return nil, err
				}
				if !res.OK() {
					return nil, res.Error
				}
				return res.Data, nil
			},
		}
		if err := w.Add(task); err != nil {
			return nil, err
		}
	}
	return w, nil
}
