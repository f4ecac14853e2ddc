// Package tool implements the concurrency-safe tool registry. The registry
// owns per-call execution: it validates arguments, invokes the handler, and
// folds every failure (unknown tool, bad arguments, handler error, panic)
// into a structured ToolResult. Execute never returns a Go error.
package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"toolgate/internal/domain"
	"toolgate/internal/metrics"
	"toolgate/internal/schema"
)

// descriptor is a registry entry. It is immutable after registration; a
// re-register with the same name replaces the whole descriptor.
type descriptor struct {
	name        string
	description string
	rawSchema   map[string]any
	schema      *schema.Schema
	handler     domain.Handler
}

// Registry holds all registered tools and executes them by name.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*descriptor
	logger   *slog.Logger
	recorder *metrics.Recorder
}

// Option configures a Registry.
type Option func(*Registry)

// WithRecorder attaches a metrics recorder; per-call counters and durations
// are recorded on every Execute.
func WithRecorder(rec *metrics.Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*descriptor),
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool under the given name, replacing any existing entry.
// The schema descriptor may be nil for a permissive tool.
func (r *Registry) Register(name string, schemaDef map[string]any, handler domain.Handler) error {
	if name == "" {
		return fmt.Errorf("register: tool name is empty")
	}
	if handler == nil {
		return fmt.Errorf("register %s: handler is nil", name)
	}
	parsed, err := schema.Parse(schemaDef)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}

	r.mu.Lock()
	r.tools[name] = &descriptor{
		name:      name,
		rawSchema: schemaDef,
		schema:    parsed,
		handler:   handler,
	}
	r.mu.Unlock()

	r.logger.Debug("registered tool", "name", name)
	return nil
}

// RegisterTool registers a self-describing Tool implementation.
func (r *Registry) RegisterTool(t domain.Tool) error {
	if err := r.Register(t.Name(), t.Parameters(), t.Execute); err != nil {
		return err
	}
	r.mu.Lock()
	if d, ok := r.tools[t.Name()]; ok {
		d.description = t.Description()
	}
	r.mu.Unlock()
	return nil
}

// Unregister removes a tool. No-op when the name is unknown. The descriptor
// (and its handler closure) is dropped entirely so repeated register/
// unregister cycles do not accumulate memory.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, existed := r.tools[name]
	delete(r.tools, name)
	r.mu.Unlock()
	if existed {
		r.logger.Debug("unregistered tool", "name", name)
	}
}

// Execute runs a single tool call. Every outcome is a ToolResult; failures
// carry the structured envelope and never escape as errors or panics.
func (r *Registry) Execute(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	r.mu.RLock()
	d, ok := r.tools[call.Name]
	r.mu.RUnlock()

	start := time.Now()
	if !ok {
		res := domain.Failure(domain.NewError(domain.CodeNotFound, "unknown tool: %s", call.Name))
		r.observe(call.Name, res, start)
		return res
	}

	if err := d.schema.Validate(call.Arguments); err != nil {
		res := domain.Failure(err)
		r.observe(call.Name, res, start)
		return res
	}

	out, err := invoke(ctx, d.handler, call.Arguments)
	var res domain.ToolResult
	if err != nil {
		r.logger.Warn("tool execution failed", "name", call.Name, "err", err)
		res = domain.Failure(err)
	} else {
		res = domain.Success(out)
	}
	r.observe(call.Name, res, start)
	return res
}

// invoke calls the handler, converting a panic into an error so a misbehaving
// collaborator cannot crash the host.
func invoke(ctx context.Context, h domain.Handler, args map[string]any) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = domain.NewError(domain.CodeExecution, "tool panicked: %v", rec)
		}
	}()
	return h(ctx, args)
}

func (r *Registry) observe(name string, res domain.ToolResult, start time.Time) {
	if r.recorder == nil {
		return
	}
	r.recorder.ObserveToolCall(name, string(res.Status), time.Since(start))
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions exports every registered tool's name, description and schema.
func (r *Registry) Definitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, d := range r.tools {
		defs = append(defs, domain.ToolDefinition{
			Name:        d.name,
			Description: d.description,
			Parameters:  d.rawSchema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Param describes a single tool parameter for ToolParameters.
type Param struct {
	Type        string
	Description string
}

// ToolParameters builds a JSON-Schema "parameters" object for a tool.
func ToolParameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any)
	for name, p := range properties {
		props[name] = map[string]any{"type": p.Type, "description": p.Description}
	}
	def := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		def["required"] = required
	}
	return def
}

// ArgsString extracts a string argument, tolerating non-string values.
func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}
