package domain

import "context"

// Handler is the contract every registered tool fulfills: it receives the
// validated argument map and returns an arbitrary payload or an error.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is the interface for self-describing capabilities (builtins, external
// collaborators). Anything implementing it can be registered by name.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// ToolDefinition describes a registered tool in an export-friendly shape.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is a single invocation request. It is created per call and owned
// by the caller; the runtime never mutates it.
type ToolCall struct {
	Name      string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// ResultStatus is the outcome tag of a ToolResult.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusFailure ResultStatus = "failure"
)

// ToolResult is the uniform outcome of a tool invocation. Exactly one of
// Data/Error is populated depending on Status.
type ToolResult struct {
	Status ResultStatus `json:"status"`
	Data   any          `json:"data,omitempty"`
	Error  *Error       `json:"error,omitempty"`
}

// Success wraps a handler payload into a success result.
func Success(data any) ToolResult {
	return ToolResult{Status: StatusSuccess, Data: data}
}

// Failure wraps an error into a failure result, normalizing it into the
// structured envelope if it is not one already.
func Failure(err error) ToolResult {
	return ToolResult{Status: StatusFailure, Error: Wrap(err)}
}

// OK reports whether the result carries a success status.
func (r ToolResult) OK() bool { return r.Status == StatusSuccess }
