package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"toolgate/internal/domain"
)

// Builtin example tools. echo and sysinfo are read-only (safe); file_write
// mutates the workspace and is classified destructive by default config.

// EchoTool returns its message argument unchanged.
type EchoTool struct{}

func (t *EchoTool) Name() string        { return "echo" }
func (t *EchoTool) Description() string { return "Echo a message back. Useful for connectivity checks." }

func (t *EchoTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"msg": {Type: "string", Description: "Message to echo"},
	}, []string{"msg"})
}

func (t *EchoTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{"msg": ArgsString(args, "msg")}, nil
}

// SysinfoTool reports basic process/host facts.
type SysinfoTool struct{}

func (t *SysinfoTool) Name() string        { return "sysinfo" }
func (t *SysinfoTool) Description() string { return "Report OS, architecture, CPU count and process memory." }

func (t *SysinfoTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{}, nil)
}

func (t *SysinfoTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]any{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
		"goroutines": runtime.NumGoroutine(),
		"heap_bytes": m.HeapAlloc,
		"time":       time.Now().Format(time.RFC3339),
	}, nil
}

// FileWriteTool writes content to a file inside the workspace directory.
type FileWriteTool struct {
	Workspace string
}

func (t *FileWriteTool) Name() string        { return "file_write" }
func (t *FileWriteTool) Description() string { return "Write content to a file in the workspace." }

func (t *FileWriteTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"path":    {Type: "string", Description: "Path relative to the workspace"},
		"content": {Type: "string", Description: "File content"},
	}, []string{"path", "content"})
}

func (t *FileWriteTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	rel := ArgsString(args, "path")
	full := filepath.Join(t.Workspace, filepath.Clean("/"+rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	content := ArgsString(args, "content")
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return map[string]any{"path": full, "bytes": len(content)}, nil
}

var (
	_ domain.Tool = (*EchoTool)(nil)
	_ domain.Tool = (*SysinfoTool)(nil)
	_ domain.Tool = (*FileWriteTool)(nil)
)
