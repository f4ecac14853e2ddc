package audit

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"toolgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_LogAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []domain.AuditEntry{
		{Action: "trust_promoted", ToolName: "echo", Level: "VERIFIED", Result: "promoted", Details: "verify_capabilities"},
		{Action: "call_denied", ToolName: "file_write", Level: "UNTRUSTED", Result: "denied"},
		{Action: "tool_exec", ToolName: "echo", Level: "VERIFIED", Result: "success"},
	}
	for _, e := range entries {
		if err := s.LogAudit(ctx, e); err != nil {
			t.Fatalf("log %s: %v", e.Action, err)
		}
	}

	records, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	// Newest first.
	if records[0].Action != "tool_exec" || records[2].Action != "trust_promoted" {
		t.Fatalf("unexpected order: %s ... %s", records[0].Action, records[2].Action)
	}
	if records[1].ToolName != "file_write" || records[1].Result != "denied" {
		t.Fatalf("fields lost: %+v", records[1])
	}
	if records[0].CreatedAt.IsZero() {
		t.Fatal("created_at not populated")
	}
}

func TestStore_RecentLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := s.LogAudit(ctx, domain.AuditEntry{Action: "tool_exec", Result: "success"}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	records, err := s.Recent(ctx, 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("limit not honored: %d", len(records))
	}
	// Non-positive limit falls back to the default.
	records, err = s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 10 {
		t.Fatalf("default limit: %d", len(records))
	}
}

func TestStore_Prune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.LogAudit(ctx, domain.AuditEntry{Action: "tool_exec", Result: "success"}); err != nil {
		t.Fatalf("log: %v", err)
	}

	// A generous retention keeps everything.
	n, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 0 {
		t.Fatalf("fresh entries pruned: %d", n)
	}

	// A negative retention moves the cutoff into the future and drops all.
	n, err = s.Prune(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", n)
	}
	records, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty trail, got %d", len(records))
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "audit.db")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
}
