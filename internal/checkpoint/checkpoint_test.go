package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileLedgerMissingLogs(t *testing.T) {
	ledger, err := NewFileLedger(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatalf("NewFileLedger failed: %v", err)
	}

	state, err := ledger.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(state.Done) != 0 || len(state.Errored) != 0 {
		t.Errorf("expected empty state, got %+v", state)
	}
}

func TestFileLedgerAppendAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ledger, err := NewFileLedger(dir)
	if err != nil {
		t.Fatalf("NewFileLedger failed: %v", err)
	}

	for _, name := range []string{"a.tif", "b.tif", "a.tif"} {
		if err := ledger.MarkDone(ctx, name); err != nil {
			t.Fatalf("MarkDone(%s) failed: %v", name, err)
		}
	}
	if err := ledger.MarkError(ctx, "c.tif"); err != nil {
		t.Fatalf("MarkError failed: %v", err)
	}

	// Same run appends each identifier at most once
	data, err := os.ReadFile(filepath.Join(dir, DoneLogName))
	if err != nil {
		t.Fatalf("read done log: %v", err)
	}
	if got := string(data); got != "a.tif\nb.tif\n" {
		t.Errorf("done log = %q", got)
	}

	// A fresh ledger (next run) sees everything
	reloaded, err := NewFileLedger(dir)
	if err != nil {
		t.Fatalf("NewFileLedger failed: %v", err)
	}
	state, err := reloaded.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(state.Done) != 2 || len(state.Errored) != 1 {
		t.Fatalf("state = %+v", state)
	}
	if _, ok := state.Seen()["c.tif"]; !ok {
		t.Error("Seen should include errored tiles")
	}
}

func TestFileLedgerToleratesMessyLines(t *testing.T) {
	dir := t.TempDir()
	body := "a.tif\r\n\n  b.tif  \na.tif\n"
	if err := os.WriteFile(filepath.Join(dir, ErrorLogName), []byte(body), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ledger, err := NewFileLedger(dir)
	if err != nil {
		t.Fatalf("NewFileLedger failed: %v", err)
	}
	state, err := ledger.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var names []string
	for name := range state.Errored {
		names = append(names, name)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 distinct names, got %q", strings.Join(names, ","))
	}
}

func TestFileLedgerRejectsEmptyName(t *testing.T) {
	ledger, err := NewFileLedger(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLedger failed: %v", err)
	}
	if err := ledger.MarkDone(context.Background(), "  "); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestNewLedgerUnknownBackend(t *testing.T) {
	if _, err := NewLedger(context.Background(), Config{Backend: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
