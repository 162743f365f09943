package journal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndReadAll(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "sess1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := j.Message("user", "hello"); err != nil {
		t.Fatalf("Message: %v", err)
	}
	if err := j.RunEvent("plan_started", "planning", 1, "run1", nil); err != nil {
		t.Fatalf("RunEvent: %v", err)
	}

	entries, err := ReadAll(filepath.Join(dir, "sess1.jsonl"))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Type != EntryMessage || entries[0].Payload["content"] != "hello" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Type != EntryRunEvent || entries[1].Payload["event"] != "plan_started" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestReadAllMissingFile(t *testing.T) {
	entries, err := ReadAll(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries, got %v", entries)
	}
}

func TestReadAllToleratesMalformedLines(t *testing.T) {
	dir := t.TempDir()
	j, _ := Open(dir, "sess2")
	_ = j.Message("user", "ok")

	path := filepath.Join(dir, "sess2.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("not json\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	entries, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected malformed line skipped, got %d entries", len(entries))
	}
}
