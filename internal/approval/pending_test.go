package approval

import (
	"path/filepath"
	"testing"
	"time"
)

func TestPendingStoreCreateAndFindOpen(t *testing.T) {
	store := OpenPendingStore(filepath.Join(t.TempDir(), "pending.jsonl"))
	action, err := store.Create("s1", "r1", "approve rm -rf?", ActionContext{Command: "rm -rf build"})
	if err != nil {
		t.Fatal(err)
	}
	if action.Context.PendingID == "" {
		t.Fatal("expected a generated pending id")
	}

	found, ok, err := store.FindLatestOpen("s1", "r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || found.Context.PendingID != action.Context.PendingID {
		t.Fatalf("expected to find the open action, got %+v ok=%v", found, ok)
	}
}

func TestPendingStoreResolveClosesLedgerEntry(t *testing.T) {
	store := OpenPendingStore(filepath.Join(t.TempDir(), "pending.jsonl"))
	action, err := store.Create("s1", "r1", "approve?", ActionContext{Command: "rm -rf build"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Resolve(action.Context.PendingID); err != nil {
		t.Fatal(err)
	}
	_, ok, err := store.FindLatestOpen("s1", "r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no open action after resolve")
	}
}

func TestPendingStoreNewestWinsAcrossMultipleEntries(t *testing.T) {
	store := OpenPendingStore(filepath.Join(t.TempDir(), "pending.jsonl"))
	first, err := store.Create("s1", "r1", "first?", ActionContext{Command: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Resolve(first.Context.PendingID); err != nil {
		t.Fatal(err)
	}
	second, err := store.Create("s1", "r1", "second?", ActionContext{Command: "b"})
	if err != nil {
		t.Fatal(err)
	}

	found, ok, err := store.FindLatestOpen("s1", "r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || found.Context.PendingID != second.Context.PendingID {
		t.Fatalf("expected second (still open) action, got %+v ok=%v", found, ok)
	}
}

func TestPendingStoreRespectsMaxAge(t *testing.T) {
	store := OpenPendingStore(filepath.Join(t.TempDir(), "pending.jsonl"))
	if _, err := store.Create("s1", "r1", "stale?", ActionContext{Command: "a"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	_, ok, err := store.FindLatestOpen("s1", "r1", time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected stale pending action to be excluded by maxAge")
	}
}
