package scriptcatalog

import (
	"path/filepath"
	"testing"
)

func TestFileRegistryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scripts.tsv")

	reg, err := OpenFileRegistry(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	reg.ApplyMarkers("ZACE_SCRIPT_REGISTER|seed|scripts/seed.sh|seeds fixtures", 1)
	reg.ApplyMarkers("ZACE_SCRIPT_USE|seed", 2)

	if err := reg.SyncRegistry(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	reopened, err := OpenFileRegistry(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	m, ok := reopened.Get("seed")
	if !ok {
		t.Fatal("expected entry to survive reload")
	}
	if m.TimesUsed != 1 || m.Path != "scripts/seed.sh" || m.LastTouchedStep != 2 {
		t.Fatalf("unexpected reloaded entry: %+v", m)
	}
}

func TestOpenFileRegistryMissingFileStartsEmpty(t *testing.T) {
	reg, err := OpenFileRegistry(filepath.Join(t.TempDir(), "absent.tsv"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if len(reg.All()) != 0 {
		t.Fatalf("expected empty catalog, got %+v", reg.All())
	}
}
