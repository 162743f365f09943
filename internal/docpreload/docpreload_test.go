package docpreload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverFindsRootCandidatesNearestFirst(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "AGENTS.md"), "root agents")
	writeFile(t, filepath.Join(root, "sub", "README.md"), "nested readme")

	docs := Discover(context.Background(), root, nil, 2)

	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %+v", docs)
	}
	if docs[0].Depth != 0 {
		t.Fatalf("expected root doc discovered first, got %+v", docs[0])
	}
}

func TestDiscoverExplicitRefsComeFirst(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "AGENTS.md"), "root agents")
	writeFile(t, filepath.Join(root, "docs", "guide.md"), "explicit guide")

	docs := Discover(context.Background(), root, []string{"docs/guide.md"}, 1)

	if len(docs) == 0 || !docs[0].Explicit || docs[0].Path != filepath.Join(root, "docs/guide.md") {
		t.Fatalf("expected explicit ref first, got %+v", docs)
	}
}

func TestDiscoverSkipsHiddenAndVendorDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".git", "README.md"), "should be skipped")
	writeFile(t, filepath.Join(root, "node_modules", "README.md"), "should be skipped")
	writeFile(t, filepath.Join(root, "src", "README.md"), "kept")

	docs := Discover(context.Background(), root, nil, 1)

	for _, d := range docs {
		if filepath := d.Path; contains(filepath, ".git") || contains(filepath, "node_modules") {
			t.Fatalf("expected hidden/vendor dirs skipped, found %s", d.Path)
		}
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func TestPreviewTruncatesAndCaches(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "AGENTS.md")
	writeFile(t, path, "0123456789")

	p := New()
	out, err := p.Preview(path, 4)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if out != "0123" {
		t.Fatalf("expected truncated preview, got %q", out)
	}

	// mutate the file on disk; cached content should still be served.
	writeFile(t, path, "zzzzzzzzzz")
	out2, _ := p.Preview(path, 10)
	if out2 != "0123456789" {
		t.Fatalf("expected cached content to survive on-disk mutation, got %q", out2)
	}

	p.Invalidate(path)
	out3, _ := p.Preview(path, 10)
	if out3 != "zzzzzzzzzz" {
		t.Fatalf("expected fresh read after invalidate, got %q", out3)
	}
}

func TestBuildContextRespectsTotalBudget(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "AGENTS.md")
	b := filepath.Join(root, "README.md")
	writeFile(t, a, "aaaaaaaaaa")
	writeFile(t, b, "bbbbbbbbbb")

	p := New()
	docs := []Doc{{Path: a}, {Path: b}}
	out := p.BuildContext(docs, 15, 100)

	if !contains(out, "aaaaaaaaaa") {
		t.Fatalf("expected first doc content included, got %q", out)
	}
	if contains(out, "bbbbbbbbbb") {
		t.Fatalf("expected budget exhausted before the second doc's full content, got %q", out)
	}
}
