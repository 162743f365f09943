package gatediscovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile %s: %v", name, err)
	}
}

func TestDiscoverFindsGoGates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module example.com/x\n")

	gates, err := New().Discover(context.Background(), dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(gates) != 3 {
		t.Fatalf("expected 3 go gates, got %d: %+v", len(gates), gates)
	}
}

func TestDiscoverFindsPackageJSONScripts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{"test":"jest","lint":"eslint ."}}`)

	gates, err := New().Discover(context.Background(), dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(gates) != 2 {
		t.Fatalf("expected 2 npm gates, got %d: %+v", len(gates), gates)
	}
}

func TestDiscoverFindsMakefileTargets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Makefile", "test:\n\tgo test ./...\n\nbuild:\n\tgo build ./...\n")

	gates, err := New().Discover(context.Background(), dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(gates) != 2 {
		t.Fatalf("expected 2 make gates, got %d: %+v", len(gates), gates)
	}
}

func TestDiscoverEmptyWorkspaceReturnsNoGates(t *testing.T) {
	gates, err := New().Discover(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(gates) != 0 {
		t.Fatalf("expected no gates, got %+v", gates)
	}
}
