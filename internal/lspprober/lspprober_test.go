package lspprober

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/zace-dev/zace/internal/lspbootstrap"
)

func TestProbeFilesMissingRegistryIsRequired(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "servers.json"))
	signal, _, err := p.ProbeFiles(context.Background(), nil)
	if err != nil {
		t.Fatalf("ProbeFiles: %v", err)
	}
	if signal != lspbootstrap.SignalRequired {
		t.Fatalf("expected required, got %s", signal)
	}
}

func TestProbeFilesPopulatedRegistryIsActive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	if err := os.WriteFile(path, []byte(`{"gopls":{"pid":123}}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p := New(path)
	signal, _, err := p.ProbeFiles(context.Background(), nil)
	if err != nil {
		t.Fatalf("ProbeFiles: %v", err)
	}
	if signal != lspbootstrap.SignalActive {
		t.Fatalf("expected active, got %s", signal)
	}
}

func TestProbeFilesMalformedRegistryIsFailed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p := New(path)
	signal, reason, err := p.ProbeFiles(context.Background(), nil)
	if err != nil {
		t.Fatalf("ProbeFiles: %v", err)
	}
	if signal != lspbootstrap.SignalFailed || reason == "" {
		t.Fatalf("expected failed with reason, got %s / %q", signal, reason)
	}
}
