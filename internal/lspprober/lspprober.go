// Package lspprober implements lspbootstrap.Prober: a minimal, file-based
// stand-in for the "external probeFiles call" spec.md §4.4 treats as opaque.
// No LSP client library appears anywhere in the retrieval pack (mcp-go is
// Model Context Protocol, unrelated to Language Server Protocol), so rather
// than inventing a protocol client this probe does what the end-to-end
// scenario in spec.md §8 actually checks: whether the runtime LSP server
// registry file exists and parses, i.e. whether a server was provisioned.
package lspprober

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/zace-dev/zace/internal/lspbootstrap"
)

// Prober checks the on-disk server registry written by whatever tool call
// provisioned the LSP server (spec.md's `.zace/runtime/lsp/servers.json`).
type Prober struct {
	ServerRegistryPath string
}

func New(serverRegistryPath string) *Prober {
	return &Prober{ServerRegistryPath: serverRegistryPath}
}

// ProbeFiles implements lspbootstrap.Prober. files is accepted for interface
// conformance but unused: this probe only checks server liveness, not
// per-file diagnostics, which would require an actual LSP client.
func (p *Prober) ProbeFiles(ctx context.Context, files []string) (lspbootstrap.Signal, string, error) {
	data, err := os.ReadFile(p.ServerRegistryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return lspbootstrap.SignalRequired, "no server registry at " + p.ServerRegistryPath, nil
		}
		return lspbootstrap.SignalFailed, fmt.Sprintf("read server registry: %v", err), nil
	}

	var registry map[string]any
	if err := json.Unmarshal(data, &registry); err != nil {
		return lspbootstrap.SignalFailed, fmt.Sprintf("parse server registry: %v", err), nil
	}
	if len(registry) == 0 {
		return lspbootstrap.SignalRequired, "server registry is empty", nil
	}
	return lspbootstrap.SignalActive, "", nil
}
