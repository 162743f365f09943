// Package gatediscovery implements gate.Discoverer (spec.md §4.5 item 3):
// scanning the workspace for package manifests and build files to propose
// auto:lint/auto:test/auto:build completion gates.
package gatediscovery

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/zace-dev/zace/internal/gate"
)

// Discoverer implements gate.Discoverer by checking for a small set of
// well-known manifest files, mirroring internal/docpreload's stat-based
// candidate scan rather than anything more elaborate — discovery runs once
// per step and must stay cheap.
type Discoverer struct{}

func New() *Discoverer {
	return &Discoverer{}
}

type packageJSON struct {
	Scripts map[string]string `json:"scripts"`
}

// Discover implements gate.Discoverer.
func (Discoverer) Discover(ctx context.Context, workingDirectory string) ([]gate.CompletionGate, error) {
	var gates []gate.CompletionGate

	if data, err := os.ReadFile(filepath.Join(workingDirectory, "package.json")); err == nil {
		var pkg packageJSON
		if json.Unmarshal(data, &pkg) == nil {
			if _, ok := pkg.Scripts["test"]; ok {
				gates = append(gates, gate.CompletionGate{Label: "auto:test", Command: "npm test"})
			}
			if _, ok := pkg.Scripts["lint"]; ok {
				gates = append(gates, gate.CompletionGate{Label: "auto:lint", Command: "npm run lint"})
			}
			if _, ok := pkg.Scripts["build"]; ok {
				gates = append(gates, gate.CompletionGate{Label: "auto:build", Command: "npm run build"})
			}
		}
	}

	if _, err := os.Stat(filepath.Join(workingDirectory, "go.mod")); err == nil {
		gates = append(gates,
			gate.CompletionGate{Label: "auto:build", Command: "go build ./..."},
			gate.CompletionGate{Label: "auto:test", Command: "go test ./..."},
			gate.CompletionGate{Label: "auto:lint", Command: "go vet ./..."},
		)
	}

	if data, err := os.ReadFile(filepath.Join(workingDirectory, "Makefile")); err == nil {
		for _, target := range []string{"test", "lint", "build"} {
			if hasMakeTarget(data, target) {
				gates = append(gates, gate.CompletionGate{Label: "auto:" + target, Command: "make " + target})
			}
		}
	}

	return gates, nil
}

func hasMakeTarget(makefile []byte, target string) bool {
	needle := target + ":"
	for i := 0; i+len(needle) <= len(makefile); i++ {
		if (i == 0 || makefile[i-1] == '\n') && string(makefile[i:i+len(needle)]) == needle {
			return true
		}
	}
	return false
}
