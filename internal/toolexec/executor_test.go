package toolexec

import (
	"context"
	"testing"

	"github.com/zace-dev/zace/internal/planner"
	"github.com/zace-dev/zace/internal/tool"
	"github.com/zace-dev/zace/internal/tool/builtin"
)

func newExecutorWithShell(t *testing.T, workspaceDir string) *Executor {
	t.Helper()
	registry := tool.NewRegistry()
	registry.Register(builtin.NewShellTool(workspaceDir, true))
	return NewExecutor(registry)
}

func TestExecuteUnknownToolReturnsFailureNotError(t *testing.T) {
	e := newExecutorWithShell(t, t.TempDir())
	result, err := e.Execute(context.Background(), planner.ToolCall{Name: "does_not_exist"}, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if result.Artifacts == nil || result.Artifacts.ProgressSignal != "none" {
		t.Fatalf("expected none progress signal, got %+v", result.Artifacts)
	}
}

func TestExecuteDetectsChangedFilesFromMarker(t *testing.T) {
	dir := t.TempDir()
	e := newExecutorWithShell(t, dir)
	call := planner.ToolCall{
		Name: "shell_exec",
		Arguments: map[string]any{
			"command": "printf 'ZACE_FILE_CHANGED|demo.ts\\n'",
		},
	}
	result, err := e.Execute(context.Background(), call, dir)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Artifacts == nil || result.Artifacts.ProgressSignal != "files_changed" {
		t.Fatalf("expected files_changed signal, got %+v", result.Artifacts)
	}
	if len(result.Artifacts.ChangedFiles) != 1 || result.Artifacts.ChangedFiles[0] != "demo.ts" {
		t.Fatalf("expected [demo.ts], got %v", result.Artifacts.ChangedFiles)
	}
}

func TestExecuteNoMarkerYieldsNoneSignal(t *testing.T) {
	dir := t.TempDir()
	e := newExecutorWithShell(t, dir)
	call := planner.ToolCall{
		Name:      "shell_exec",
		Arguments: map[string]any{"command": "echo hi"},
	}
	result, err := e.Execute(context.Background(), call, dir)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Artifacts == nil || result.Artifacts.ProgressSignal != "none" {
		t.Fatalf("expected none signal, got %+v", result.Artifacts)
	}
}

func TestExecuteCommandReportsExitCode(t *testing.T) {
	dir := t.TempDir()
	e := newExecutorWithShell(t, dir)
	stdout, _, exitCode, err := e.ExecuteCommand(context.Background(), "exit 3", dir)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if exitCode != 3 {
		t.Fatalf("expected exit code 3, got %d (stdout=%q)", exitCode, stdout)
	}
}

func TestExecuteCommandCapturesSeparateStreams(t *testing.T) {
	dir := t.TempDir()
	e := newExecutorWithShell(t, dir)
	stdout, stderr, exitCode, err := e.ExecuteCommand(context.Background(), "echo out; echo err 1>&2", dir)
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if exitCode != 0 {
		t.Fatalf("expected exit 0, got %d", exitCode)
	}
	if stdout == "" || stderr == "" {
		t.Fatalf("expected both streams populated, got stdout=%q stderr=%q", stdout, stderr)
	}
}

func TestExtractChangedFilesDedupesAndIgnoresOtherLines(t *testing.T) {
	output := "building...\nZACE_FILE_CHANGED|a.go\nok\nZACE_FILE_CHANGED|a.go\nZACE_FILE_CHANGED|b.go\n"
	got := tool.ExtractChangedFiles(output)
	if len(got) != 2 || got[0] != "a.go" || got[1] != "b.go" {
		t.Fatalf("expected [a.go b.go], got %v", got)
	}
}
