// Package toolexec is a reference ToolExecutor (spec.md §4.7/§6): it adapts
// the workspace's tool registry to runloop.Executor, turning a planner
// ToolCall into a runloop.ToolResult complete with the artifacts fields
// (changedFiles, progressSignal, lspStatus, ...) the run loop's guardrail
// and gate logic depend on.
package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/zace-dev/zace/internal/planner"
	"github.com/zace-dev/zace/internal/runloop"
	"github.com/zace-dev/zace/internal/tool"
)

const commandTimeout = 2 * time.Minute

// Executor adapts a tool.Registry to runloop.Executor. It owns no workspace
// state beyond the registry and the working directory fallback passed to
// Execute/ExecuteCommand calls.
type Executor struct {
	registry *tool.Registry
}

// NewExecutor wraps a populated tool registry.
func NewExecutor(registry *tool.Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute dispatches a planner tool call to the matching registered tool and
// derives runloop.Artifacts from its output.
func (e *Executor) Execute(ctx context.Context, call planner.ToolCall, cwd string) (runloop.ToolResult, error) {
	t, ok := e.registry.Get(call.Name)
	if !ok {
		return runloop.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("unknown tool %q", call.Name),
			Artifacts: &runloop.Artifacts{ProgressSignal: "none"},
		}, nil
	}

	args, err := json.Marshal(call.Arguments)
	if err != nil {
		return runloop.ToolResult{}, fmt.Errorf("toolexec: marshal arguments for %q: %w", call.Name, err)
	}

	result, err := t.Execute(ctx, args)
	if err != nil {
		return runloop.ToolResult{}, err
	}

	changed := tool.ExtractChangedFiles(result.Output)
	success := result.Error == ""

	return runloop.ToolResult{
		Success:   success,
		Output:    result.Output,
		Error:     result.Error,
		Artifacts: buildArtifacts(changed),
	}, nil
}

// ExecuteCommand runs a raw shell command directly, bypassing tool-name
// dispatch. It is used by the completion-gate evaluator and by approval's
// rule-test commands, both of which run a known command string rather than
// a planner-issued tool call (spec.md §4.5 "ToolExecutor.executeCommand").
func (e *Executor) ExecuteCommand(ctx context.Context, command, cwd string) (stdout, stderr string, exitCode int, err error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/c", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = filterEnv(os.Environ())

	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	if ctx.Err() == context.DeadlineExceeded {
		return stdout, stderr, -1, fmt.Errorf("toolexec: command timed out after %v", commandTimeout)
	}

	if runErr == nil {
		return stdout, stderr, 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return stdout, stderr, exitErr.ExitCode(), nil
	}
	return stdout, stderr, -1, fmt.Errorf("toolexec: run command: %w", runErr)
}

func buildArtifacts(changed []string) *runloop.Artifacts {
	signal := "none"
	if len(changed) > 0 {
		signal = "files_changed"
	}
	return &runloop.Artifacts{
		ChangedFiles:   changed,
		ProgressSignal: signal,
		LspStatus:      "no_active_server",
	}
}

// sensitiveEnvSuffixes/prefixes mirror internal/tool/builtin/shell.go's
// secret-stripping policy for subprocess environments.
var sensitiveEnvSuffixes = []string{
	"_KEY", "_SECRET", "_TOKEN", "_PASSWORD", "_PASSWD",
	"_PASSPHRASE", "_CREDENTIALS", "_AUTH", "_DSN",
}

var sensitiveEnvPrefixes = []string{
	"DATABASE_URL", "REDIS_URL", "MONGO_URL",
}

func filterEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) < 2 {
			continue
		}
		nameUpper := strings.ToUpper(parts[0])

		sensitive := false
		for _, suffix := range sensitiveEnvSuffixes {
			if strings.HasSuffix(nameUpper, suffix) {
				sensitive = true
				break
			}
		}
		if !sensitive {
			for _, prefix := range sensitiveEnvPrefixes {
				if strings.HasPrefix(nameUpper, prefix) {
					sensitive = true
					break
				}
			}
		}
		if !sensitive {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
