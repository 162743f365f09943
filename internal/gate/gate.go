// Package gate implements the run loop's completion-gate evaluator (spec.md
// §4.5): merging planner-declared, task-derived, and auto-discovered
// completion gates, detecting masked gates, checking freshness, and running
// the merged gate list before a run is allowed to complete.
package gate

import (
	"context"
	"fmt"
	"strings"
)

// CompletionGate is the run loop's CompletionGate entity (§3). Label
// namespaces are planner:N, task:N, auto:lint, auto:test, ...
type CompletionGate struct {
	Label   string
	Command string
}

// Source names where a CompletionPlan's gates ultimately came from.
type Source string

const (
	SourceTask          Source = "task"
	SourcePlanner       Source = "planner"
	SourceAutoDiscovered Source = "auto_discovered"
	SourceMerged        Source = "merged"
)

// CompletionPlan is the run loop's CompletionPlan entity (§3).
type CompletionPlan struct {
	Gates  []CompletionGate
	Source Source
}

// Discoverer returns the gates discoverAutomaticCompletionGates would infer
// from package manifests/scripts under workingDirectory.
type Discoverer interface {
	Discover(ctx context.Context, workingDirectory string) ([]CompletionGate, error)
}

// BuildOptions carries the §4.5 build-order knobs.
type BuildOptions struct {
	StrictMode             bool
	RequireDiscoveredGates bool
	LastWriteStepSet       bool
	GatesDeclaredNone      bool
	WorkingDirectory       string
}

// Build implements the 3-source merge-dedup-by-command build order: task
// gates, then planner-declared gates, then (conditionally) auto-discovered
// gates, de-duplicated by exact command string with first-insertion order
// preserved.
func Build(ctx context.Context, taskGates, plannerGates []CompletionGate, discoverer Discoverer, opts BuildOptions) (CompletionPlan, error) {
	seen := map[string]bool{}
	var merged []CompletionGate

	add := func(gates []CompletionGate) {
		for _, g := range gates {
			if seen[g.Command] {
				continue
			}
			seen[g.Command] = true
			merged = append(merged, g)
		}
	}

	add(taskGates)
	add(plannerGates)

	shouldDiscover := opts.LastWriteStepSet && (
		(opts.StrictMode && opts.RequireDiscoveredGates) ||
			(len(merged) == 0 && !opts.GatesDeclaredNone))

	if shouldDiscover && discoverer != nil {
		discovered, err := discoverer.Discover(ctx, opts.WorkingDirectory)
		if err != nil {
			return CompletionPlan{}, fmt.Errorf("gate: discover automatic completion gates: %w", err)
		}
		add(discovered)
	}

	source := SourceTask
	switch {
	case len(plannerGates) > 0 && len(taskGates) > 0:
		source = SourceMerged
	case len(plannerGates) > 0:
		source = SourcePlanner
	case shouldDiscover:
		source = SourceAutoDiscovered
	}

	return CompletionPlan{Gates: merged, Source: source}, nil
}

// maskingTokens force a zero exit regardless of the command's real outcome.
var maskingTokens = []string{"|| true", "; true", "|| :", "|| exit 0"}

// DetectMasking implements the ordered masking scan: returns the index of
// the first masked gate and a reason, or masked=false if none are masked.
func DetectMasking(gates []CompletionGate) (index int, reason string, masked bool) {
	for i, g := range gates {
		for _, tok := range maskingTokens {
			if strings.Contains(g.Command, tok) {
				return i, fmt.Sprintf("gate %q forces a zero exit via %q", g.Label, tok), true
			}
		}
	}
	return 0, "", false
}

// FreshnessOK implements §4.5's freshness rule: when strict mode is enabled
// and a write has occurred, completion requires a validation step at or
// after the last write.
func FreshnessOK(strictMode bool, lastWriteStepSet bool, lastWriteStep, lastSuccessfulValidationStep int) bool {
	if !strictMode || !lastWriteStepSet {
		return true
	}
	return lastSuccessfulValidationStep >= lastWriteStep
}

// Executor runs one gate command through the tool executor, honoring the
// same approval path as a user-initiated command.
type Executor interface {
	ExecuteCommand(ctx context.Context, command, cwd string) (stdout, stderr string, exitCode int, err error)
}

// Approver decides whether a gate command is allowed to run, mirroring the
// run loop's destructive-command approval flow.
type Approver interface {
	Approve(ctx context.Context, command, cwd string) (allowed bool, err error)
}

const previewChars = 180

// Result is the outcome of running the merged gate list.
type Result struct {
	Passed         bool
	FailureMessage string
	// RanValidation is true when every gate ran and passed, which implicitly
	// records a successful validation step per §4.5.
	RanValidation bool
}

// Run executes gates sequentially through executor, wrapped in an approval
// check per gate. It stops at the first denial; a gate that exits non-zero
// is recorded and the remaining gates still run, with every failure joined
// into FailureMessage.
func Run(ctx context.Context, gates []CompletionGate, executor Executor, approver Approver, cwd string) (Result, error) {
	var failures []string

	for _, g := range gates {
		if approver != nil {
			allowed, err := approver.Approve(ctx, g.Command, cwd)
			if err != nil {
				return Result{}, fmt.Errorf("gate: approval check for %q: %w", g.Label, err)
			}
			if !allowed {
				return Result{Passed: false, FailureMessage: fmt.Sprintf("%s denied approval (%s)", g.Label, g.Command)}, nil
			}
		}

		stdout, stderr, exitCode, err := executor.ExecuteCommand(ctx, g.Command, cwd)
		if err != nil {
			return Result{}, fmt.Errorf("gate: execute %q: %w", g.Label, err)
		}
		if exitCode != 0 {
			preview := truncate(stdout+stderr, previewChars)
			failures = append(failures, fmt.Sprintf("%s failed (%s): %s", g.Label, g.Command, preview))
		}
	}

	if len(failures) > 0 {
		return Result{Passed: false, FailureMessage: strings.Join(failures, " | ")}, nil
	}
	return Result{Passed: true, RanValidation: len(gates) > 0}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Decision is the final COMPLETE-time verdict.
type Decision struct {
	Accepted       bool
	BlockReason    string
	RanValidation  bool
}

// Evaluate implements the full §4.5 policy list enforced at COMPLETE, in
// order: strict-mode gates:none-with-write block, empty-merged-gates block,
// masking block, freshness block, then gate execution (approval-denied /
// non-zero block).
func Evaluate(ctx context.Context, plan CompletionPlan, opts BuildOptions, lastWriteStep, lastSuccessfulValidationStep int, executor Executor, approver Approver, cwd string) (Decision, error) {
	if opts.StrictMode && opts.GatesDeclaredNone && opts.LastWriteStepSet {
		return Decision{BlockReason: "strict mode requires completion gates after a write, but the planner declared gates:none"}, nil
	}
	if len(plan.Gates) == 0 && !opts.GatesDeclaredNone {
		return Decision{BlockReason: "no completion gates resolved and none were declared unnecessary"}, nil
	}
	if _, reason, masked := DetectMasking(plan.Gates); masked {
		return Decision{BlockReason: reason}, nil
	}
	if !FreshnessOK(opts.StrictMode, opts.LastWriteStepSet, lastWriteStep, lastSuccessfulValidationStep) {
		return Decision{BlockReason: "completion gates are stale: no successful validation run since the last write"}, nil
	}

	result, err := Run(ctx, plan.Gates, executor, approver, cwd)
	if err != nil {
		return Decision{}, err
	}
	if !result.Passed {
		return Decision{BlockReason: result.FailureMessage}, nil
	}
	return Decision{Accepted: true, RanValidation: result.RanValidation}, nil
}
