// Package guardrail implements the run loop's guardrail checks (spec.md
// §4.6): pre-execution doom-loop detection, post-execution repetition,
// stagnation, read-only inspection stagnation, and write-regression
// annotation.
package guardrail

import (
	"fmt"
	"strings"
)

// Step is the minimal per-step record the guardrails need. The run loop
// builds one per tool-bearing step from its AgentStep/ToolResult history.
type Step struct {
	ToolCallSignature string // canonical signature (§4.1), used by the doom-loop guard
	LoopSignature     string // loop signature (§4.1), used by the repetition guard
	Command           string // raw shell command text, used by the read-only check
	Success           bool
	ProgressSignal    string // files_changed | success_without_changes | none
	ChangedFiles      int
	LspErrorCount     *int
}

// readOnlyCommands are shell commands considered pure inspection — no
// mutation of the workspace.
var readOnlyCommands = []string{"cat", "ls", "wc", "head", "tail", "rg", "grep", "git diff", "git status", "stat"}

// IsReadOnlyCommand reports whether cmd is one of the recognized read-only
// inspection commands.
func IsReadOnlyCommand(cmd string) bool {
	lower := strings.ToLower(strings.TrimSpace(cmd))
	if lower == "" {
		return false
	}
	for _, name := range readOnlyCommands {
		if lower == name || strings.HasPrefix(lower, name+" ") {
			return true
		}
	}
	return false
}

// DoomLoopResult describes the outcome of the pre-execution doom-loop check.
type DoomLoopResult struct {
	Triggered bool
	Count     int
}

// CheckDoomLoop implements the pre-execution doom-loop guard: counts
// trailing matches of plannedSignature in history and triggers at
// threshold, which is clamped to a minimum of 2.
func CheckDoomLoop(history []string, plannedSignature string, threshold int) DoomLoopResult {
	if threshold < 2 {
		threshold = 2
	}
	count := 1 // the planned call itself counts toward the trailing run
	for i := len(history) - 1; i >= 0; i-- {
		if history[i] != plannedSignature {
			break
		}
		count++
	}
	return DoomLoopResult{Triggered: count >= threshold, Count: count}
}

// RepetitionResult describes the outcome of the post-execution repetition
// check.
type RepetitionResult struct {
	Triggered bool
	Count     int
}

// CheckRepetition implements the post-execution repetition guard: tracks a
// running counter of identical consecutive loop signatures, triggering at
// count >= 3.
func CheckRepetition(previousSignature, currentSignature string, runningCount int) (RepetitionResult, int) {
	if currentSignature == "" || currentSignature != previousSignature {
		return RepetitionResult{}, 0
	}
	newCount := runningCount + 1
	return RepetitionResult{Triggered: newCount >= 3, Count: newCount}, newCount
}

// StagnationResult describes the outcome of the stagnation check.
type StagnationResult struct {
	Stagnant bool
	Reason   string
}

// CheckStagnation implements §4.6's stagnation rule over the trailing
// stagnationWindow tool-bearing steps.
func CheckStagnation(steps []Step, window int) StagnationResult {
	recent := recentWindow(steps, window)
	if len(recent) == 0 {
		return StagnationResult{}
	}

	for _, s := range recent {
		if s.ProgressSignal == "files_changed" {
			return StagnationResult{}
		}
	}

	allFailed := true
	allSucceededNoProgress := true
	for _, s := range recent {
		if s.Success {
			allFailed = false
		} else {
			allSucceededNoProgress = false
		}
		if s.Success && s.ProgressSignal != "none" && s.ProgressSignal != "success_without_changes" {
			allSucceededNoProgress = false
		}
	}

	switch {
	case allFailed:
		return StagnationResult{Stagnant: true, Reason: "failures without progress"}
	case allSucceededNoProgress:
		return StagnationResult{Stagnant: true, Reason: "success without observable progress"}
	default:
		return StagnationResult{}
	}
}

// CheckReadOnlyInspectionStagnation implements §4.6's read-only inspection
// stagnation guard: triggers when, after a write, the trailing
// readonlyStagnationWindow tool-bearing steps are all successful read-only
// inspections with no changed files and no validation has run since.
func CheckReadOnlyInspectionStagnation(steps []Step, window int, lastWriteStep, currentStep int, lastWriteStepSet bool, validatedSinceWrite bool) StagnationResult {
	if !lastWriteStepSet || lastWriteStep >= currentStep {
		return StagnationResult{}
	}
	if validatedSinceWrite {
		return StagnationResult{}
	}

	recent := recentWindow(steps, window)
	if len(recent) < window {
		return StagnationResult{}
	}
	for _, s := range recent {
		if !s.Success || s.ChangedFiles != 0 || !IsReadOnlyCommand(s.Command) {
			return StagnationResult{}
		}
	}
	return StagnationResult{Stagnant: true, Reason: "readonly_stagnation_guard_triggered"}
}

// WriteRegression describes the annotation applied to a tool result whose
// LSP error count spiked relative to the previous write.
type WriteRegression struct {
	Detected bool
	Reason   string
}

// CheckWriteRegression implements §4.6's write-regression annotation: fires
// when the new error count exceeds the previously observed write's error
// count by at least spikeThreshold. It never terminates the loop by itself.
func CheckWriteRegression(changedFiles int, lspErrorCount *int, previousWriteLspErrorCount *int, spikeThreshold int) WriteRegression {
	if changedFiles <= 0 || lspErrorCount == nil || previousWriteLspErrorCount == nil {
		return WriteRegression{}
	}
	if *lspErrorCount-*previousWriteLspErrorCount >= spikeThreshold {
		return WriteRegression{
			Detected: true,
			Reason:   fmt.Sprintf("lsp error count rose from %d to %d (spike >= %d)", *previousWriteLspErrorCount, *lspErrorCount, spikeThreshold),
		}
	}
	return WriteRegression{}
}

func recentWindow(steps []Step, n int) []Step {
	if n <= 0 || len(steps) <= n {
		return steps
	}
	return steps[len(steps)-n:]
}
