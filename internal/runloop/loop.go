package runloop

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zace-dev/zace/internal/gate"
	"github.com/zace-dev/zace/internal/guardrail"
	"github.com/zace-dev/zace/internal/lspbootstrap"
	"github.com/zace-dev/zace/internal/memory"
	"github.com/zace-dev/zace/internal/planner"
	"github.com/zace-dev/zace/internal/signature"
)

// Deps bundles every collaborator RunAgentLoop drives. Planner and Executor
// are required; Prober is used only when RuntimeLspConfigPath is set. The
// other collaborators may be nil, which skips that step; Observer defaults
// to NoopObserver.
type Deps struct {
	Planner        PlannerClient
	Executor       Executor
	Approval       ApprovalEngine
	Compactor      Compactor
	RetryAnalyzer  RetryAnalyzer
	RetryClassifier RetryClassifier
	ScriptCatalog  ScriptCatalog
	TaskPlan       TaskPlanResolver
	GateDiscoverer gate.Discoverer
	GateApprover   gate.Approver
	Prober         lspbootstrap.Prober
	Observer       Observer
}

var validationPatternRe = regexp.MustCompile(`(?i)\b(test|lint|tsc|build|typecheck|vitest|jest|pytest|go test|go vet)\b`)

// looksLikeValidationCommand reports whether a command matches a known
// validation-tool pattern, per §4.5/§4.7's "successful validation step"
// bookkeeping.
func looksLikeValidationCommand(command string) bool {
	return validationPatternRe.MatchString(command)
}

// RunAgentLoop drives one task through the bounded step loop per §4.7,
// returning exactly one terminal AgentResult.
func RunAgentLoop(ctx context.Context, ac *AgentContext, cfg Config, deps Deps) AgentResult {
	observer := deps.Observer
	if observer == nil {
		observer = NoopObserver{}
	}

	if err := ctx.Err(); err != nil {
		return AgentResult{FinalState: StateInterrupted, Message: "interrupted before startup"}
	}

	if deps.TaskPlan != nil {
		if specs, err := deps.TaskPlan.ResolveCompletionPlan(ctx, ac.Task); err == nil {
			var taskGates []gate.CompletionGate
			for _, s := range specs {
				taskGates = append(taskGates, gate.CompletionGate{Label: s.Label, Command: s.Command})
			}
			ac.CompletionPlan = gate.CompletionPlan{Gates: taskGates, Source: gate.SourceTask}
		}
	}

	for ac.CurrentStep < cfg.MaxSteps {
		if err := ctx.Err(); err != nil {
			return AgentResult{FinalState: StateInterrupted, Message: "interrupted mid-run"}
		}

		observer.OnEvent("plan_started", map[string]any{"step": ac.CurrentStep})

		reply, err := deps.Planner.Plan(ctx, ac.Memory.Messages(), cfg.PlannerOptions, observer)
		if err != nil {
			ac.recordStep(StateError, nil, nil, err.Error())
			observer.OnEvent("planner_error", map[string]any{"step": ac.CurrentStep, "error": err.Error()})
			ac.CurrentStep++
			continue
		}

		pr := planner.Parse(reply, cfg.PlannerOptions, ac.RawInvalidPlannerCount)
		ac.RawInvalidPlannerCount = pr.RawInvalidCount
		observer.OnEvent("plan_parsed", map[string]any{"step": ac.CurrentStep, "parseMode": pr.ParseMode, "action": pr.Action})

		if pr.Reasoning != "" {
			ac.Memory.Append(memory.Message{Role: memory.RoleAssistant, Content: "Planning: " + pr.Reasoning})
		}

		if decision := maybeCompact(ctx, ac, cfg, deps); decision.ShouldCompact {
			observer.OnEvent("compaction_triggered", map[string]any{"ratio": decision.Ratio})
		}

		switch pr.Action {
		case planner.ActionComplete:
			if result, done := handleComplete(ctx, ac, cfg, deps, pr); done {
				return result
			}
			ac.recordStep(StateExecuting, nil, nil, "completion attempt failed, continuing")
			ac.CurrentStep++
			continue

		case planner.ActionBlocked:
			ac.recordStep(StateBlocked, nil, nil, pr.UserMessage)
			return AgentResult{FinalState: StateBlocked, Message: pr.UserMessage}

		case planner.ActionAskUser:
			msg := ensureUserFacingQuestion(pr.UserMessage)
			ac.recordStep(StateWaitingForUser, nil, nil, msg)
			return AgentResult{FinalState: StateWaitingForUser, Message: msg}

		case planner.ActionContinue:
			if pr.ToolCall == nil {
				ac.NoToolContinueCount++
				if ac.NoToolContinueCount >= cfg.MaxConsecutiveNoToolContinues {
					msg := "I need a concrete next step — please clarify what you'd like me to do."
					ac.recordStep(StateWaitingForUser, nil, nil, msg)
					return AgentResult{FinalState: StateWaitingForUser, Message: msg}
				}
				ac.CurrentStep++
				continue
			}
			ac.NoToolContinueCount = 0
			if result, done := executeToolStep(ctx, ac, cfg, deps, observer, *pr.ToolCall); done {
				return result
			}
			ac.CurrentStep++

		default:
			ac.recordStep(StateError, nil, nil, "unrecognized planner action")
			ac.CurrentStep++
		}
	}

	msg := fmt.Sprintf("Maximum steps (%d) reached", cfg.MaxSteps)
	if len(ac.Steps) > 0 {
		last := ac.Steps[len(ac.Steps)-1]
		if last.ToolResult != nil && !last.ToolResult.Success {
			msg += ": " + last.ToolResult.Error
		}
	}
	return AgentResult{FinalState: StateBlocked, Message: msg}
}

func ensureUserFacingQuestion(msg string) string {
	trimmed := strings.TrimSpace(msg)
	if trimmed == "" {
		return "Could you clarify what you'd like me to do next?"
	}
	if strings.HasSuffix(trimmed, "?") {
		return trimmed
	}
	return trimmed + "?"
}

func maybeCompact(ctx context.Context, ac *AgentContext, cfg Config, deps Deps) memory.CompactionDecision {
	used := ac.Memory.EstimateTokenCount()
	nonSystem := 0
	for _, m := range ac.Memory.Messages() {
		if m.Role != memory.RoleSystem {
			nonSystem++
		}
	}
	decision := memory.ShouldCompact(cfg.CompactionEnabled, used, cfg.ContextWindowTokens, cfg.CompactionTriggerRatio, nonSystem, cfg.CompactionPreserveRecent)
	if !decision.ShouldCompact || deps.Compactor == nil {
		return decision
	}
	summary, err := deps.Compactor.Compact(ctx, ac.Memory.Messages())
	if err != nil {
		return decision
	}
	ac.Memory.CompactWithSummary(summary, cfg.CompactionPreserveRecent)
	return decision
}

// handleComplete implements §4.5's full COMPLETE-time sequence. Returns
// done=true with a terminal AgentResult when completion is accepted;
// done=false means the loop should record the failure and continue.
func handleComplete(ctx context.Context, ac *AgentContext, cfg Config, deps Deps, pr planner.PlanResult) (AgentResult, bool) {
	var plannerGates []gate.CompletionGate
	for i, cmd := range pr.CompletionGateCommands {
		plannerGates = append(plannerGates, gate.CompletionGate{Label: fmt.Sprintf("planner:%d", i+1), Command: cmd})
	}

	opts := cfg.GateOptions
	opts.LastWriteStepSet = ac.LastWriteStepSet
	opts.GatesDeclaredNone = pr.CompletionGatesDeclaredNone
	opts.WorkingDirectory = ac.WorkingDirectory

	plan, err := gate.Build(ctx, ac.CompletionPlan.Gates, plannerGates, deps.GateDiscoverer, opts)
	if err != nil {
		return AgentResult{}, false
	}

	if lspBlock, waitMsg := ac.LspBootstrap.ShouldWaitForUser(cfg.LspPolicy); lspBlock {
		ac.recordStep(StateWaitingForUser, nil, nil, waitMsg)
		return AgentResult{FinalState: StateWaitingForUser, Message: "LSP bootstrap needs attention: " + waitMsg}, true
	}
	if ac.LspBootstrap.BlocksCompletion(cfg.LspPolicy) {
		return AgentResult{}, false
	}

	cwd := ac.LastWriteWorkingDirectory
	if cwd == "" {
		cwd = ac.LastExecutionWorkingDirectory
	}
	if cwd == "" {
		cwd = ac.WorkingDirectory
	}

	decision, err := gate.Evaluate(ctx, plan, opts, ac.LastWriteStep, ac.LastSuccessfulValidationStep, deps.Executor, deps.GateApprover, cwd)
	if err != nil || !decision.Accepted {
		return AgentResult{}, false
	}

	if decision.RanValidation {
		ac.LastSuccessfulValidationStep = ac.CurrentStep
		ac.LastSuccessfulValidationStepSet = true
	}

	msg := pr.UserMessage
	if msg == "" {
		msg = pr.Reasoning
	}
	ac.recordStep(StateCompleted, nil, nil, msg)
	return AgentResult{Success: true, FinalState: StateCompleted, Message: msg}, true
}

// executeToolStep implements §4.7's tool-execution sequence: doom-loop
// guard, approval resolution, retry-bounded attempt loop, post-execution
// guardrails. Returns done=true with a terminal AgentResult when the loop
// must stop this invocation.
func executeToolStep(ctx context.Context, ac *AgentContext, cfg Config, deps Deps, observer Observer, call planner.ToolCall) (AgentResult, bool) {
	sig := signature.Build(call.Name, call.Arguments)

	doom := guardrail.CheckDoomLoop(ac.ToolCallSignatureHistory, sig, cfg.DoomLoopThreshold)
	if doom.Triggered {
		msg := "This looks like a repeated action without progress — could you confirm how you'd like me to proceed?"
		ac.recordStep(StateWaitingForUser, &call, nil, msg)
		observer.OnEvent("loop_guard_triggered", map[string]any{"signature": sig, "count": doom.Count})
		return AgentResult{FinalState: StateWaitingForUser, Message: msg}, true
	}

	var command string
	if call.Name == "execute_command" {
		command, _ = call.Arguments["command"].(string)
	}

	if call.Name == "execute_command" && deps.Approval != nil {
		if ac.OnceApprovedSignatures[sig] {
			// already allowed once for this signature; proceed.
		} else {
			decision, message, err := deps.Approval.Resolve(ctx, ac.SessionID, command, sig, ac.WorkingDirectory)
			if err != nil {
				ac.recordStep(StateError, &call, nil, err.Error())
				return AgentResult{}, false
			}
			switch decision {
			case ApprovalDeny:
				result := &ToolResult{Success: false, Error: message}
				ac.recordStep(StateExecuting, &call, result, message)
				ac.ToolCallSignatureHistory = append(ac.ToolCallSignatureHistory, sig)
				return AgentResult{}, false
			case ApprovalRequestUser:
				ac.recordStep(StateWaitingForUser, &call, nil, message)
				observer.OnEvent("approval_requested", map[string]any{"signature": sig, "command": command})
				return AgentResult{FinalState: StateWaitingForUser, Message: message}, true
			}
			ac.OnceApprovedSignatures[sig] = true
		}
	}

	maxAttempts := cfg.TransientRetryMaxAttempts
	maxDelay := cfg.TransientRetryMaxDelayMs

	var last ToolResult
	attempts := 0
	for {
		attempts++
		observer.OnEvent("tool_call_started", map[string]any{"step": ac.CurrentStep, "tool": call.Name, "attempt": attempts})
		result, err := deps.Executor.Execute(ctx, call, ac.WorkingDirectory)
		if err != nil {
			result = ToolResult{Success: false, Error: err.Error()}
		}
		observer.OnEvent("tool_call_finished", map[string]any{"step": ac.CurrentStep, "tool": call.Name, "success": result.Success})

		applyArtifactSideEffects(ctx, ac, cfg, deps, observer, call, &result, command)
		last = result

		if result.Success || attempts >= maxAttempts {
			break
		}

		category := ""
		if result.Artifacts != nil {
			category = result.Artifacts.RetryCategory
		}
		if category == "" && deps.RetryClassifier != nil {
			category = deps.RetryClassifier.Classify(0, result.Error, call.Name)
		}
		if category != "transient" {
			break
		}

		shouldRetry := true
		delay := 0
		if deps.RetryAnalyzer != nil {
			var analysis string
			var err error
			analysis, shouldRetry, delay, err = deps.RetryAnalyzer.Analyze(ctx, command, result.Output, result.Error)
			_ = analysis
			if err != nil {
				shouldRetry = false
			}
		}
		if !shouldRetry {
			break
		}
		if delay > maxDelay {
			delay = maxDelay
		}
		observer.OnEvent("tool_call_retrying", map[string]any{"step": ac.CurrentStep, "attempt": attempts, "delayMs": delay})
		if delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(delay) * time.Millisecond):
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	ac.recordStep(StateExecuting, &call, &last, "")
	ac.ToolCallSignatureHistory = append(ac.ToolCallSignatureHistory, sig)

	loopSig := signature.LoopSignature(sig, last.Output)
	rep, newCount := guardrail.CheckRepetition(ac.PreviousLoopSignature, loopSig, ac.RepetitionCount)
	ac.PreviousLoopSignature = loopSig
	ac.RepetitionCount = newCount
	if rep.Triggered {
		msg := "I seem to be repeating the same result — could you confirm how you'd like me to proceed?"
		ac.transitionLastStep(StateWaitingForUser, msg)
		return AgentResult{FinalState: StateWaitingForUser, Message: msg}, true
	}

	if stag := guardrail.CheckStagnation(ac.guardrailSteps(), cfg.StagnationWindow); stag.Stagnant {
		msg := "Progress seems stuck (" + stag.Reason + ") — could you confirm how you'd like me to proceed?"
		ac.transitionLastStep(StateWaitingForUser, msg)
		return AgentResult{FinalState: StateWaitingForUser, Message: msg}, true
	}

	if ro := guardrail.CheckReadOnlyInspectionStagnation(ac.guardrailSteps(), cfg.ReadonlyStagnationWindow, ac.LastWriteStep, ac.CurrentStep, ac.LastWriteStepSet, ac.LastSuccessfulValidationStepSet && ac.LastSuccessfulValidationStep >= ac.LastWriteStep); ro.Stagnant {
		msg := "I've only been inspecting files since the last change — want me to keep going, or should I validate differently?"
		ac.transitionLastStep(StateWaitingForUser, msg)
		observer.OnEvent("readonly_stagnation_guard_triggered", map[string]any{"step": ac.CurrentStep})
		return AgentResult{FinalState: StateWaitingForUser, Message: msg}, true
	}

	return AgentResult{}, false
}

func applyArtifactSideEffects(ctx context.Context, ac *AgentContext, cfg Config, deps Deps, observer Observer, call planner.ToolCall, result *ToolResult, command string) {
	ac.LastExecutionWorkingDirectory = ac.WorkingDirectory

	a := result.Artifacts
	if a == nil {
		a = &Artifacts{}
	}

	if len(a.ChangedFiles) > 0 {
		ac.LastWriteStep = ac.CurrentStep
		ac.LastWriteStepSet = true
		ac.LastWriteWorkingDirectory = ac.WorkingDirectory

		if a.LspErrorCount != nil {
			regression := guardrail.CheckWriteRegression(len(a.ChangedFiles), a.LspErrorCount, ac.LastWriteLspErrorCount, cfg.WriteRegressionErrorSpike)
			if regression.Detected {
				a.WriteRegressionDetected = true
				a.WriteRegressionReason = regression.Reason
				ac.Memory.Append(memory.Message{Role: memory.RoleSystem, Content: "[write_regression_detected] " + regression.Reason})
				observer.OnEvent("write_regression_detected", map[string]any{"reason": regression.Reason})
			}
		}
		ac.LastWriteLspErrorCount = a.LspErrorCount
	}

	if result.Success && command != "" && looksLikeValidationCommand(command) {
		ac.LastSuccessfulValidationStep = ac.CurrentStep
		ac.LastSuccessfulValidationStepSet = true
	}

	sig := lspbootstrap.DeriveSignal(a.LspStatus)
	configTouched := containsLspConfigTouch(a.ChangedFiles, cfg.RuntimeLspConfigPath)
	var nonConfig []string
	for _, f := range a.ChangedFiles {
		if !containsLspConfigTouch([]string{f}, cfg.RuntimeLspConfigPath) {
			nonConfig = append(nonConfig, f)
		}
	}
	events := ac.LspBootstrap.Advance(ctx, deps.Prober, sig, a.LspStatusReason, nonConfig, configTouched, command)
	for _, e := range events {
		observer.OnEvent(e.Name, map[string]any{"state": e.State, "reason": e.Reason})
	}

	if deps.ScriptCatalog != nil {
		deps.ScriptCatalog.ApplyMarkers(result.Output, ac.CurrentStep)
		_ = deps.ScriptCatalog.SyncRegistry()
	}

	digest := buildToolMemoryDigest(call, result)
	ac.Memory.Append(memory.Message{Role: memory.RoleTool, Content: digest})
}

func containsLspConfigTouch(changedFiles []string, configPath string) bool {
	if configPath == "" {
		return false
	}
	for _, f := range changedFiles {
		if f == configPath {
			return true
		}
	}
	return false
}

const (
	stdoutPreviewChars = 400
	stderrPreviewChars = 400
)

func buildToolMemoryDigest(call planner.ToolCall, result *ToolResult) string {
	var b strings.Builder
	b.WriteString("[execution] ")
	b.WriteString(call.Name)
	if result.Success {
		b.WriteString(" succeeded\n")
	} else {
		b.WriteString(" failed\n")
	}
	if result.Artifacts != nil && len(result.Artifacts.ChangedFiles) > 0 {
		b.WriteString("[artifacts] changed=")
		b.WriteString(strings.Join(truncateSlice(result.Artifacts.ChangedFiles, 5), ","))
		b.WriteString("\n")
	}
	if result.Output != "" {
		b.WriteString("[stdout_preview] ")
		b.WriteString(truncateString(result.Output, stdoutPreviewChars))
		b.WriteString("\n")
	}
	if result.Error != "" {
		b.WriteString("[stderr_preview] ")
		b.WriteString(truncateString(result.Error, stderrPreviewChars))
	}
	return b.String()
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func truncateSlice(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
