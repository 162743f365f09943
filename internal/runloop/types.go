// Package runloop implements the run loop scheduler (spec.md §4.7): the
// plan→execute→analyze state machine that drives one task to completion,
// interleaving the planner, the tool executor, the approval and guardrail
// checks, and the completion-gate evaluator.
package runloop

import (
	"time"

	"github.com/zace-dev/zace/internal/gate"
	"github.com/zace-dev/zace/internal/guardrail"
	"github.com/zace-dev/zace/internal/lspbootstrap"
	"github.com/zace-dev/zace/internal/memory"
	"github.com/zace-dev/zace/internal/planner"
)

// AgentState names a step's position in the state machine (§4.7).
type AgentState string

const (
	StatePlanning       AgentState = "planning"
	StateExecuting      AgentState = "executing"
	StateWaitingForUser AgentState = "waiting_for_user"
	StateCompleted      AgentState = "completed"
	StateBlocked        AgentState = "blocked"
	StateError          AgentState = "error"
	StateInterrupted    AgentState = "interrupted"
)

// Artifacts is the run loop's ToolResult.artifacts entity (§3).
type Artifacts struct {
	ChangedFiles            []string
	ProgressSignal          string // files_changed | success_without_changes | none
	LspStatus               string
	LspStatusReason         string
	LspErrorCount           *int
	LspDiagnosticsIncluded  bool
	LspDiagnosticsFiles     []string
	LifecycleEvent          string // none | abort
	Aborted                 bool
	RetryCategory           string // transient | permanent | unknown
	WriteRegressionDetected bool
	WriteRegressionReason   string
}

// ToolResult is the run loop's ToolResult entity (§3).
type ToolResult struct {
	Success   bool
	Output    string
	Error     string
	Artifacts *Artifacts
}

// AgentStep is one recorded step in the run's history.
type AgentStep struct {
	Index      int
	State      AgentState
	ToolCall   *planner.ToolCall
	ToolResult *ToolResult
	Message    string
	Timestamp  time.Time
}

// AgentResult is what RunAgentLoop returns to its caller.
type AgentResult struct {
	Success    bool
	FinalState AgentState
	Message    string
}

// Config carries the §6 policy knobs consumed directly by the scheduler
// (the rest are threaded into the gate/guardrail/approval/lspbootstrap
// sub-packages via their own option structs).
type Config struct {
	MaxSteps                    int
	DoomLoopThreshold           int
	StagnationWindow            int
	ReadonlyStagnationWindow    int
	WriteRegressionErrorSpike   int
	TransientRetryMaxAttempts   int
	TransientRetryMaxDelayMs    int
	MaxConsecutiveNoToolContinues int
	CompactionEnabled           bool
	CompactionTriggerRatio      float64
	CompactionPreserveRecent    int
	ContextWindowTokens         int
	GateOptions                 gate.BuildOptions
	LspPolicy                   lspbootstrap.BlockPolicy
	PlannerOptions               planner.Options
	RuntimeLspConfigPath        string
}

// DefaultConfig mirrors the teacher's documented defaults for the knobs the
// spec leaves to the implementation, clamped per §4.6/§4.7's stated minimums.
func DefaultConfig() Config {
	return Config{
		MaxSteps:                    40,
		DoomLoopThreshold:           2,
		StagnationWindow:            6,
		ReadonlyStagnationWindow:    4,
		WriteRegressionErrorSpike:   5,
		TransientRetryMaxAttempts:   3,
		TransientRetryMaxDelayMs:    8000,
		MaxConsecutiveNoToolContinues: 2,
		CompactionEnabled:           true,
		CompactionTriggerRatio:      0.85,
		CompactionPreserveRecent:    12,
		ContextWindowTokens:         128000,
	}
}

// AgentContext is the run loop's single mutable owner of state for one
// invocation (§3, §5 ownership note).
type AgentContext struct {
	Task             string
	WorkingDirectory string
	SessionID        string
	RunID            string

	Memory       *memory.Memory
	LspBootstrap *lspbootstrap.Bootstrap
	CompletionPlan gate.CompletionPlan

	ToolCallSignatureHistory []string
	OnceApprovedSignatures   map[string]bool

	CurrentStep int

	LastExecutionWorkingDirectory string

	LastWriteStep            int
	LastWriteStepSet         bool
	LastWriteWorkingDirectory string
	LastWriteLspErrorCount   *int

	LastSuccessfulValidationStep    int
	LastSuccessfulValidationStepSet bool

	NoToolContinueCount int
	PreviousLoopSignature string
	RepetitionCount        int

	RawInvalidPlannerCount int

	Steps []AgentStep
}

// NewAgentContext constructs a fresh context for one run.
func NewAgentContext(task, workingDirectory, sessionID, runID string, mem *memory.Memory) *AgentContext {
	return &AgentContext{
		Task:                   task,
		WorkingDirectory:       workingDirectory,
		SessionID:              sessionID,
		RunID:                  runID,
		Memory:                 mem,
		LspBootstrap:           lspbootstrap.New(),
		OnceApprovedSignatures: map[string]bool{},
	}
}

func (c *AgentContext) recordStep(state AgentState, toolCall *planner.ToolCall, result *ToolResult, message string) {
	c.Steps = append(c.Steps, AgentStep{
		Index:      c.CurrentStep,
		State:      state,
		ToolCall:   toolCall,
		ToolResult: result,
		Message:    message,
	})
}

// transitionLastStep rewrites the most recently recorded step's state and
// message in place (§4.7/§9 Open Question 1: a step is appended once, and
// may have its state rewritten once by transitionState). Used when a
// guardrail or completion check fires against the step just recorded by
// recordStep, so the run never emits two AgentStep records sharing one
// Index — the §8 invariant that emitted step records equal currentStep.
func (c *AgentContext) transitionLastStep(state AgentState, message string) {
	if len(c.Steps) == 0 {
		c.recordStep(state, nil, nil, message)
		return
	}
	last := &c.Steps[len(c.Steps)-1]
	last.State = state
	last.Message = message
}

func (c *AgentContext) guardrailSteps() []guardrail.Step {
	out := make([]guardrail.Step, 0, len(c.Steps))
	for _, s := range c.Steps {
		if s.ToolCall == nil || s.ToolResult == nil {
			continue
		}
		var changedFiles int
		var progress string
		var lspErr *int
		var cmd string
		if s.ToolCall.Name == "execute_command" {
			cmd, _ = s.ToolCall.Arguments["command"].(string)
		}
		if s.ToolResult.Artifacts != nil {
			changedFiles = len(s.ToolResult.Artifacts.ChangedFiles)
			progress = s.ToolResult.Artifacts.ProgressSignal
			lspErr = s.ToolResult.Artifacts.LspErrorCount
		}
		out = append(out, guardrail.Step{
			ToolCallSignature: "",
			Command:           cmd,
			Success:           s.ToolResult.Success,
			ProgressSignal:    progress,
			ChangedFiles:      changedFiles,
			LspErrorCount:     lspErr,
		})
	}
	return out
}
