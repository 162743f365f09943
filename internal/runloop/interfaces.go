package runloop

import (
	"context"

	"github.com/zace-dev/zace/internal/memory"
	"github.com/zace-dev/zace/internal/planner"
)

// Observer receives run events and streamed planner tokens for UI/journal
// consumption. Implementations must not block the loop for long.
type Observer interface {
	OnEvent(name string, payload map[string]any)
	OnToken(token string)
}

// NoopObserver discards everything; useful in tests and headless runs.
type NoopObserver struct{}

func (NoopObserver) OnEvent(name string, payload map[string]any) {}
func (NoopObserver) OnToken(token string)                        {}

// PlannerClient calls the planner LLM and returns its parsed TransportReply.
// Implementations own the schema-transport/prompt-fallback transport
// mechanics (§4.2 steps 1-2); RunAgentLoop calls planner.Parse on the result.
type PlannerClient interface {
	Plan(ctx context.Context, messages []memory.Message, opts planner.Options, observer Observer) (planner.TransportReply, error)
}

// Executor runs a planner-issued tool call against the workspace.
type Executor interface {
	Execute(ctx context.Context, call planner.ToolCall, cwd string) (ToolResult, error)
	ExecuteCommand(ctx context.Context, command, cwd string) (stdout, stderr string, exitCode int, err error)
}

// ApprovalDecision is the three-way verdict from resolving a planned
// execute_command call (§4.7 tool-execution step 2).
type ApprovalDecision string

const (
	ApprovalAllow       ApprovalDecision = "allow"
	ApprovalDeny        ApprovalDecision = "deny"
	ApprovalRequestUser ApprovalDecision = "request_user"
)

// ApprovalEngine resolves whether a planned command may run, per §4.3: no
// approval required, a once-approved signature, a matching rule, or else a
// pending-approval prompt to the user.
type ApprovalEngine interface {
	Resolve(ctx context.Context, sessionID, command, commandSignature, cwd string) (decision ApprovalDecision, message string, err error)
}

// Compactor invokes the compaction LLM call and returns a summary to apply
// via memory.CompactWithSummary (§4.8).
type Compactor interface {
	Compact(ctx context.Context, messages []memory.Message) (summary string, err error)
}

// RetryAnalyzer is the executor-analysis LLM call from §4.9.
type RetryAnalyzer interface {
	Analyze(ctx context.Context, command, output, errText string) (analysis string, shouldRetry bool, retryDelayMs int, err error)
}

// RetryClassifier classifies a tool failure as transient, permanent, or
// unknown (§4.9); only transient permits a retry.
type RetryClassifier interface {
	Classify(exitCode int, errText string, toolName string) string
}

// ScriptCatalog is updated from marker lines in tool output (§4.10).
type ScriptCatalog interface {
	ApplyMarkers(output string, step int)
	SyncRegistry() error
}

// TaskPlanResolver resolves the task-derived completion gates, opaque to
// this package per §4.5 item 1.
type TaskPlanResolver interface {
	ResolveCompletionPlan(ctx context.Context, task string) ([]GateSpec, error)
}

// GateSpec names one completion gate before it is wrapped in the gate
// package's CompletionGate type; kept here to avoid an import cycle between
// runloop and gate for the resolver-facing shape.
type GateSpec struct {
	Label   string
	Command string
}
