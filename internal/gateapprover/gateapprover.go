// Package gateapprover implements gate.Approver by delegating to the same
// runloop.ApprovalEngine used for planner-issued commands, so a completion
// gate's validation command is classified by the identical destructive-
// command policy (spec.md §4.5's gate-run step reuses approval, it does not
// bypass it).
package gateapprover

import (
	"context"

	"github.com/zace-dev/zace/internal/runloop"
)

// Approver adapts runloop.ApprovalEngine to gate.Approver. Gate execution
// has no user-facing channel mid-validation, so a request_user verdict is
// treated as "not currently allowed" rather than blocking on a prompt —
// the run loop's own tool-call path is where pending approvals actually
// get surfaced to the user.
type Approver struct {
	Engine    runloop.ApprovalEngine
	SessionID string
}

func New(engine runloop.ApprovalEngine, sessionID string) *Approver {
	return &Approver{Engine: engine, SessionID: sessionID}
}

// Approve implements gate.Approver.
func (a *Approver) Approve(ctx context.Context, command, cwd string) (bool, error) {
	decision, _, err := a.Engine.Resolve(ctx, a.SessionID, command, command, cwd)
	if err != nil {
		return false, err
	}
	return decision == runloop.ApprovalAllow, nil
}
