// Package approvalengine wires internal/approval's destructive-command
// classifier, rule store, and pending-action ledger into the single
// runloop.ApprovalEngine.Resolve method (spec.md §4.3), plus a
// HandleUserReply entry point for the out-of-loop resumption path: the
// caller (cmd/zace) invokes it when the user answers a `waiting_for_user`
// prompt, before calling RunAgentLoop again.
package approvalengine

import (
	"context"
	"fmt"
	"time"

	"github.com/zace-dev/zace/internal/approval"
	"github.com/zace-dev/zace/internal/runloop"
)

func secondsToDuration(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// Engine combines the approval package's stores into one decision point.
type Engine struct {
	Rules         *approval.RuleStore
	Pending       *approval.PendingStore
	Safety        approval.SafetyClassifier
	Intent        approval.IntentClassifier
	Policy        approval.Policy
	WorkspaceRoot string
	RunID         string
}

var _ runloop.ApprovalEngine = (*Engine)(nil)

// Resolve implements runloop.ApprovalEngine (spec.md §4.3): not destructive →
// allow; a matching rule → that rule's decision; otherwise open a pending
// action and request the user.
func (e *Engine) Resolve(ctx context.Context, sessionID, command, commandSignature, cwd string) (runloop.ApprovalDecision, string, error) {
	reason, err := approval.GetDestructiveCommandReason(ctx, e.Safety, e.Policy, command, cwd)
	if err != nil {
		return "", "", err
	}
	if reason == "" {
		return runloop.ApprovalAllow, "", nil
	}

	if decision, ok := e.Rules.FindApprovalRuleDecision(commandSignature, sessionID, e.WorkspaceRoot); ok {
		if decision == approval.DecisionAllow {
			return runloop.ApprovalAllow, "", nil
		}
		return runloop.ApprovalDeny, reason, nil
	}

	prompt := fmt.Sprintf("This command looks destructive: %s. Proceed?", reason)
	if _, err := e.Pending.Create(sessionID, e.RunID, prompt, approval.ActionContext{
		Command:          command,
		CommandSignature: commandSignature,
		Reason:           reason,
		WorkingDirectory: cwd,
	}); err != nil {
		return "", "", err
	}
	return runloop.ApprovalRequestUser, prompt, nil
}

// HandleUserReply resolves the latest open pending action for sessionID
// against the user's free-text reply, persisting an approval rule for the
// always-scoped intents (spec.md §4.3's reply-classification → scope
// mapping). Returns the classified intent so the caller can report the
// outcome back to the user.
func (e *Engine) HandleUserReply(ctx context.Context, sessionID string, maxAgeSeconds int, reply string) (approval.ReplyIntent, error) {
	pending, found, err := e.Pending.FindLatestOpen(sessionID, e.RunID, secondsToDuration(maxAgeSeconds))
	if err != nil {
		return approval.ReplyUnclear, err
	}
	if !found {
		return approval.ReplyUnclear, fmt.Errorf("approvalengine: no open pending action for session %q", sessionID)
	}

	intent := approval.ClassifyReply(ctx, e.Intent, pending.Prompt, reply)

	switch intent {
	case approval.ReplyAllowAlwaysSession:
		if err := e.Rules.Add(approval.Rule{
			Pattern: pending.Context.CommandSignature, Decision: approval.DecisionAllow,
			Scope: approval.ScopeSession, SessionID: sessionID,
		}); err != nil {
			return intent, err
		}
	case approval.ReplyAllowAlwaysWorkspace:
		if err := e.Rules.Add(approval.Rule{
			Pattern: pending.Context.CommandSignature, Decision: approval.DecisionAllow,
			Scope: approval.ScopeWorkspace, WorkspaceRoot: e.WorkspaceRoot,
		}); err != nil {
			return intent, err
		}
	}

	if _, err := e.Pending.Resolve(pending.Context.PendingID); err != nil {
		return intent, err
	}
	return intent, nil
}
