package approvalengine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/zace-dev/zace/internal/approval"
	"github.com/zace-dev/zace/internal/runloop"
)

type fakeSafety struct {
	destructive bool
	reason      string
}

func (f fakeSafety) ClassifyRaw(ctx context.Context, command string, safety approval.SafetyContext) (string, error) {
	if f.destructive {
		return `{"destructive":true,"reason":"` + f.reason + `"}`, nil
	}
	return `{"destructive":false}`, nil
}

type fakeIntent struct {
	raw string
}

func (f fakeIntent) ClassifyReplyRaw(ctx context.Context, pendingPrompt, reply string) (string, error) {
	return f.raw, nil
}

func newEngine(t *testing.T, dir string, destructive bool) *Engine {
	t.Helper()
	rules, err := approval.OpenRuleStore(filepath.Join(dir, "rules.json"))
	if err != nil {
		t.Fatalf("OpenRuleStore: %v", err)
	}
	pending := approval.OpenPendingStore(filepath.Join(dir, "pending.jsonl"))
	return &Engine{
		Rules:         rules,
		Pending:       pending,
		Safety:        fakeSafety{destructive: destructive, reason: "deletes files"},
		Intent:        fakeIntent{raw: `{"intent":"allow_once"}`},
		Policy:        approval.Policy{RequireRiskyConfirmation: true},
		WorkspaceRoot: dir,
		RunID:         "run-1",
	}
}

func TestResolveAllowsNonDestructiveCommand(t *testing.T) {
	e := newEngine(t, t.TempDir(), false)
	decision, _, err := e.Resolve(context.Background(), "sess", "ls -la", "sig-1", "/repo")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision != runloop.ApprovalAllow {
		t.Fatalf("expected allow, got %s", decision)
	}
}

func TestResolveRequestsUserForDestructiveCommandWithNoRule(t *testing.T) {
	e := newEngine(t, t.TempDir(), true)
	decision, message, err := e.Resolve(context.Background(), "sess", "rm -rf build", "sig-2", "/repo")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision != runloop.ApprovalRequestUser {
		t.Fatalf("expected request_user, got %s", decision)
	}
	if message == "" {
		t.Fatal("expected a non-empty prompt message")
	}
}

func TestResolveHonorsExistingDenyRule(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, dir, true)
	if err := e.Rules.Add(approval.Rule{
		Pattern: "sig-3", Decision: approval.DecisionDeny, Scope: approval.ScopeSession, SessionID: "sess",
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	decision, message, err := e.Resolve(context.Background(), "sess", "rm -rf build", "sig-3", "/repo")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision != runloop.ApprovalDeny {
		t.Fatalf("expected deny, got %s", decision)
	}
	if message == "" {
		t.Fatal("expected a reason message on deny")
	}
}

func TestHandleUserReplyAllowOnceResolvesPendingWithoutNewRule(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, dir, true)
	decision, _, err := e.Resolve(context.Background(), "sess", "rm -rf build", "sig-4", "/repo")
	if err != nil || decision != runloop.ApprovalRequestUser {
		t.Fatalf("setup Resolve: decision=%s err=%v", decision, err)
	}

	intent, err := e.HandleUserReply(context.Background(), "sess", 0, "yes")
	if err != nil {
		t.Fatalf("HandleUserReply: %v", err)
	}
	if intent != approval.ReplyAllowOnce {
		t.Fatalf("expected allow_once, got %s", intent)
	}

	if _, found, _ := e.Pending.FindLatestOpen("sess", "run-1", 0); found {
		t.Fatal("expected pending action to be resolved")
	}
}

func TestHandleUserReplyAllowAlwaysSessionPersistsRule(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, dir, true)
	e.Intent = fakeIntent{raw: `{"intent":"allow_always_session"}`}

	decision, _, err := e.Resolve(context.Background(), "sess", "rm -rf build", "sig-5", "/repo")
	if err != nil || decision != runloop.ApprovalRequestUser {
		t.Fatalf("setup Resolve: decision=%s err=%v", decision, err)
	}
	if _, err := e.HandleUserReply(context.Background(), "sess", 0, "always allow this for the session"); err != nil {
		t.Fatalf("HandleUserReply: %v", err)
	}

	decision, _, err = e.Resolve(context.Background(), "sess", "rm -rf build", "sig-5", "/repo")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if decision != runloop.ApprovalAllow {
		t.Fatalf("expected subsequent resolve to allow via the persisted rule, got %s", decision)
	}
}
