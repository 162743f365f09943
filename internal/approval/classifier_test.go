package approval

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeClassifier struct {
	raw string
	err error
}

func (f fakeClassifier) ClassifyRaw(ctx context.Context, command string, safety SafetyContext) (string, error) {
	return f.raw, f.err
}

func TestGetDestructiveCommandReasonConfirmationDisabled(t *testing.T) {
	reason, err := GetDestructiveCommandReason(context.Background(), nil, Policy{RequireRiskyConfirmation: false}, "rm -rf /", "/tmp")
	if err != nil || reason != "" {
		t.Fatalf("expected no reason when confirmation disabled, got %q err=%v", reason, err)
	}
}

func TestGetDestructiveCommandReasonRiskyToken(t *testing.T) {
	policy := Policy{RequireRiskyConfirmation: true, RiskyConfirmationToken: "--zace-confirm"}
	reason, err := GetDestructiveCommandReason(context.Background(), nil, policy, "rm -rf / --zace-confirm", "/tmp")
	if err != nil || reason != "" {
		t.Fatalf("expected token short-circuit, got %q err=%v", reason, err)
	}
}

func TestGetDestructiveCommandReasonRuntimeMaintenanceWriteExempt(t *testing.T) {
	dir := t.TempDir()
	policy := Policy{RequireRiskyConfirmation: true, RuntimeScriptsDir: dir}
	cmd := "echo ok > " + filepath.Join(dir, "script.sh")
	reason, err := GetDestructiveCommandReason(context.Background(), nil, policy, cmd, dir)
	if err != nil || reason != "" {
		t.Fatalf("expected runtime maintenance write exemption, got %q err=%v", reason, err)
	}
}

func TestGetDestructiveCommandReasonHighRiskNeverExempt(t *testing.T) {
	dir := t.TempDir()
	policy := Policy{RequireRiskyConfirmation: true, RuntimeScriptsDir: dir}
	cmd := "rm -rf " + dir
	reason, err := GetDestructiveCommandReason(context.Background(), fakeClassifier{raw: `{"destructive":true,"reason":"deletes runtime scripts"}`}, policy, cmd, dir)
	if err != nil || reason == "" {
		t.Fatalf("expected destructive reason for rm -rf, got %q err=%v", reason, err)
	}
}

func TestGetDestructiveCommandReasonLLMVerdictSafe(t *testing.T) {
	policy := Policy{RequireRiskyConfirmation: true}
	reason, err := GetDestructiveCommandReason(context.Background(), fakeClassifier{raw: `{"destructive":false}`}, policy, "ls -la", "/tmp")
	if err != nil || reason != "" {
		t.Fatalf("expected safe verdict to produce no reason, got %q err=%v", reason, err)
	}
}

func TestGetDestructiveCommandReasonFallsBackOnUnparseableVerdict(t *testing.T) {
	policy := Policy{RequireRiskyConfirmation: true}
	reason, err := GetDestructiveCommandReason(context.Background(), fakeClassifier{raw: "not json at all"}, policy, "chmod -R 777 .", "/tmp")
	if err != nil || reason == "" {
		t.Fatalf("expected deterministic fallback to flag chmod -R, got %q err=%v", reason, err)
	}
}

func TestGetDestructiveCommandReasonOverwriteExistingFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "existing.txt")
	if err := os.WriteFile(target, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	policy := Policy{RequireRiskyConfirmation: true}
	cmd := "echo bye > " + target
	reason, err := GetDestructiveCommandReason(context.Background(), fakeClassifier{raw: "garbage"}, policy, cmd, dir)
	if err != nil || reason == "" {
		t.Fatalf("expected overwrite-existing-file fallback reason, got %q err=%v", reason, err)
	}
}
