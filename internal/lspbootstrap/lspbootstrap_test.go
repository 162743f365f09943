package lspbootstrap

import (
	"context"
	"testing"
)

type fakeProber struct {
	signal Signal
	reason string
	err    error
}

func (f fakeProber) ProbeFiles(ctx context.Context, files []string) (Signal, string, error) {
	return f.signal, f.reason, f.err
}

func TestDeriveSignal(t *testing.T) {
	cases := map[string]Signal{
		"no_active_server":    SignalRequired,
		"failed":              SignalFailed,
		"diagnostics":         SignalActive,
		"no_errors":           SignalActive,
		"no_applicable_files": SignalNone,
		"no_changed_files":    SignalNone,
		"disabled":            SignalNone,
		"":                    SignalNone,
	}
	for status, want := range cases {
		if got := DeriveSignal(status); got != want {
			t.Errorf("DeriveSignal(%q) = %s, want %s", status, got, want)
		}
	}
}

func TestAdvanceNoneLeavesStateUntouched(t *testing.T) {
	b := New()
	events := b.Advance(context.Background(), nil, SignalNone, "", nil, false, "")
	if b.State != StateIdle || events != nil {
		t.Fatalf("expected idle state unchanged, got %s events=%v", b.State, events)
	}
}

func TestAdvanceRequiredEmitsEvent(t *testing.T) {
	b := New()
	events := b.Advance(context.Background(), nil, SignalRequired, "no server running", []string{"a.ts"}, false, "tsc --noEmit")
	if b.State != StateRequired {
		t.Fatalf("expected required, got %s", b.State)
	}
	if len(events) != 1 || events[0].Name != "lsp_bootstrap_required" {
		t.Fatalf("expected lsp_bootstrap_required event, got %v", events)
	}
	if b.ProvisionAttempts != 1 {
		t.Fatalf("expected provisionAttempts=1, got %d", b.ProvisionAttempts)
	}
}

func TestAdvanceActiveClearsAndEmitsOnlyWhenNotIdle(t *testing.T) {
	b := New()
	b.Advance(context.Background(), nil, SignalRequired, "down", []string{"a.ts"}, false, "tsc")
	events := b.Advance(context.Background(), nil, SignalActive, "", nil, false, "")
	if b.State != StateReady {
		t.Fatalf("expected ready, got %s", b.State)
	}
	if len(events) != 1 || events[0].Name != "lsp_bootstrap_cleared" {
		t.Fatalf("expected lsp_bootstrap_cleared, got %v", events)
	}
	if len(b.PendingChangedFiles) != 0 {
		t.Fatal("expected pending files cleared")
	}
}

func TestAdvanceActiveFromIdleEmitsNothing(t *testing.T) {
	b := New()
	events := b.Advance(context.Background(), nil, SignalActive, "", nil, false, "")
	if b.State != StateReady || events != nil {
		t.Fatalf("expected ready with no event from idle, got %s events=%v", b.State, events)
	}
}

func TestAdvanceProbeTriggeredOnConfigTouchWithPendingFiles(t *testing.T) {
	b := New()
	b.Advance(context.Background(), nil, SignalRequired, "down", []string{"a.ts"}, false, "tsc")

	prober := fakeProber{signal: SignalActive}
	events := b.Advance(context.Background(), prober, SignalRequired, "", nil, true, "")

	var names []string
	for _, e := range events {
		names = append(names, e.Name)
	}
	if len(names) != 2 || names[0] != "lsp_bootstrap_probe_started" || names[1] != "lsp_bootstrap_probe_succeeded" {
		t.Fatalf("expected probe started/succeeded events, got %v", names)
	}
	if b.State != StateReady {
		t.Fatalf("expected ready after successful probe, got %s", b.State)
	}
}

func TestAdvanceProbeFailureKeepsRequired(t *testing.T) {
	b := New()
	b.Advance(context.Background(), nil, SignalRequired, "down", []string{"a.ts"}, false, "tsc")

	prober := fakeProber{signal: SignalRequired, reason: "still down"}
	events := b.Advance(context.Background(), prober, SignalRequired, "", nil, true, "tsc --noEmit")

	if b.State != StateRequired {
		t.Fatalf("expected still required, got %s", b.State)
	}
	found := false
	for _, e := range events {
		if e.Name == "lsp_bootstrap_probe_failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a probe_failed event, got %v", events)
	}
}

func TestAttemptedCommandsCappedAndTruncated(t *testing.T) {
	b := New()
	for i := 0; i < 8; i++ {
		long := ""
		for j := 0; j < 300; j++ {
			long += "x"
		}
		b.Advance(context.Background(), nil, SignalRequired, "down", nil, false, long)
	}
	if len(b.AttemptedCommands) != maxAttemptedCommands {
		t.Fatalf("expected %d attempted commands, got %d", maxAttemptedCommands, len(b.AttemptedCommands))
	}
	for _, c := range b.AttemptedCommands {
		if len(c) > maxAttemptedCommandChar {
			t.Fatalf("expected truncated command, got length %d", len(c))
		}
	}
}

func TestBlocksCompletion(t *testing.T) {
	b := New()
	b.State = StateRequired
	if !b.BlocksCompletion(BlockPolicy{Enabled: true}) {
		t.Fatal("expected required state to block completion")
	}
	if b.BlocksCompletion(BlockPolicy{Enabled: false}) {
		t.Fatal("expected disabled LSP policy to never block")
	}

	b2 := New()
	b2.State = StateFailed
	if b2.BlocksCompletion(BlockPolicy{Enabled: true, BlockOnFailed: false}) {
		t.Fatal("expected failed state to not block when BlockOnFailed=false")
	}
	if !b2.BlocksCompletion(BlockPolicy{Enabled: true, BlockOnFailed: true}) {
		t.Fatal("expected failed state to block when BlockOnFailed=true")
	}
}

func TestShouldWaitForUserAfterMaxAttempts(t *testing.T) {
	b := New()
	b.State = StateRequired
	b.ProvisionAttempts = 3
	b.AttemptedCommands = []string{"tsc --noEmit"}
	wait, excerpt := b.ShouldWaitForUser(BlockPolicy{Enabled: true, AutoProvision: true, ProvisionMaxAttempts: 3})
	if !wait {
		t.Fatal("expected to wait for user once max attempts reached")
	}
	if excerpt == "" {
		t.Fatal("expected a non-empty attempted-commands excerpt")
	}
}
