package retry

import (
	"context"
	"testing"
)

func TestClassifyTransientOnTimeout(t *testing.T) {
	if got := Classify(1, "dial tcp: i/o timeout", "execute_command"); got != Transient {
		t.Fatalf("expected transient, got %s", got)
	}
}

func TestClassifyPermanentOnNotFound(t *testing.T) {
	if got := Classify(127, "bash: foo: command not found", "execute_command"); got != Permanent {
		t.Fatalf("expected permanent, got %s", got)
	}
}

func TestClassifyUnknownOnAmbiguousText(t *testing.T) {
	if got := Classify(1, "exit status 1", "execute_command"); got != Unknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}

func TestClassifyUnknownOnSuccess(t *testing.T) {
	if got := Classify(0, "", "execute_command"); got != Unknown {
		t.Fatalf("expected unknown for a clean exit, got %s", got)
	}
}

type fakeAnalyzer struct {
	shouldRetry bool
	delayMs     int
	err         error
}

func (f fakeAnalyzer) Analyze(ctx context.Context, command, output, errText string) (string, bool, int, error) {
	return "looked transient", f.shouldRetry, f.delayMs, f.err
}

func TestResolvePermanentNeverRetries(t *testing.T) {
	d := Resolve(context.Background(), fakeAnalyzer{shouldRetry: true, delayMs: 100}, "cmd", "", "permission denied", 1, "execute_command", 0, 3, 5000)
	if d.ShouldRetry {
		t.Fatalf("expected no retry for permanent category, got %+v", d)
	}
}

func TestResolveTransientRetriesWithAnalyzer(t *testing.T) {
	d := Resolve(context.Background(), fakeAnalyzer{shouldRetry: true, delayMs: 2000}, "cmd", "", "connection reset", 1, "execute_command", 0, 3, 5000)
	if !d.ShouldRetry || d.DelayMs != 2000 {
		t.Fatalf("expected retry with delay 2000, got %+v", d)
	}
}

func TestResolveClampsDelayToMax(t *testing.T) {
	d := Resolve(context.Background(), fakeAnalyzer{shouldRetry: true, delayMs: 999999}, "cmd", "", "timed out", 1, "execute_command", 0, 3, 4000)
	if d.DelayMs != 4000 {
		t.Fatalf("expected delay clamped to 4000, got %d", d.DelayMs)
	}
}

func TestResolveStopsAtMaxAttempts(t *testing.T) {
	d := Resolve(context.Background(), fakeAnalyzer{shouldRetry: true, delayMs: 100}, "cmd", "", "connection reset", 1, "execute_command", 3, 3, 5000)
	if d.ShouldRetry {
		t.Fatalf("expected no retry once attempts exhausted, got %+v", d)
	}
}

func TestResolveWithoutAnalyzerDefaultsToRetryNoDelay(t *testing.T) {
	d := Resolve(context.Background(), nil, "cmd", "", "rate limit exceeded", 1, "execute_command", 0, 3, 5000)
	if !d.ShouldRetry || d.DelayMs != 0 {
		t.Fatalf("expected retry with zero delay absent an analyzer, got %+v", d)
	}
}
