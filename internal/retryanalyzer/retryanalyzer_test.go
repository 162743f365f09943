package retryanalyzer

import (
	"context"
	"testing"

	"github.com/zace-dev/zace/internal/llm"
)

type fakeChat struct {
	request  llm.Request
	response llm.Response
	err      error
}

func (f *fakeChat) Chat(ctx context.Context, request llm.Request, options llm.Options) (llm.Response, error) {
	f.request = request
	return f.response, f.err
}

func (f *fakeChat) GetModelContextWindowTokens() int { return 128_000 }

func TestAnalyzeParsesStructuredReply(t *testing.T) {
	fc := &fakeChat{response: llm.Response{Content: `{"analysis":"network blip","shouldRetry":true,"retryDelayMs":1500}`}}
	a := New(fc)

	analysis, shouldRetry, delayMs, err := a.Analyze(context.Background(), "curl example.com", "", "connection reset")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analysis != "network blip" || !shouldRetry || delayMs != 1500 {
		t.Fatalf("unexpected result: %q %v %d", analysis, shouldRetry, delayMs)
	}
	if fc.request.CallKind != llm.CallKindExecutor {
		t.Fatalf("expected executor call kind, got %q", fc.request.CallKind)
	}
}

func TestAnalyzePropagatesTransportError(t *testing.T) {
	fc := &fakeChat{err: &llm.TransportError{Class: llm.ErrorOther}}
	a := New(fc)

	if _, _, _, err := a.Analyze(context.Background(), "cmd", "", "boom"); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestAnalyzeRejectsMalformedReply(t *testing.T) {
	fc := &fakeChat{response: llm.Response{Content: "not json"}}
	a := New(fc)

	if _, _, _, err := a.Analyze(context.Background(), "cmd", "", "boom"); err == nil {
		t.Fatal("expected parse error")
	}
}
