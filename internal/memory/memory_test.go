package memory

import (
	"errors"
	"sync"
	"testing"
)

type recordingSink struct {
	mu  sync.Mutex
	got []Message
	err error
}

func (s *recordingSink) Write(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return s.err
}

func TestAppendAndEstimateTokenCount(t *testing.T) {
	m := New(nil)
	m.Append(Message{Role: RoleUser, Content: "abcd"})
	m.Append(Message{Role: RoleAssistant, Content: "12345678"})
	if got := m.EstimateTokenCount(); got != 3 {
		t.Fatalf("expected 3 tokens (ceil(12/4)), got %d", got)
	}
}

func TestCompactWithSummaryPreservesSystemAndRecent(t *testing.T) {
	m := New(nil)
	m.Append(Message{Role: RoleSystem, Content: "sys"})
	for i := 0; i < 5; i++ {
		m.Append(Message{Role: RoleUser, Content: "msg"})
	}
	dropped := m.CompactWithSummary("summary", 2)
	if dropped != 3 {
		t.Fatalf("expected 3 dropped, got %d", dropped)
	}
	msgs := m.Messages()
	if msgs[0].Role != RoleSystem {
		t.Fatalf("expected system message first, got %+v", msgs[0])
	}
	if msgs[1].Content != "summary" {
		t.Fatalf("expected summary second, got %+v", msgs[1])
	}
	if len(msgs) != 4 { // system + summary + 2 preserved
		t.Fatalf("expected 4 messages after compaction, got %d: %+v", len(msgs), msgs)
	}
}

func TestFlushMessageSinkSurfacesFirstError(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	m := New(sink)
	m.Append(Message{Role: RoleUser, Content: "x"})
	if err := m.FlushMessageSink(); err == nil {
		t.Fatal("expected sink error to surface")
	}
	// In-memory order must still be intact despite the sink failing.
	if len(m.Messages()) != 1 {
		t.Fatalf("expected message retained in memory, got %d", len(m.Messages()))
	}
}

func TestShouldCompactRespectsRatioAndPreserve(t *testing.T) {
	d := ShouldCompact(true, 90, 100, 0.85, 10, 4)
	if !d.ShouldCompact {
		t.Fatal("expected compaction to trigger at ratio 0.9 >= 0.85")
	}
	d2 := ShouldCompact(true, 90, 100, 0.85, 2, 4)
	if d2.ShouldCompact {
		t.Fatal("expected no compaction when non-system count <= preserveRecent")
	}
	d3 := ShouldCompact(true, 50, 100, 0.85, 10, 4)
	if d3.ShouldCompact {
		t.Fatal("expected no compaction below ratio")
	}
}
