package journal

import "github.com/zace-dev/zace/internal/memory"

// MemorySink adapts a Journal to memory.Sink, so every message appended to
// the in-memory log is mirrored to the session's on-disk journal.
type MemorySink struct {
	Journal *Journal
}

func NewMemorySink(j *Journal) *MemorySink {
	return &MemorySink{Journal: j}
}

func (s *MemorySink) Write(msg memory.Message) error {
	return s.Journal.Message(msg.Role, msg.Content)
}
