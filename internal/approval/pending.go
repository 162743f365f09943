package approval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingStore is an append-only JSONL ledger of PendingAction entries (§6).
// An action is "open" iff no later entry in the log shares its PendingID
// with Status resolved — matching createPendingApprovalAction /
// resolvePendingApprovalAction / findLatestOpenPendingAction from §4.3.
type PendingStore struct {
	path string
	mu   sync.Mutex
}

// OpenPendingStore returns a store backed by path; the file is created lazily
// on first append.
func OpenPendingStore(path string) *PendingStore {
	return &PendingStore{path: path}
}

// Create appends a new open PendingAction and returns it with a freshly
// generated PendingID recorded in its Context.
func (s *PendingStore) Create(sessionID, runID, prompt string, ctx ActionContext) (PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.PendingID == "" {
		ctx.PendingID = uuid.NewString()
	}
	action := PendingAction{
		SessionID: sessionID,
		RunID:     runID,
		Kind:      "approval",
		Status:    StatusOpen,
		Prompt:    prompt,
		Context:   ctx,
		Timestamp: time.Now(),
	}
	if err := s.appendLocked(action); err != nil {
		return PendingAction{}, err
	}
	return action, nil
}

// Resolve appends a resolved entry for pendingID, carrying forward the
// original context.
func (s *PendingStore) Resolve(pendingID string) (PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAllLocked()
	if err != nil {
		return PendingAction{}, err
	}
	var latest *PendingAction
	for i := range all {
		if all[i].Context.PendingID == pendingID {
			latest = &all[i]
		}
	}
	if latest == nil {
		return PendingAction{}, fmt.Errorf("approval: no pending action %q", pendingID)
	}
	resolved := *latest
	resolved.Status = StatusResolved
	resolved.Timestamp = time.Now()
	if err := s.appendLocked(resolved); err != nil {
		return PendingAction{}, err
	}
	return resolved, nil
}

// FindLatestOpen scans newest-first for the latest entry matching sessionID
// (and runID when non-empty) that is still open, ignoring entries older than
// maxAge when maxAge > 0.
func (s *PendingStore) FindLatestOpen(sessionID, runID string, maxAge time.Duration) (PendingAction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAllLocked()
	if err != nil {
		return PendingAction{}, false, err
	}

	latestByID := map[string]PendingAction{}
	order := []string{}
	for _, a := range all {
		id := a.Context.PendingID
		if _, seen := latestByID[id]; !seen {
			order = append(order, id)
		}
		latestByID[id] = a
	}

	now := time.Now()
	for i := len(order) - 1; i >= 0; i-- {
		a := latestByID[order[i]]
		if a.Status != StatusOpen {
			continue
		}
		if a.SessionID != sessionID {
			continue
		}
		if runID != "" && a.RunID != runID {
			continue
		}
		if maxAge > 0 && now.Sub(a.Timestamp) > maxAge {
			continue
		}
		return a, true, nil
	}
	return PendingAction{}, false, nil
}

func (s *PendingStore) appendLocked(action PendingAction) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("approval: create pending store dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("approval: open pending store: %w", err)
	}
	defer f.Close()

	b, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("approval: encode pending action: %w", err)
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("approval: append pending action: %w", err)
	}
	return nil
}

func (s *PendingStore) readAllLocked() ([]PendingAction, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("approval: read pending store: %w", err)
	}
	var out []PendingAction
	dec := json.NewDecoder(bytes.NewReader(b))
	for {
		var a PendingAction
		if err := dec.Decode(&a); err != nil {
			break
		}
		out = append(out, a)
	}
	return out, nil
}
