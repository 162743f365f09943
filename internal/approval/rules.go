package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RuleStore is a JSON-file-backed append log of ApprovalRule entries (§6:
// "Approval rules file"). Reads are served from the in-memory copy; writes
// append to memory and rewrite the whole file, matching the teacher's
// small-file-store pattern of favoring simplicity over partial-write safety
// at this data volume.
type RuleStore struct {
	path  string
	mu    sync.Mutex
	rules []Rule
}

// OpenRuleStore loads path if present, or starts empty when it does not
// exist yet.
func OpenRuleStore(path string) (*RuleStore, error) {
	s := &RuleStore{path: path}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("approval: read rule store: %w", err)
	}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s.rules); err != nil {
		return nil, fmt.Errorf("approval: decode rule store: %w", err)
	}
	return s, nil
}

// Add appends a rule and persists the store.
func (s *RuleStore) Add(rule Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	s.rules = append(s.rules, rule)
	return s.persistLocked()
}

func (s *RuleStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("approval: create rule store dir: %w", err)
	}
	b, err := json.MarshalIndent(s.rules, "", "  ")
	if err != nil {
		return fmt.Errorf("approval: encode rule store: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return fmt.Errorf("approval: write rule store: %w", err)
	}
	return nil
}

// FindApprovalRuleDecision returns the decision of the newest rule (by
// CreatedAt) whose pattern matches commandSignature within the given
// session/workspace scope, or "" if none match. Session-scoped rules are
// only considered for sessionID; workspace-scoped rules for workspaceRoot.
func (s *RuleStore) FindApprovalRuleDecision(commandSignature, sessionID, workspaceRoot string) (Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Rule
	for i := range s.rules {
		r := &s.rules[i]
		switch r.Scope {
		case ScopeSession:
			if r.SessionID != sessionID {
				continue
			}
		case ScopeWorkspace:
			if r.WorkspaceRoot != workspaceRoot {
				continue
			}
		default:
			continue
		}
		if !patternMatches(r.Pattern, commandSignature) {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return "", false
	}
	return best.Decision, true
}

// Watch starts an fsnotify watch on the store's directory and reloads the
// in-memory rule set whenever the underlying file is written externally
// (e.g. a human hand-editing the rules file, or a second process's Add).
// Reload errors are reported on the returned channel rather than killing the
// watch; callers that don't care may leave it unread. Close the watcher via
// the returned stop function.
func (s *RuleStore) Watch() (stop func() error, errs <-chan error, err error) {
	if s.path == "" {
		return func() error { return nil }, nil, fmt.Errorf("approval: cannot watch an unpathed rule store")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("approval: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("approval: watch rule store dir: %w", err)
	}

	errCh := make(chan error, 4)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					select {
					case errCh <- err:
					default:
					}
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case errCh <- watchErr:
				default:
				}
			case <-done:
				return
			}
		}
	}()

	stop = func() error {
		close(done)
		return watcher.Close()
	}
	return stop, errCh, nil
}

func (s *RuleStore) reload() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("approval: reload rule store: %w", err)
	}
	if len(b) == 0 {
		return nil
	}
	var rules []Rule
	if err := json.Unmarshal(b, &rules); err != nil {
		return fmt.Errorf("approval: decode reloaded rule store: %w", err)
	}
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
	return nil
}

// patternMatches implements the ApprovalRule.pattern contract: a pattern
// wrapped as /expr/flags is a regular expression (flags limited to "i"),
// otherwise it must equal the signature literally.
func patternMatches(pattern, signature string) bool {
	if len(pattern) >= 2 && strings.HasPrefix(pattern, "/") {
		if idx := strings.LastIndexByte(pattern, '/'); idx > 0 {
			expr := pattern[1:idx]
			flags := pattern[idx+1:]
			if flags == "" || flags == "i" {
				if flags == "i" {
					expr = "(?i)" + expr
				}
				re, err := regexp.Compile(expr)
				if err == nil {
					return re.MatchString(signature)
				}
			}
		}
	}
	return pattern == signature
}
