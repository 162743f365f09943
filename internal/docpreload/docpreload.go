// Package docpreload implements the project-doc preloader (spec.md §2 item
// 12): discovering project documentation, reading bounded previews, and
// injecting them into the startup context within a character budget.
package docpreload

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// candidateNames are searched at each directory depth, in priority order.
var candidateNames = []string{"AGENTS.md", "CLAUDE.md", "README.md"}

// ProjectDocTimeout mirrors spec.md §5's fixed PROJECT_DOC_TIMEOUT_MS used
// for doc reads and discovery walks.
const ProjectDocTimeout = 30 * time.Second

// Doc is one discovered documentation file.
type Doc struct {
	Path    string
	Depth   int  // 0 = workspace root
	Explicit bool // true if named directly by the caller rather than discovered
}

// Discover finds documentation files under root. Explicit refs (paths the
// caller already knows about, e.g. from a manifest) are returned first, in
// the order given; remaining candidates are then found breadth-first by
// directory depth, nearest first, stopping at maxDepth.
func Discover(ctx context.Context, root string, explicitRefs []string, maxDepth int) []Doc {
	var out []Doc
	seen := map[string]bool{}

	for _, ref := range explicitRefs {
		abs := ref
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, ref)
		}
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			if !seen[abs] {
				out = append(out, Doc{Path: abs, Depth: 0, Explicit: true})
				seen[abs] = true
			}
		}
	}

	for depth := 0; depth <= maxDepth; depth++ {
		select {
		case <-ctx.Done():
			return out
		default:
		}
		dirs := dirsAtDepth(root, depth, maxDepth)
		sort.Strings(dirs)
		for _, dir := range dirs {
			for _, name := range candidateNames {
				p := filepath.Join(dir, name)
				if seen[p] {
					continue
				}
				if info, err := os.Stat(p); err == nil && !info.IsDir() {
					out = append(out, Doc{Path: p, Depth: depth})
					seen[p] = true
				}
			}
		}
	}
	return out
}

// dirsAtDepth returns every directory at exactly the given depth below root
// (depth 0 = root itself), skipping hidden and vendor-ish directories.
func dirsAtDepth(root string, depth, maxDepth int) []string {
	if depth == 0 {
		return []string{root}
	}
	parents := dirsAtDepth(root, depth-1, maxDepth)
	var out []string
	for _, parent := range parents {
		entries, err := os.ReadDir(parent)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()
			if strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor" {
				continue
			}
			out = append(out, filepath.Join(parent, name))
		}
	}
	return out
}

// Preloader caches bounded doc previews, keyed by path, invalidated
// explicitly (mirrors agent.ReadCache's path-keyed cache discipline).
type Preloader struct {
	mu    sync.RWMutex
	cache map[string]string
}

// New creates an empty preloader.
func New() *Preloader {
	return &Preloader{cache: make(map[string]string)}
}

// Preview returns up to maxChars of the file at path, reading once and
// caching the result.
func (p *Preloader) Preview(path string, maxChars int) (string, error) {
	p.mu.RLock()
	if v, ok := p.cache[path]; ok {
		p.mu.RUnlock()
		return truncate(v, maxChars), nil
	}
	p.mu.RUnlock()

	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(b)

	p.mu.Lock()
	p.cache[path] = content
	p.mu.Unlock()

	return truncate(content, maxChars), nil
}

// Invalidate drops a cached preview, e.g. after the file is rewritten.
func (p *Preloader) Invalidate(path string) {
	p.mu.Lock()
	delete(p.cache, path)
	p.mu.Unlock()
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	return s[:maxChars]
}

// BuildContext concatenates bounded previews of docs into one string,
// stopping as soon as the total character budget is exhausted. Each doc is
// introduced by a path header so the planner can attribute content.
func (p *Preloader) BuildContext(docs []Doc, totalCharBudget, perDocCharCap int) string {
	var b strings.Builder
	remaining := totalCharBudget
	for _, d := range docs {
		if remaining <= 0 {
			break
		}
		docCap := perDocCharCap
		if docCap > remaining {
			docCap = remaining
		}
		preview, err := p.Preview(d.Path, docCap)
		if err != nil || strings.TrimSpace(preview) == "" {
			continue
		}
		header := "## " + d.Path + "\n"
		b.WriteString(header)
		b.WriteString(preview)
		b.WriteString("\n\n")
		remaining -= len(header) + len(preview)
	}
	return b.String()
}
