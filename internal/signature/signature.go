// Package signature canonicalizes tool calls into stable identities used by
// the approval rule matcher and the loop-detection guardrails.
package signature

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// maxLoopSignatureChars bounds the post-execution loop signature before
// hashing so the truncation itself is deterministic and testable.
const maxLoopSignatureChars = 400

var (
	uuidPattern     = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	artifactPattern = regexp.MustCompile(`(?m)^.*(?:stdout|stderr|combined)[^\n]*artifact[^\n]*$`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

// Build returns the stable tool-call signature "toolName|stable_json(args)".
// For execute_command, arguments are canonicalized first (§4.1): cwd resolved
// to an absolute path, command whitespace-collapsed, path-like tokens and
// KEY=value assignments normalized, quoted tokens unquoted-normalized-requoted.
func Build(toolName string, args map[string]any) string {
	canon := args
	if toolName == "execute_command" {
		canon = canonicalizeExecuteCommandArgs(args)
	}
	return toolName + "|" + stableJSON(canon)
}

// canonicalizeExecuteCommandArgs normalizes cwd and command so that logically
// equivalent invocations (relative vs absolute paths, extra whitespace)
// produce the same signature.
func canonicalizeExecuteCommandArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	cwd, _ := args["cwd"].(string)
	if cwd == "" {
		if wd, err := filepathAbs("."); err == nil {
			cwd = wd
		}
	} else if abs, err := filepathAbs(cwd); err == nil {
		cwd = abs
	}
	out["cwd"] = filepath.ToSlash(cwd)

	if cmd, ok := args["command"].(string); ok {
		out["command"] = canonicalizeCommand(cmd, cwd)
	}
	return out
}

var filepathAbs = filepath.Abs

// canonicalizeCommand collapses whitespace and normalizes path-like and
// KEY=value tokens relative to cwd.
func canonicalizeCommand(cmd, cwd string) string {
	collapsed := whitespaceRun.ReplaceAllString(strings.TrimSpace(cmd), " ")
	tokens := strings.Split(collapsed, " ")
	for i, tok := range tokens {
		tokens[i] = canonicalizeToken(tok, cwd)
	}
	return strings.Join(tokens, " ")
}

func canonicalizeToken(tok, cwd string) string {
	if tok == "" {
		return tok
	}
	if eq := strings.IndexByte(tok, '='); eq > 0 && isAssignmentKey(tok[:eq]) {
		return tok[:eq+1] + canonicalizeToken(tok[eq+1:], cwd)
	}

	quote := byte(0)
	body := tok
	if len(tok) >= 2 && (tok[0] == '"' || tok[0] == '\'') && tok[len(tok)-1] == tok[0] {
		quote = tok[0]
		body = tok[1 : len(tok)-1]
	}

	if looksLikePath(body) {
		body = normalizePathToken(body, cwd)
	}

	if quote != 0 {
		return string(quote) + body + string(quote)
	}
	return body
}

func isAssignmentKey(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}

func looksLikePath(tok string) bool {
	if strings.ContainsAny(tok, "/\\") {
		return true
	}
	if strings.HasPrefix(tok, ".") || strings.HasPrefix(tok, "..") {
		return true
	}
	if filepath.IsAbs(tok) {
		return true
	}
	return false
}

// normalizePathToken forward-slashes the token and, if it is an absolute path
// inside cwd, rewrites it relative to cwd.
func normalizePathToken(tok, cwd string) string {
	slashed := filepath.ToSlash(tok)
	if cwd == "" || !filepath.IsAbs(tok) {
		return slashed
	}
	cwdSlashed := filepath.ToSlash(cwd)
	if rel, err := filepath.Rel(cwd, tok); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	_ = cwdSlashed
	return slashed
}

// stableJSON encodes v as JSON with object keys sorted, so that semantically
// equal argument maps always serialize identically regardless of Go map
// iteration order.
func stableJSON(v any) string {
	return string(marshalSorted(v))
}

func marshalSorted(v any) []byte {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			b.Write(marshalSorted(val[k]))
		}
		b.WriteByte('}')
		return []byte(b.String())
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			b.Write(marshalSorted(e))
		}
		b.WriteByte(']')
		return []byte(b.String())
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return []byte(fmt.Sprintf("%q", fmt.Sprint(val)))
		}
		return b
	}
}

// LoopSignature builds the post-execution signature used by the repetition
// guardrail: the stable tool-call signature plus a normalized rendering of
// the tool's output, with artifact paths and UUIDs substituted out so that
// two otherwise-identical executions collapse to one signature.
func LoopSignature(toolSig, output string) string {
	norm := artifactPattern.ReplaceAllString(output, "<artifact>")
	norm = uuidPattern.ReplaceAllString(norm, "<uuid>")
	norm = whitespaceRun.ReplaceAllString(strings.TrimSpace(norm), " ")
	if len(norm) > maxLoopSignatureChars {
		norm = norm[:maxLoopSignatureChars]
	}
	return toolSig + "|" + norm
}

// Hash returns a short, stable hash of a signature string, useful as a map
// key when the full signature is too large to keep verbatim in history.
func Hash(sig string) string {
	sum := sha256.Sum256([]byte(sig))
	return fmt.Sprintf("%x", sum[:8])
}
