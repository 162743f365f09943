package planner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	jsonPayloadPattern = regexp.MustCompile(`(?s)\{.*\}`)
	trailingCommaRe    = regexp.MustCompile(`,(\s*[}\]])`)
)

// sessionTools require sessionId for every call, and content for writes.
var sessionTools = map[string]bool{
	"search_session_messages": true,
	"write_session_message":   true,
}

var writeSessionTools = map[string]bool{
	"write_session_message": true,
}

// Options bounds the parser's retry/repair/artifact behaviour, sourced from
// the run loop's configuration (plannerParseMaxRepairs,
// plannerMaxInvalidArtifactChars, and the invalid-output artifact directory).
type Options struct {
	Mode                OutputMode
	MaxRepairs          int
	InvalidArtifactDir  string // e.g. ".zace/runtime/planner"
	MaxInvalidArtifactChars int
}

// Parse implements the §4.2 parsing order and returns a PlanResult.
// rawInvalidCount is the caller-tracked running count of unparseable replies
// across the whole run; Parse folds in this attempt and returns the updated
// total on RawInvalidCount.
func Parse(reply TransportReply, opts Options, rawInvalidCount int) PlanResult {
	result := PlanResult{RawInvalidCount: rawInvalidCount, Usage: reply.Usage}

	// Step 1: schema transport.
	if (opts.Mode == OutputAuto || opts.Mode == OutputSchemaStrict) && reply.Structured != nil {
		if pr, ok := fromStructured(reply.Structured); ok {
			pr.ParseMode = ModeSchemaTransport
			pr.ParseAttempts = 1
			pr.RawInvalidCount = rawInvalidCount
			pr.Usage = reply.Usage
			return pr
		}
	}

	// Step 2: response_format rejected outright.
	if reply.ResponseFormatUnsupported {
		if opts.Mode == OutputSchemaStrict {
			result.Action = ActionBlocked
			result.ParseMode = ModeFailed
			result.SchemaUnsupportedReason = reply.UnsupportedReason
			result.ParseAttempts = 1
			return result
		}
		// mode == auto: caller re-issues without response_format and the
		// retried reply arrives here as plain Content; continue to step 3.
	}

	content := strings.TrimSpace(reply.Content)

	// Step 3: legacy text prefixes.
	if pr, ok := parseLegacyPrefixes(content); ok {
		pr.ParseMode = ModeLegacy
		pr.ParseAttempts = 1
		pr.RawInvalidCount = rawInvalidCount
		pr.Usage = reply.Usage
		return pr
	}

	// Step 4: bare JSON payload, with bounded repairs.
	attempts := 0
	if payload := jsonPayloadPattern.FindString(content); payload != "" {
		attempts++
		if pr, ok := fromJSONPayload(payload); ok {
			pr.ParseMode = ModeJSONStrict
			pr.ParseAttempts = attempts
			pr.RawInvalidCount = rawInvalidCount
			pr.Usage = reply.Usage
			return pr
		}

		repaired := payload
		for i := 0; i < opts.MaxRepairs; i++ {
			attempts++
			var changed bool
			repaired, changed = repairJSON(repaired, i)
			if !changed {
				continue
			}
			if pr, ok := fromJSONPayload(repaired); ok {
				pr.ParseMode = ModeRepairJSON
				pr.ParseAttempts = attempts
				pr.RawInvalidCount = rawInvalidCount
				pr.Usage = reply.Usage
				return pr
			}
		}
	}

	// Step 5: all attempts failed.
	result.Action = ActionBlocked
	result.ParseMode = ModeFailed
	result.ParseAttempts = attempts
	result.RawInvalidCount = rawInvalidCount + 1
	result.Usage = reply.Usage
	if opts.InvalidArtifactDir != "" {
		path, err := writeInvalidArtifact(opts.InvalidArtifactDir, content, opts.MaxInvalidArtifactChars)
		if err == nil {
			result.InvalidOutputArtifactPath = path
		}
	}
	return result
}

// fromStructured validates a schema-transport payload (tool-aware) and
// converts it to a PlanResult.
func fromStructured(payload map[string]any) (PlanResult, bool) {
	return fromPayloadMap(payload)
}

func fromJSONPayload(raw string) (PlanResult, bool) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return PlanResult{}, false
	}
	return fromPayloadMap(payload)
}

// fromPayloadMap converts a decoded JSON object into a PlanResult, applying
// the tool-aware validation from §4.2: execute_command requires command;
// session tools require sessionId, and writes additionally require content.
func fromPayloadMap(payload map[string]any) (PlanResult, bool) {
	action, _ := payload["action"].(string)
	if action == "" {
		return PlanResult{}, false
	}

	pr := PlanResult{
		Action:    Action(action),
		Reasoning: stringField(payload, "reasoning"),
	}

	if um, ok := payload["userMessage"].(string); ok {
		pr.UserMessage = um
	}

	if gates, ok := payload["completionGateCommands"].([]any); ok {
		for _, g := range gates {
			if s, ok := g.(string); ok {
				pr.CompletionGateCommands = append(pr.CompletionGateCommands, s)
			}
		}
	}
	if none, ok := payload["completionGatesDeclaredNone"].(bool); ok {
		pr.CompletionGatesDeclaredNone = none
	}

	if tcRaw, ok := payload["toolCall"].(map[string]any); ok {
		tc, ok := validateToolCall(tcRaw)
		if !ok {
			return PlanResult{}, false
		}
		pr.ToolCall = &tc
	}

	switch pr.Action {
	case ActionContinue, ActionComplete, ActionBlocked, ActionAskUser:
	default:
		return PlanResult{}, false
	}

	return pr, true
}

func validateToolCall(raw map[string]any) (ToolCall, bool) {
	name, _ := raw["name"].(string)
	if name == "" {
		return ToolCall{}, false
	}
	args, _ := raw["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	switch {
	case name == "execute_command":
		if _, ok := args["command"].(string); !ok {
			return ToolCall{}, false
		}
	case sessionTools[name]:
		if _, ok := args["sessionId"].(string); !ok {
			return ToolCall{}, false
		}
		if writeSessionTools[name] {
			if _, ok := args["content"].(string); !ok {
				return ToolCall{}, false
			}
		}
	}

	return ToolCall{Name: name, Arguments: args}, true
}

var (
	completeRe = regexp.MustCompile(`(?is)^COMPLETE:\s*(.*)`)
	blockedRe  = regexp.MustCompile(`(?is)^BLOCKED:\s*(.*)`)
	askUserRe  = regexp.MustCompile(`(?is)^ASK_USER:\s*(.*)`)
	gatesRe    = regexp.MustCompile(`(?im)^GATES:\s*(.*)$`)
)

func parseLegacyPrefixes(content string) (PlanResult, bool) {
	if m := completeRe.FindStringSubmatch(content); m != nil {
		pr := PlanResult{Action: ActionComplete}
		body := m[1]
		if gm := gatesRe.FindStringSubmatch(body); gm != nil {
			spec := strings.TrimSpace(gm[1])
			if strings.EqualFold(spec, "none") {
				pr.CompletionGatesDeclaredNone = true
			} else {
				for _, cmd := range strings.Split(spec, ";;") {
					cmd = strings.TrimSpace(cmd)
					if cmd != "" {
						pr.CompletionGateCommands = append(pr.CompletionGateCommands, cmd)
					}
				}
			}
			body = gatesRe.ReplaceAllString(body, "")
		}
		pr.UserMessage = strings.TrimSpace(body)
		pr.Reasoning = pr.UserMessage
		return pr, true
	}
	if m := blockedRe.FindStringSubmatch(content); m != nil {
		return PlanResult{Action: ActionBlocked, UserMessage: strings.TrimSpace(m[1]), Reasoning: strings.TrimSpace(m[1])}, true
	}
	if m := askUserRe.FindStringSubmatch(content); m != nil {
		return PlanResult{Action: ActionAskUser, UserMessage: strings.TrimSpace(m[1]), Reasoning: strings.TrimSpace(m[1])}, true
	}
	return PlanResult{}, false
}

// repairJSON applies one of the bounded repair strategies, in order:
// trailing-comma removal, then balanced-brace truncation. Returns the
// repaired string and whether a change was made (so the caller can skip
// re-parsing after a pass that changed nothing).
func repairJSON(s string, pass int) (string, bool) {
	switch pass {
	case 0:
		fixed := trailingCommaRe.ReplaceAllString(s, "$1")
		return fixed, fixed != s
	default:
		truncated := truncateToBalancedBraces(s)
		return truncated, truncated != s && truncated != ""
	}
}

// truncateToBalancedBraces scans for the shortest prefix starting at the
// first "{" whose braces balance, ignoring braces inside string literals.
func truncateToBalancedBraces(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// writeInvalidArtifact persists an unparseable reply to
// .zace/runtime/planner/invalid-<timestamp>.txt, bounded to maxChars.
func writeInvalidArtifact(dir, content string, maxChars int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("planner: create artifact dir: %w", err)
	}
	if maxChars > 0 {
		runes := []rune(content)
		if len(runes) > maxChars {
			content = string(runes[:maxChars])
		}
	}
	name := "invalid-" + strconv.FormatInt(time.Now().UnixNano(), 10) + ".txt"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("planner: write artifact: %w", err)
	}
	return path, nil
}
