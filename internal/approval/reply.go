package approval

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// legacyRiskyTokens are historical one-word replies treated as an immediate
// allow_once without involving the LLM intent classifier, kept for backward
// compatibility with scripts and CI harnesses that pre-date the classifier.
var legacyRiskyTokens = []string{"yes", "y", "ok", "approve", "approved", "go ahead", "run it", "confirm"}

var legacyDenyTokens = []string{"no", "n", "deny", "denied", "stop", "cancel", "abort"}

var (
	allowAlwaysSessionRe   = regexp.MustCompile(`(?i)\balways\b.*\bsession\b|\ballow.*\bevery time\b`)
	allowAlwaysWorkspaceRe = regexp.MustCompile(`(?i)\balways\b.*\b(workspace|project|repo)\b`)
)

// IntentClassifier calls the LLM reply-intent classifier and returns its raw
// JSON verdict.
type IntentClassifier interface {
	ClassifyReplyRaw(ctx context.Context, pendingPrompt, reply string) (rawJSON string, err error)
}

type replyVerdict struct {
	Intent string `json:"intent"`
}

// ClassifyReply implements §4.3's reply-intent classification: a legacy
// risky-confirmation token short-circuits to allow_once/deny; an
// "always ... session/workspace" phrasing short-circuits to the matching
// always-scope intent; otherwise the LLM classifier is consulted, falling
// back to "unclear" when it is unavailable or its output does not parse.
func ClassifyReply(ctx context.Context, classifier IntentClassifier, pendingPrompt, reply string) ReplyIntent {
	normalized := strings.ToLower(strings.TrimSpace(reply))

	for _, tok := range legacyRiskyTokens {
		if normalized == tok {
			if allowAlwaysSessionRe.MatchString(normalized) {
				return ReplyAllowAlwaysSession
			}
			if allowAlwaysWorkspaceRe.MatchString(normalized) {
				return ReplyAllowAlwaysWorkspace
			}
			return ReplyAllowOnce
		}
	}
	for _, tok := range legacyDenyTokens {
		if normalized == tok {
			return ReplyDeny
		}
	}
	if allowAlwaysWorkspaceRe.MatchString(normalized) {
		return ReplyAllowAlwaysWorkspace
	}
	if allowAlwaysSessionRe.MatchString(normalized) {
		return ReplyAllowAlwaysSession
	}

	if classifier == nil {
		return ReplyUnclear
	}
	raw, err := classifier.ClassifyReplyRaw(ctx, pendingPrompt, reply)
	if err != nil {
		return ReplyUnclear
	}
	var verdict replyVerdict
	if json.Unmarshal([]byte(extractJSONObject(raw)), &verdict) != nil {
		return ReplyUnclear
	}
	switch ReplyIntent(verdict.Intent) {
	case ReplyAllowOnce, ReplyDeny, ReplyAllowAlwaysSession, ReplyAllowAlwaysWorkspace:
		return ReplyIntent(verdict.Intent)
	default:
		return ReplyUnclear
	}
}
