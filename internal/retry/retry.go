// Package retry implements the retry classifier and executor-analysis
// bounding described in spec.md §4.9.
package retry

import (
	"context"
	"regexp"
	"strings"
)

// Category is the classifier's verdict; only Transient permits a retry.
type Category string

const (
	Transient Category = "transient"
	Permanent Category = "permanent"
	Unknown   Category = "unknown"
)

var transientHints = []*regexp.Regexp{
	regexp.MustCompile(`(?i)connection reset`),
	regexp.MustCompile(`(?i)connection refused`),
	regexp.MustCompile(`(?i)timed? ?out`),
	regexp.MustCompile(`(?i)temporary failure`),
	regexp.MustCompile(`(?i)rate limit`),
	regexp.MustCompile(`(?i)try again`),
	regexp.MustCompile(`(?i)EAGAIN`),
	regexp.MustCompile(`(?i)ECONNRESET`),
	regexp.MustCompile(`(?i)ETIMEDOUT`),
	regexp.MustCompile(`(?i)i/o timeout`),
	regexp.MustCompile(`(?i)network is unreachable`),
}

var permanentHints = []*regexp.Regexp{
	regexp.MustCompile(`(?i)no such file or directory`),
	regexp.MustCompile(`(?i)permission denied`),
	regexp.MustCompile(`(?i)command not found`),
	regexp.MustCompile(`(?i)syntax error`),
	regexp.MustCompile(`(?i)invalid argument`),
	regexp.MustCompile(`(?i)not a directory`),
	regexp.MustCompile(`(?i)unknown flag`),
}

// Classify is the default heuristic classifier. Exit code 0 with an empty
// errText is unknown. Otherwise errText is matched against the clearly
// deterministic shell errors first (permanent), then the network/timeout
// patterns (transient); failing both, exit codes 124 and 137 count as
// transient and everything else is unknown.
//
// toolName is accepted for classifier implementations that special-case
// specific tools (e.g. network fetch tools always transient on timeout);
// the default heuristic does not use it beyond the text patterns above.
func Classify(exitCode int, errText string, toolName string) Category {
	if exitCode == 0 && errText == "" {
		return Unknown
	}
	for _, re := range permanentHints {
		if re.MatchString(errText) {
			return Permanent
		}
	}
	for _, re := range transientHints {
		if re.MatchString(errText) {
			return Transient
		}
	}
	if exitCode == 124 || exitCode == 137 {
		return Transient
	}
	return Unknown
}

// HeuristicClassifier adapts Classify to the run loop's RetryClassifier
// interface, which returns a plain string rather than the Category type.
type HeuristicClassifier struct{}

func (HeuristicClassifier) Classify(exitCode int, errText string, toolName string) string {
	return string(Classify(exitCode, errText, toolName))
}

// Analyzer is the executor-analysis LLM call from §4.9: given a failed
// command and its output, returns whether the loop should retry and, if so,
// how long to wait first.
type Analyzer interface {
	Analyze(ctx context.Context, command, output, errText string) (analysis string, shouldRetry bool, retryDelayMs int, err error)
}

// Decision is the bounded outcome of combining the classifier with an
// optional analyzer call.
type Decision struct {
	Category    Category
	ShouldRetry bool
	DelayMs     int
	Analysis    string
}

// Resolve applies the classifier first (only Transient is eligible at all),
// then consults the analyzer if present, then clamps the resulting delay to
// maxDelayMs. attemptsSoFar/maxAttempts bound the retry regardless of what
// the classifier or analyzer say, mirroring cost_guard's accumulate-and-cap
// discipline.
func Resolve(ctx context.Context, analyzer Analyzer, command, output, errText string, exitCode int, toolName string, attemptsSoFar, maxAttempts, maxDelayMs int) Decision {
	category := Classify(exitCode, errText, toolName)

	if attemptsSoFar >= maxAttempts {
		return Decision{Category: category, ShouldRetry: false}
	}
	if category != Transient {
		return Decision{Category: category, ShouldRetry: false}
	}

	decision := Decision{Category: category, ShouldRetry: true}
	if analyzer != nil {
		analysis, shouldRetry, delayMs, err := analyzer.Analyze(ctx, command, output, errText)
		if err == nil {
			decision.Analysis = strings.TrimSpace(analysis)
			decision.ShouldRetry = shouldRetry
			decision.DelayMs = delayMs
		}
	}
	if decision.DelayMs < 0 {
		decision.DelayMs = 0
	}
	if decision.DelayMs > maxDelayMs {
		decision.DelayMs = maxDelayMs
	}
	return decision
}
