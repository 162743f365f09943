// Package retryanalyzer implements retry.Analyzer (and so runloop's
// executor-analysis call from spec.md §4.9): an LLM call that looks at a
// failed command's output and decides whether the loop should retry and
// after how long.
package retryanalyzer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zace-dev/zace/internal/llm"
)

const systemPrompt = "A shell command run by an autonomous coding agent failed. " +
	"Decide whether the failure is worth retrying (e.g. a flaky network call or " +
	"a race with another process) and, if so, how long to wait before retrying. " +
	"Reply with a single JSON object: " +
	`{"analysis": string, "shouldRetry": boolean, "retryDelayMs": integer}.`

// Analyzer calls an llm.ChatClient with CallKindExecutor, requesting a small
// structured JSON reply rather than the planner's full schema transport —
// there is no tool-call shape to parse here, just three scalar fields.
type Analyzer struct {
	Chat llm.ChatClient
}

func New(chat llm.ChatClient) *Analyzer {
	return &Analyzer{Chat: chat}
}

type analysisReply struct {
	Analysis     string `json:"analysis"`
	ShouldRetry  bool   `json:"shouldRetry"`
	RetryDelayMs int    `json:"retryDelayMs"`
}

// Analyze implements retry.Analyzer / runloop.RetryAnalyzer.
func (a *Analyzer) Analyze(ctx context.Context, command, output, errText string) (string, bool, int, error) {
	userContent := fmt.Sprintf("command: %s\noutput:\n%s\nerror:\n%s", command, output, errText)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: userContent},
	}
	resp, err := a.Chat.Chat(ctx, llm.Request{Messages: messages, CallKind: llm.CallKindExecutor}, llm.Options{})
	if err != nil {
		return "", false, 0, err
	}

	var reply analysisReply
	if jsonErr := json.Unmarshal([]byte(resp.Content), &reply); jsonErr != nil {
		return "", false, 0, fmt.Errorf("retryanalyzer: parse reply: %w", jsonErr)
	}
	return reply.Analysis, reply.ShouldRetry, reply.RetryDelayMs, nil
}
