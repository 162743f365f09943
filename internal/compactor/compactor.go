// Package compactor implements runloop.Compactor: a single LLM call that
// summarizes the current message history for memory.CompactWithSummary
// (spec.md §4.8).
package compactor

import (
	"context"
	"fmt"
	"strings"

	"github.com/zace-dev/zace/internal/llm"
	"github.com/zace-dev/zace/internal/memory"
)

const defaultSystemPrompt = "Summarize the conversation so far for an autonomous coding agent. " +
	"Preserve the task goal, decisions made, files touched, and any open problems. " +
	"Be concise; the summary replaces the messages it covers."

// Compactor calls an llm.ChatClient with CallKindCompaction.
type Compactor struct {
	Chat         llm.ChatClient
	SystemPrompt string
}

func New(chat llm.ChatClient) *Compactor {
	return &Compactor{Chat: chat, SystemPrompt: defaultSystemPrompt}
}

// Compact implements runloop.Compactor. Failures are returned to the caller,
// which per §4.8 records them without failing the step.
func (c *Compactor) Compact(ctx context.Context, messages []memory.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var transcript strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	llmMessages := []llm.Message{
		{Role: llm.RoleSystem, Content: c.SystemPrompt},
		{Role: llm.RoleUser, Content: transcript.String()},
	}
	resp, err := c.Chat.Chat(ctx, llm.Request{Messages: llmMessages, CallKind: llm.CallKindCompaction}, llm.Options{})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
