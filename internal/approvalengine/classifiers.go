package approvalengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zace-dev/zace/internal/approval"
	"github.com/zace-dev/zace/internal/llm"
)

// LLMSafetyClassifier implements approval.SafetyClassifier against an
// llm.ChatClient, using CallKindSafety so the transport can apply any
// call-specific normalization (spec.md §6).
type LLMSafetyClassifier struct {
	Chat         llm.ChatClient
	SystemPrompt string
}

func (c *LLMSafetyClassifier) ClassifyRaw(ctx context.Context, command string, safety approval.SafetyContext) (string, error) {
	ctxJSON, err := json.Marshal(safety)
	if err != nil {
		return "", fmt.Errorf("approvalengine: marshal safety context: %w", err)
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: c.SystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("command: %s\ncontext: %s", command, ctxJSON)},
	}
	resp, err := c.Chat.Chat(ctx, llm.Request{Messages: messages, CallKind: llm.CallKindSafety}, llm.Options{})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// LLMIntentClassifier implements approval.IntentClassifier against an
// llm.ChatClient, using CallKindApproval.
type LLMIntentClassifier struct {
	Chat         llm.ChatClient
	SystemPrompt string
}

func (c *LLMIntentClassifier) ClassifyReplyRaw(ctx context.Context, pendingPrompt, reply string) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: c.SystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("prompt: %s\nreply: %s", pendingPrompt, reply)},
	}
	resp, err := c.Chat.Chat(ctx, llm.Request{Messages: messages, CallKind: llm.CallKindApproval}, llm.Options{})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
