// Package plannerclient implements runloop.PlannerClient (spec.md §4.2 steps
// 1-2) against internal/llm.ChatClient: it owns the schema-transport attempt
// and the prompt-fallback transport mechanics, handing internal/planner a
// TransportReply to parse.
package plannerclient

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/zace-dev/zace/internal/llm"
	"github.com/zace-dev/zace/internal/memory"
	"github.com/zace-dev/zace/internal/planner"
	"github.com/zace-dev/zace/internal/runloop"
)

// Client adapts a ChatClient to runloop.PlannerClient.
type Client struct {
	chat llm.ChatClient
}

// New wraps a ChatClient for planner calls.
func New(chat llm.ChatClient) *Client {
	return &Client{chat: chat}
}

// Plan issues the planner call per opts.Mode, falling back from
// schema-transport to prompt-only when the transport rejects response_format
// outright (spec.md §4.2 step 2).
func (c *Client) Plan(ctx context.Context, messages []memory.Message, opts planner.Options, observer runloop.Observer) (planner.TransportReply, error) {
	llmMessages := make([]llm.Message, len(messages))
	for i, m := range messages {
		llmMessages[i] = llm.Message{Role: m.Role, Content: m.Content}
	}

	wantSchema := opts.Mode == planner.OutputAuto || opts.Mode == planner.OutputSchemaStrict

	request := llm.Request{Messages: llmMessages, CallKind: llm.CallKindPlanner}
	if wantSchema {
		request.ResponseFormat = &llm.ResponseFormat{
			Type:   "json_schema",
			Name:   planner.SchemaName,
			Schema: planner.Schema(),
			Strict: true,
		}
	}

	options := llm.Options{}
	if observer != nil {
		options.Stream = func(chunk string) { observer.OnToken(chunk) }
	}

	resp, err := c.chat.Chat(ctx, request, options)
	if err != nil {
		var te *llm.TransportError
		if wantSchema && errors.As(err, &te) && te.Class == llm.ErrorResponseFormatUnsupported {
			// Retry once, prompt-only: the planner schema prompt text carries
			// the JSON shape instructions for this fallback (spec.md §4.2).
			request.ResponseFormat = nil
			resp, err = c.chat.Chat(ctx, request, options)
			if err != nil {
				return planner.TransportReply{}, err
			}
			return planner.TransportReply{
				Content:                   resp.Content,
				ResponseFormatUnsupported: true,
				UnsupportedReason:         te.ProviderMessage,
				Usage:                     usageFrom(resp.Usage),
			}, nil
		}
		return planner.TransportReply{}, err
	}

	reply := planner.TransportReply{Content: resp.Content, Usage: usageFrom(resp.Usage)}
	if wantSchema {
		var structured map[string]any
		if jsonErr := json.Unmarshal([]byte(resp.Content), &structured); jsonErr == nil {
			reply.Structured = structured
		}
	}
	return reply, nil
}

func usageFrom(u *llm.Usage) *planner.Usage {
	if u == nil {
		return nil
	}
	return &planner.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
