package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/zace-dev/zace/internal/llm"
	openailib "github.com/sashabaranov/go-openai"
)

// Client implements llm.ChatClient using the OpenAI-compatible protocol.
// Works with any endpoint that supports the OpenAI chat completions API.
type Client struct {
	client *openailib.Client
	config *Config
}

// GetConfig returns the client's configuration.
func (c *Client) GetConfig() *Config {
	return c.config
}

// NewClient creates a new OpenAI-compatible client.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clientConfig := openailib.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	// Prevent indefinite hangs when the API is unresponsive.
	// Timeout is configurable via LLM_HTTP_TIMEOUT (seconds); default 300s to
	// accommodate slow reasoning models (e.g. Kimi-K2.5, DeepSeek-R1).
	httpTimeout := time.Duration(config.HTTPTimeout) * time.Second
	clientConfig.HTTPClient = &http.Client{Timeout: httpTimeout}

	return &Client{
		client: openailib.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// NewClientFromEnv creates a client using environment variables.
func NewClientFromEnv() (*Client, error) {
	config, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	return NewClient(config)
}

// GetModelContextWindowTokens implements llm.ChatClient.
func (c *Client) GetModelContextWindowTokens() int {
	return c.config.ResolveContextWindow()
}

// Chat implements llm.ChatClient. callKind is accepted for transport
// normalization hooks (none are needed today beyond response_format
// passthrough) and for future telemetry.
func (c *Client) Chat(ctx context.Context, request llm.Request, options llm.Options) (llm.Response, error) {
	if len(request.Messages) == 0 {
		return llm.Response{}, &llm.TransportError{Class: llm.ErrorInvalidMessageShape, ProviderMessage: "no messages to send"}
	}

	req, err := c.buildRequest(request, options)
	if err != nil {
		return llm.Response{}, err
	}

	if options.Stream != nil {
		return c.chatStream(ctx, req, options.Stream)
	}
	return c.chatOnce(ctx, req)
}

func (c *Client) buildRequest(request llm.Request, options llm.Options) (openailib.ChatCompletionRequest, error) {
	openaiMsgs := make([]openailib.ChatCompletionMessage, len(request.Messages))
	for i, msg := range request.Messages {
		openaiMsgs[i] = openailib.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := openailib.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: openaiMsgs,
	}

	temperature := c.config.Temperature
	if options.Temperature != nil {
		temperature = options.Temperature
	}
	if temperature != nil {
		req.Temperature = *temperature
	}

	maxTokens := c.config.MaxTokens
	if options.MaxTokens > 0 {
		maxTokens = options.MaxTokens
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}

	if c.config.ResolveThinkingMode() == "native" {
		req.ReasoningEffort = c.config.ReasoningEffort
	}

	if request.ResponseFormat != nil {
		if request.ResponseFormat.Type != "json_schema" {
			return openailib.ChatCompletionRequest{}, &llm.TransportError{
				Class:                     llm.ErrorResponseFormatUnsupported,
				ResponseFormatUnsupported: true,
				ProviderMessage:           fmt.Sprintf("unsupported response format type %q", request.ResponseFormat.Type),
			}
		}
		req.ResponseFormat = &openailib.ChatCompletionResponseFormat{
			Type: openailib.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openailib.ChatCompletionResponseFormatJSONSchema{
				Name:   request.ResponseFormat.Name,
				Schema: request.ResponseFormat.Schema, // json.RawMessage implements json.Marshaler
				Strict: request.ResponseFormat.Strict,
			},
		}
	}

	return req, nil
}

func (c *Client) chatOnce(ctx context.Context, req openailib.ChatCompletionRequest) (llm.Response, error) {
	var resp openailib.ChatCompletionResponse
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		resp, lastErr = c.client.CreateChatCompletion(ctx, req)
		if lastErr == nil {
			break
		}
		if !isRetryableTransportError(lastErr) || attempt >= c.config.MaxRetries {
			break
		}
		wait := time.Duration(attempt+1) * time.Second
		log.Printf("[LLM] Retry %d/%d after %v, error: %v", attempt+1, c.config.MaxRetries, wait, lastErr)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}

	if lastErr != nil {
		return llm.Response{}, classifyTransportError(lastErr)
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, &llm.TransportError{Class: llm.ErrorOther, ProviderMessage: "no choices returned from LLM"}
	}

	return llm.Response{
		Content:          resp.Choices[0].Message.Content,
		ReasoningContent: resp.Choices[0].Message.ReasoningContent,
		Usage: &llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) chatStream(ctx context.Context, req openailib.ChatCompletionRequest, onChunk llm.StreamCallback) (llm.Response, error) {
	req.Stream = true

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		// Fallback to synchronous call on stream creation failure.
		log.Printf("[LLM] Stream creation failed, falling back to sync: %v", err)
		req.Stream = false
		return c.chatOnce(ctx, req)
	}
	defer stream.Close()

	var sb strings.Builder
	var reasoningSB strings.Builder
	for {
		chunkResp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if sb.Len() > 0 {
				log.Printf("[LLM] Stream interrupted after %d chars: %v", sb.Len(), err)
				break
			}
			return llm.Response{}, classifyTransportError(err)
		}

		if len(chunkResp.Choices) > 0 {
			if rc := chunkResp.Choices[0].Delta.ReasoningContent; rc != "" {
				reasoningSB.WriteString(rc)
			}
			if delta := chunkResp.Choices[0].Delta.Content; delta != "" {
				sb.WriteString(delta)
				onChunk(delta)
			}
		}
	}

	return llm.Response{
		Content:          sb.String(),
		ReasoningContent: reasoningSB.String(),
	}, nil
}

// isRetryableTransportError reports whether a failed attempt should be
// retried at the HTTP-retry-loop level. Only rate-limit and 5xx errors are
// worth a blind retry; 4xx shape/format errors will fail identically again.
func isRetryableTransportError(err error) bool {
	var apiErr *openailib.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return true // network-level errors (timeouts, resets): worth a retry
}

// classifyTransportError maps a go-openai error into the spec's typed
// TransportError classes.
func classifyTransportError(err error) *llm.TransportError {
	var apiErr *openailib.APIError
	if errors.As(err, &apiErr) {
		te := &llm.TransportError{
			ProviderMessage: apiErr.Message,
			StatusCode:      apiErr.HTTPStatusCode,
		}
		if apiErr.Code != nil {
			te.ProviderCode = fmt.Sprintf("%v", apiErr.Code)
		}
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			te.Class = llm.ErrorRateLimit
		case apiErr.HTTPStatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "response_format"):
			te.Class = llm.ErrorResponseFormatUnsupported
			te.ResponseFormatUnsupported = true
		case apiErr.HTTPStatusCode == http.StatusBadRequest:
			te.Class = llm.ErrorInvalidMessageShape
		default:
			te.Class = llm.ErrorOther
		}
		return te
	}
	return &llm.TransportError{Class: llm.ErrorOther, ProviderMessage: err.Error()}
}

// GetName returns the provider name.
func (c *Client) GetName() string {
	return fmt.Sprintf("openai-compatible (%s)", c.config.Model)
}
