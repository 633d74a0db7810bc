package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"

	"tokenvelocity/internal/registry"
)

const systemPrompt = "You are a helpful assistant"

// Increment is the content carried by one decoded stream event. Empty content
// is valid and contributes nothing.
type Increment struct {
	Content string
}

// Strategy shapes a provider's request and interprets its stream events.
type Strategy interface {
	BuildRequest(ctx context.Context, cfg registry.ProviderConfig, prompt string) (*http.Request, error)
	DecodeEvent(data []byte) (Increment, error)
}

// ChatStrategy covers the OpenAI-compatible chat-completions variants.
type ChatStrategy struct {
	// WithSystem prepends a system turn to the message list.
	WithSystem bool
	// Defaults apply when the provider has no generation parameters of its own.
	Defaults *registry.GenerationParams
}

var tunedDefaults = &registry.GenerationParams{
	Temperature:      ptr[float32](0.2),
	TopP:             ptr[float32](0.7),
	PresencePenalty:  ptr[float32](0),
	FrequencyPenalty: ptr[float32](0),
	MaxTokens:        ptr(1024),
}

func ptr[T any](v T) *T { return &v }

// DefaultStrategies maps registry strategy names to implementations.
func DefaultStrategies() map[string]Strategy {
	return map[string]Strategy{
		registry.StrategyOpenAI:       &ChatStrategy{},
		registry.StrategyOpenAISystem: &ChatStrategy{WithSystem: true},
		registry.StrategyTuned:        &ChatStrategy{WithSystem: true, Defaults: tunedDefaults},
	}
}

// ChatRequest is the streaming chat-completion body. The generation
// parameters are pointers so an explicit zero is sent rather than omitted.
type ChatRequest struct {
	Model            string                         `json:"model"`
	Messages         []openai.ChatCompletionMessage `json:"messages"`
	Stream           bool                           `json:"stream"`
	Temperature      *float32                       `json:"temperature,omitempty"`
	TopP             *float32                       `json:"top_p,omitempty"`
	PresencePenalty  *float32                       `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float32                       `json:"frequency_penalty,omitempty"`
	MaxTokens        *int                           `json:"max_tokens,omitempty"`
}

// Payload builds the chat-completion request body for a prompt.
func (s *ChatStrategy) Payload(cfg registry.ProviderConfig, prompt string) ChatRequest {
	var messages []openai.ChatCompletionMessage
	if s.WithSystem {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := ChatRequest{
		Model:    cfg.Model,
		Messages: messages,
		Stream:   true,
	}

	params := cfg.Params
	if params == nil {
		params = s.Defaults
	}
	if params != nil {
		req.Temperature = params.Temperature
		req.TopP = params.TopP
		req.PresencePenalty = params.PresencePenalty
		req.FrequencyPenalty = params.FrequencyPenalty
		req.MaxTokens = params.MaxTokens
	}
	return req
}

// BuildRequest creates the streaming POST for the provider endpoint.
func (s *ChatStrategy) BuildRequest(ctx context.Context, cfg registry.ProviderConfig, prompt string) (*http.Request, error) {
	body, err := sonic.Marshal(s.Payload(cfg, prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Credential)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	return req, nil
}

// DecodeEvent extracts the first choice's delta content from one event payload.
func (s *ChatStrategy) DecodeEvent(data []byte) (Increment, error) {
	var resp openai.ChatCompletionStreamResponse
	if err := sonic.Unmarshal(data, &resp); err != nil {
		return Increment{}, err
	}
	if len(resp.Choices) == 0 {
		return Increment{}, nil
	}
	return Increment{Content: resp.Choices[0].Delta.Content}, nil
}
