// Package providers implements the concrete Provider backends the Gateway
// falls back across: Anthropic's own API, AWS Bedrock, and langchaingo as a
// third, swappable backend.
package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/opsagent/signalops/pkg/llm"
)

// AnthropicProvider talks to the Anthropic Messages API directly.
type AnthropicProvider struct {
	client anthropic.Client
	name   string
}

// NewAnthropicProvider builds a provider bound to an API key; pass
// option.WithAPIKey or rely on ANTHROPIC_API_KEY in the environment, the
// SDK's own default, which is outside this agent's config-loading
// Non-goal.
func NewAnthropicProvider(opts ...option.RequestOption) *AnthropicProvider {
	return &AnthropicProvider{client: anthropic.NewClient(opts...), name: "anthropic"}
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error) {
	msgs := toAnthropicMessages(messages)
	model := opts.Model
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   maxTokens,
		Messages:    msgs,
		Temperature: anthropic.Float(opts.Temperature),
		TopP:        anthropic.Float(opts.TopP),
		StopSequences: opts.StopSequences,
	})
	if err != nil {
		return llm.ChatResponse{}, classifyAnthropicError(p.name, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return llm.ChatResponse{
		Text: text.String(),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, messages []llm.Message, opts llm.ChatOptions, handler llm.StreamHandler) error {
	resp, err := p.Chat(ctx, messages, opts)
	if err != nil {
		return err
	}
	if err := handler(llm.StreamChunk{Delta: resp.Text}); err != nil {
		return err
	}
	return handler(llm.StreamChunk{Done: true, Usage: &resp.Usage})
}

func toAnthropicMessages(messages []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleUser, llm.RoleSystem:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case llm.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

// classifyAnthropicError tags an SDK error per spec.md §4.7 step 2. The SDK
// surfaces HTTP status via anthropic.Error; status-code buckets map onto
// the closed ErrorTag set.
func classifyAnthropicError(name string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return &llm.ProviderError{Provider: name, Tag: llm.TagAuthentication, Cause: err}
		case 404:
			return &llm.ProviderError{Provider: name, Tag: llm.TagModelNotFound, Cause: err}
		case 400:
			return &llm.ProviderError{Provider: name, Tag: llm.TagInvalidRequest, Cause: err}
		case 429:
			return &llm.ProviderError{Provider: name, Tag: llm.TagRateLimit, Cause: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.ProviderError{Provider: name, Tag: llm.TagTimeout, Cause: err}
	}
	return &llm.ProviderError{Provider: name, Tag: llm.TagProviderError, Cause: err}
}
