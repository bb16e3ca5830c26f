package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/opsagent/signalops/pkg/llm"
)

// LangchainProvider adapts any langchaingo llms.Model (OpenAI-compatible,
// Ollama, Google AI, ...) into a Gateway Provider. It is the agent's third
// fallback rung, letting an operator point the chain at whatever backend
// langchaingo already supports without the Gateway knowing the
// difference.
type LangchainProvider struct {
	model llms.Model
	name  string
}

// NewLangchainProvider wraps a constructed langchaingo model.
func NewLangchainProvider(name string, model llms.Model) *LangchainProvider {
	return &LangchainProvider{model: model, name: name}
}

func (p *LangchainProvider) Name() string { return p.name }

func (p *LangchainProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error) {
	content := toLangchainContent(messages)

	callOpts := []llms.CallOption{
		llms.WithTemperature(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	if opts.TopP > 0 {
		callOpts = append(callOpts, llms.WithTopP(opts.TopP))
	}
	if len(opts.StopSequences) > 0 {
		callOpts = append(callOpts, llms.WithStopWords(opts.StopSequences))
	}
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}
	if opts.ResponseFormat == llm.FormatJSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	resp, err := p.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return llm.ChatResponse{}, classifyLangchainError(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, &llm.ProviderError{Provider: p.name, Tag: llm.TagProviderError, Cause: errors.New("no choices returned")}
	}

	choice := resp.Choices[0]
	usage := llm.Usage{}
	if gi := choice.GenerationInfo; gi != nil {
		if v, ok := gi["PromptTokens"].(int); ok {
			usage.PromptTokens = v
		}
		if v, ok := gi["CompletionTokens"].(int); ok {
			usage.CompletionTokens = v
		}
	}

	return llm.ChatResponse{Text: choice.Content, Usage: usage}, nil
}

func (p *LangchainProvider) ChatStream(ctx context.Context, messages []llm.Message, opts llm.ChatOptions, handler llm.StreamHandler) error {
	var full strings.Builder
	content := toLangchainContent(messages)

	_, err := p.model.GenerateContent(ctx, content,
		llms.WithTemperature(opts.Temperature),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			full.Write(chunk)
			return handler(llm.StreamChunk{Delta: string(chunk)})
		}),
	)
	if err != nil {
		return classifyLangchainError(p.name, err)
	}
	return handler(llm.StreamChunk{Done: true, Usage: &llm.Usage{CompletionTokens: len(full.String()) / 4}})
}

func toLangchainContent(messages []llm.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var t llms.ChatMessageType
		switch m.Role {
		case llm.RoleSystem:
			t = llms.ChatMessageTypeSystem
		case llm.RoleAssistant:
			t = llms.ChatMessageTypeAI
		default:
			t = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(t, m.Content))
	}
	return out
}

func classifyLangchainError(name string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401"):
		return &llm.ProviderError{Provider: name, Tag: llm.TagAuthentication, Cause: err}
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return &llm.ProviderError{Provider: name, Tag: llm.TagRateLimit, Cause: err}
	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return &llm.ProviderError{Provider: name, Tag: llm.TagModelNotFound, Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &llm.ProviderError{Provider: name, Tag: llm.TagTimeout, Cause: err}
	default:
		return &llm.ProviderError{Provider: name, Tag: llm.TagProviderError, Cause: err}
	}
}
