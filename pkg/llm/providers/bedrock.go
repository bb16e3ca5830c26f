package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/opsagent/signalops/pkg/llm"
)

// BedrockProvider invokes Anthropic models hosted on AWS Bedrock, giving
// the Gateway a second, independently-rate-limited path to the same model
// family.
type BedrockProvider struct {
	client *bedrockruntime.Client
	name   string
}

// NewBedrockProvider wraps an AWS config's bedrock-runtime client.
func NewBedrockProvider(cfg aws.Config) *BedrockProvider {
	return &BedrockProvider{client: bedrockruntime.NewFromConfig(cfg), name: "bedrock"}
}

func (p *BedrockProvider) Name() string { return p.name }

type bedrockAnthropicRequest struct {
	AnthropicVersion string              `json:"anthropic_version"`
	MaxTokens        int                 `json:"max_tokens"`
	Temperature      float64             `json:"temperature,omitempty"`
	TopP             float64             `json:"top_p,omitempty"`
	StopSequences    []string            `json:"stop_sequences,omitempty"`
	Messages         []bedrockMessage    `json:"messages"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockAnthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *BedrockProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error) {
	model := opts.Model
	if model == "" {
		model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	body, err := json.Marshal(bedrockAnthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		StopSequences:    opts.StopSequences,
		Messages:         toBedrockMessages(messages),
	})
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("encode bedrock request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return llm.ChatResponse{}, classifyBedrockError(p.name, err)
	}

	var parsed bedrockAnthropicResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return llm.ChatResponse{}, fmt.Errorf("decode bedrock response: %w", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return llm.ChatResponse{
		Text: text.String(),
		Usage: llm.Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}

func (p *BedrockProvider) ChatStream(ctx context.Context, messages []llm.Message, opts llm.ChatOptions, handler llm.StreamHandler) error {
	resp, err := p.Chat(ctx, messages, opts)
	if err != nil {
		return err
	}
	if err := handler(llm.StreamChunk{Delta: resp.Text}); err != nil {
		return err
	}
	return handler(llm.StreamChunk{Done: true, Usage: &resp.Usage})
}

func toBedrockMessages(messages []llm.Message) []bedrockMessage {
	out := make([]bedrockMessage, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "assistant"
		}
		out = append(out, bedrockMessage{Role: role, Content: m.Content})
	}
	return out
}

func classifyBedrockError(name string, err error) error {
	var ve *types.ValidationException
	if errors.As(err, &ve) {
		return &llm.ProviderError{Provider: name, Tag: llm.TagInvalidRequest, Cause: err}
	}
	var ae *types.AccessDeniedException
	if errors.As(err, &ae) {
		return &llm.ProviderError{Provider: name, Tag: llm.TagAuthentication, Cause: err}
	}
	var rl *types.ThrottlingException
	if errors.As(err, &rl) {
		return &llm.ProviderError{Provider: name, Tag: llm.TagRateLimit, Cause: err}
	}
	var nf *types.ResourceNotFoundException
	if errors.As(err, &nf) {
		return &llm.ProviderError{Provider: name, Tag: llm.TagModelNotFound, Cause: err}
	}
	var oe *smithy.OperationError
	if errors.As(err, &oe) {
		return &llm.ProviderError{Provider: name, Tag: llm.TagNetwork, Cause: err}
	}
	return &llm.ProviderError{Provider: name, Tag: llm.TagProviderError, Cause: err}
}
