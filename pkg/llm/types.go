// Package llm implements the LLM Gateway (spec.md §4.7): a single chat
// surface over several remote providers with ordered fallback, per-provider
// retry with exponential backoff, and token/cost accounting.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a chat request.
type Message struct {
	Role    Role
	Content string
}

// ResponseFormat selects plain text or structured JSON output.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// ChatOptions configures a single Chat/ChatStream call (spec.md §4.7).
type ChatOptions struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	TopP           float64
	StopSequences  []string
	ResponseFormat ResponseFormat
}

// Usage is token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	EstimatedCostUSD float64
}

// ChatResponse is the Gateway's return value. When ResponseFormat is json,
// JSON holds the provider's text if it parses as JSON; otherwise JSON stays
// empty and ParseError is set instead of failing the call, with Text still
// carrying the raw text (spec.md §4.7: "falls back to raw text on parse
// failure").
type ChatResponse struct {
	Text       string
	JSON       json.RawMessage
	ParseError error
	Provider   string
	Usage      Usage
	Latency    time.Duration
}

// StreamChunk is one increment of a streaming response; the final chunk
// has Done=true and, when the provider did not report usage inline, Usage
// estimated from bytes seen.
type StreamChunk struct {
	Delta string
	Done  bool
	Usage *Usage
}

// StreamHandler consumes ordered stream chunks.
type StreamHandler func(StreamChunk) error

// ErrorTag classifies a provider failure per spec.md §4.7 step 2.
type ErrorTag string

const (
	TagAuthentication ErrorTag = "authentication"
	TagRateLimit      ErrorTag = "rate_limit"
	TagInvalidRequest ErrorTag = "invalid_request"
	TagModelNotFound  ErrorTag = "model_not_found"
	TagTimeout        ErrorTag = "timeout"
	TagNetwork        ErrorTag = "network"
	TagContentFilter  ErrorTag = "content_filter"
	TagProviderError  ErrorTag = "provider_error"
)

// nonRetriable is the closed set of tags that cause immediate fallthrough
// to the next provider rather than a retry against the same one.
var nonRetriable = map[ErrorTag]bool{
	TagAuthentication: true,
	TagInvalidRequest: true,
	TagModelNotFound:  true,
}

// ProviderError is a tagged failure from a single Provider call.
type ProviderError struct {
	Provider string
	Tag      ErrorTag
	Cause    error
}

func (e *ProviderError) Error() string {
	return "provider " + e.Provider + " (" + string(e.Tag) + "): " + e.Cause.Error()
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Retriable reports whether the same provider should be retried with
// backoff, per spec.md §4.7 step 2.
func (e *ProviderError) Retriable() bool { return !nonRetriable[e.Tag] }

// Provider is one backend the Gateway can fall back across.
type Provider interface {
	Name() string
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatResponse, error)
	ChatStream(ctx context.Context, messages []Message, opts ChatOptions, handler StreamHandler) error
}
