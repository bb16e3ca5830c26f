package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsagent/signalops/pkg/budget"
	"github.com/opsagent/signalops/pkg/cache"
	"github.com/opsagent/signalops/pkg/llm"
	"github.com/opsagent/signalops/pkg/signal"
)

const defaultTemperature = 0.3

// Classifier is the Classifier (M2): produces a validated Classification
// for a PreprocessedSignal, consulting the Response Cache and Token Budget
// and calling the LLM Gateway through L2 (the circuit-breaker wrapping the
// gateway is supplied by the caller as chatFn, per spec.md's M2→L7-via-L2
// data flow).
type Classifier struct {
	chatFn  func(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error)
	cache   *cache.Cache
	budget  *budget.Tracker
	pricing llm.PricingTable
	model   string
	// provider is the gateway's first-choice provider, used for the
	// pre-flight budget check (spec.md §4.9 step 3) before the actual
	// provider that serves the request is known; TrackUsage afterwards
	// uses the response's real resp.Provider instead.
	provider string
	log      *zap.Logger

	inflightMu sync.Mutex
	inflight   map[string]*inflightCall
}

type inflightCall struct {
	wg     sync.WaitGroup
	result Classification
	err    error
}

// ChatFunc matches the signature a circuit-breaker-wrapped gateway exposes.
type ChatFunc func(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error)

// New constructs a Classifier. chatFn is expected to already be wrapped by
// L2 (circuit breaker) when the caller wants that protection. provider
// names the gateway's first-choice provider, used only to estimate the
// pre-flight budget check before a request has actually been dispatched.
func New(chatFn ChatFunc, c *cache.Cache, b *budget.Tracker, pricing llm.PricingTable, model, provider string, log *zap.Logger) *Classifier {
	return &Classifier{
		chatFn:   chatFn,
		cache:    c,
		budget:   b,
		pricing:  pricing,
		model:    model,
		provider: provider,
		log:      log,
		inflight: make(map[string]*inflightCall),
	}
}

// Classify implements spec.md §4.9's protocol end to end.
func (c *Classifier) Classify(ctx context.Context, ps signal.PreprocessedSignal) (Classification, error) {
	prompt := buildPrompt(ps)
	fingerprint := cache.Fingerprint(cache.KeyComponents{PromptText: prompt, Model: c.model, Temperature: defaultTemperature})

	if c.cache != nil {
		if payload, hit, err := c.cache.Get(ctx, cache.KeyComponents{PromptText: prompt, Model: c.model, Temperature: defaultTemperature}); err == nil && hit {
			var cls Classification
			if jsonErr := json.Unmarshal([]byte(payload), &cls); jsonErr == nil {
				cls.Cached = true
				return cls, nil
			}
		}
	}

	// Per-fingerprint inflight coalescing: concurrent identical requests
	// wait on the first caller's result instead of all missing the cache
	// and racing the provider (spec.md §9 open-question resolution).
	call, leader := c.joinInflight(fingerprint)
	if !leader {
		call.wg.Wait()
		return call.result, call.err
	}
	defer c.resolveInflight(fingerprint, call)

	call.result, call.err = c.classifyUncached(ctx, ps, prompt)
	return call.result, call.err
}

func (c *Classifier) joinInflight(fingerprint string) (*inflightCall, bool) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if existing, ok := c.inflight[fingerprint]; ok {
		return existing, false
	}
	call := &inflightCall{}
	call.wg.Add(1)
	c.inflight[fingerprint] = call
	return call, true
}

func (c *Classifier) resolveInflight(fingerprint string, call *inflightCall) {
	c.inflightMu.Lock()
	delete(c.inflight, fingerprint)
	c.inflightMu.Unlock()
	call.wg.Done()
}

func (c *Classifier) classifyUncached(ctx context.Context, ps signal.PreprocessedSignal, prompt string) (Classification, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: classificationSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}

	if c.budget != nil {
		estimated := budget.EstimateTokens(messages)
		check := c.budget.CheckBudget(estimated, c.provider, c.model, c.pricing)
		if !check.Allowed {
			return Classification{}, fmt.Errorf("%w: %s", ErrBudgetExceeded, check.Reason)
		}
	}

	cls, resp, err := c.callAndValidate(ctx, messages)
	if err != nil {
		// one permitted retry with the same prompt on schema-validation failure.
		var schemaErr *SchemaError
		if !errors.As(err, &schemaErr) {
			return Classification{}, err
		}
		if c.log != nil {
			c.log.Warn("classification schema validation failed, retrying once", zap.Error(err))
		}
		cls, resp, err = c.callAndValidate(ctx, messages)
		if err != nil {
			return Classification{}, ErrClassificationFailed
		}
	}

	if c.budget != nil {
		totalTokens := resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		provider := resp.Provider
		if provider == "" {
			provider = c.provider
		}
		_ = c.budget.TrackUsage(totalTokens, provider)
	}
	if c.cache != nil {
		payload, _ := json.Marshal(cls)
		_ = c.cache.Put(ctx, cache.KeyComponents{PromptText: prompt, Model: c.model, Temperature: defaultTemperature},
			string(payload), cache.ResponseClassification, 0, string(ps.Signal.Source),
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	return cls, nil
}

func (c *Classifier) callAndValidate(ctx context.Context, messages []llm.Message) (Classification, llm.ChatResponse, error) {
	resp, err := c.chatFn(ctx, messages, llm.ChatOptions{
		Model:          c.model,
		Temperature:    defaultTemperature,
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		return Classification{}, resp, err
	}
	if resp.ParseError != nil {
		return Classification{}, resp, &SchemaError{Cause: resp.ParseError}
	}

	var cls Classification
	if err := json.Unmarshal(resp.JSON, &cls); err != nil {
		return Classification{}, resp, &SchemaError{Cause: err}
	}
	if err := cls.Validate(); err != nil {
		return Classification{}, resp, err
	}
	return cls, resp, nil
}

const classificationSystemPrompt = `You are a classification engine for incoming work signals. Respond only with JSON matching: {"urgency":"critical|high|medium|low","importance":"high|medium|low","category":"...","confidence":0.0-1.0,"reasoning":"10-500 chars","suggested_actions":["..."],"requires_immediate":true|false}.`

// buildPrompt builds the category-independent normalized prompt the
// fingerprint is computed over (spec.md §4.9 step 1).
func buildPrompt(ps signal.PreprocessedSignal) string {
	return fmt.Sprintf(
		"source=%s\nsubject=%s\nbody=%s\ntimestamp=%s",
		ps.Signal.Source, ps.CleanedSubject, ps.CleanedBody, ps.Signal.Timestamp.Format(time.RFC3339),
	)
}
