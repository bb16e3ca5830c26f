package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/opsagent/signalops/internal/telemetry"
)

// GatewayConfig tunes the fallback and retry behavior of spec.md §4.7.
type GatewayConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	ProviderTimeout time.Duration
	Pricing       PricingTable
}

// DefaultGatewayConfig matches the spec's documented defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		MaxAttempts:     3,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		Multiplier:      2.0,
		ProviderTimeout: 30 * time.Second,
		Pricing:         DefaultPricing(),
	}
}

// Gateway is the provider-agnostic chat surface of spec.md §4.7. Providers
// are tried in the order they were registered; ordering is driven by the
// caller (config.Config.LLMProviderOrder), not by the Gateway itself.
type Gateway struct {
	providers []Provider
	cfg       GatewayConfig
	log       *zap.Logger
}

// NewGateway builds a Gateway over an ordered provider list.
func NewGateway(providers []Provider, cfg GatewayConfig, log *zap.Logger) *Gateway {
	return &Gateway{providers: providers, cfg: cfg, log: telemetry.Named(log, "llm.gateway")}
}

// ErrAllProvidersFailed is returned, wrapping the last underlying error,
// when every provider in the fallback chain failed (spec.md §4.7 step 4).
var ErrAllProvidersFailed = errors.New("all providers failed")

// Chat tries each provider in order, retrying retriable errors within a
// provider with exponential backoff before falling through.
func (g *Gateway) Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatResponse, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "llm.Chat")
	defer span.End()

	var lastErr error
	for _, p := range g.providers {
		resp, err := g.callWithRetry(ctx, p, messages, opts)
		if err == nil {
			resp.Provider = p.Name()
			resp.Usage.EstimatedCostUSD = g.cfg.Pricing.estimate(p.Name(), opts.Model, resp.Usage)
			if opts.ResponseFormat == FormatJSON {
				var raw json.RawMessage
				if jerr := json.Unmarshal([]byte(resp.Text), &raw); jerr != nil {
					resp.ParseError = jerr
				} else {
					resp.JSON = raw
				}
			}
			return resp, nil
		}
		g.log.Warn("provider failed, falling through", zap.String("provider", p.Name()), zap.Error(err))
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return ChatResponse{}, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

// callWithRetry runs provider.Chat up to cfg.MaxAttempts times with
// exponential backoff, short-circuiting on a non-retriable ProviderError.
func (g *Gateway) callWithRetry(ctx context.Context, p Provider, messages []Message, opts ChatOptions) (ChatResponse, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialDelay
	b.MaxInterval = g.cfg.MaxDelay
	b.Multiplier = g.cfg.Multiplier

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	resp, err := backoff.Retry(callCtx, func() (ChatResponse, error) {
		r, err := p.Chat(callCtx, messages, opts)
		if err != nil {
			var pe *ProviderError
			if errors.As(err, &pe) && !pe.Retriable() {
				return ChatResponse{}, backoff.Permanent(err)
			}
			return ChatResponse{}, err
		}
		return r, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(g.cfg.MaxAttempts)))
	resp.Latency = time.Since(start)
	return resp, err
}

// ChatStream forwards provider chunks to handler in order, terminating
// with a single Done chunk. It tries the providers in order and returns on
// the first one that completes without error; when a provider fails, even
// after emitting chunks, the next provider streams to the same handler.
func (g *Gateway) ChatStream(ctx context.Context, messages []Message, opts ChatOptions, handler StreamHandler) error {
	if len(g.providers) == 0 {
		return errors.New("no providers configured")
	}
	var lastErr error
	for _, p := range g.providers {
		err := p.ChatStream(ctx, messages, opts, handler)
		if err == nil {
			return nil
		}
		var pe *ProviderError
		if errors.As(err, &pe) && !pe.Retriable() {
			lastErr = err
			continue
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}
