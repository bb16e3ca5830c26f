// Package breaker implements the Circuit Breaker (spec.md §4.2): a named,
// three-state guard around a potentially failing call, with a
// fallback-or-cache path while open and an event emitted on every
// transition.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/opsagent/signalops/pkg/eventbus"
)

// State mirrors spec.md §3's CircuitBreakerState.state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config holds the four tunables spec.md §4.2 names.
type Config struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	Timeout          time.Duration
	CacheTTL         time.Duration
}

// DefaultConfig returns spec.md §6's documented breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		CacheTTL:         30 * time.Second,
	}
}

// ErrOpen is returned when the circuit is open and no fallback or fresh
// cache is available.
var ErrOpen = errors.New("breaker: circuit open")

// Breaker[T] wraps sony/gobreaker with the cached-fallback and
// event-emission behavior spec.md §4.2 describes.
type Breaker[T any] struct {
	name string
	cb   *gobreaker.CircuitBreaker[T]
	cfg  Config
	hub  *eventbus.Hub
	log  *zap.Logger

	mu        sync.Mutex
	cached    T
	cachedAt  time.Time
	hasCached bool
}

// New constructs a named breaker. hub and log may be nil.
func New[T any](name string, cfg Config, hub *eventbus.Hub, log *zap.Logger) *Breaker[T] {
	b := &Breaker[T]{name: name, cfg: cfg, hub: hub, log: log}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.onStateChange(mapState(from), mapState(to))
		},
	}
	b.cb = gobreaker.NewCircuitBreaker[T](settings)
	return b
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func (b *Breaker[T]) onStateChange(from, to State) {
	if b.log != nil {
		b.log.Info("circuit breaker state change",
			zap.String("breaker", b.name), zap.String("from", string(from)), zap.String("to", string(to)))
	}
	if b.hub != nil {
		b.hub.EmitEvent(eventbus.Event{
			Source:   "breaker:" + b.name,
			Type:     "breaker:state_change",
			Data:     map[string]string{"from": string(from), "to": string(to)},
			Priority: eventbus.PriorityNormal,
		})
	}
}

// GetState returns the breaker's current state.
func (b *Breaker[T]) GetState() State {
	return mapState(b.cb.State())
}

// Call runs fn through the breaker. When the circuit is open, a fresh
// cached value is served if one exists; otherwise fallback (if non-nil) is
// invoked. When fn itself fails (closed or half-open), fallback is invoked
// and its result is cached for CacheTTL (spec.md §4.2: "HALF_OPEN: any
// failure returns to OPEN and caches the fallback ... for cacheTtlMs").
func (b *Breaker[T]) Call(ctx context.Context, fn func(context.Context) (T, error), fallback func(context.Context) (T, error)) (T, error) {
	result, err := b.cb.Execute(func() (T, error) { return fn(ctx) })
	if err == nil {
		b.remember(result)
		return result, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) {
		if v, ok := b.freshCached(); ok {
			return v, nil
		}
		return b.runFallback(ctx, fallback, err)
	}

	return b.runFallback(ctx, fallback, err)
}

func (b *Breaker[T]) runFallback(ctx context.Context, fallback func(context.Context) (T, error), cause error) (T, error) {
	if fallback == nil {
		var zero T
		if errors.Is(cause, gobreaker.ErrOpenState) {
			return zero, ErrOpen
		}
		return zero, cause
	}
	v, err := fallback(ctx)
	if err != nil {
		return v, err
	}
	b.remember(v)
	return v, nil
}

func (b *Breaker[T]) remember(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cached = v
	b.cachedAt = time.Now()
	b.hasCached = true
}

func (b *Breaker[T]) freshCached() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasCached || time.Since(b.cachedAt) >= b.cfg.CacheTTL {
		var zero T
		return zero, false
	}
	return b.cached, true
}
