package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsagent/signalops/pkg/breaker"
	"github.com/opsagent/signalops/pkg/decision"
	"github.com/opsagent/signalops/pkg/eventbus"
)

// registration pairs an adapter with its dedicated breaker instance, one
// per action@platform combination (spec.md §4.14: "each call is wrapped
// in the per-integration breaker").
type registration struct {
	adapter AdapterFunc
	cb      *breaker.Breaker[Result]
}

// Router is the Action Router (H1).
type Router struct {
	mu    sync.RWMutex
	regs  map[string]*registration
	hub   *eventbus.Hub
	log   *zap.Logger
}

// New constructs a Router.
func New(hub *eventbus.Hub, log *zap.Logger) *Router {
	return &Router{regs: make(map[string]*registration), hub: hub, log: log}
}

// RegisterAdapter binds fn to the action@platform combination, wrapped in
// a breaker configured per cfg (zero value uses breaker.DefaultConfig()).
func (r *Router) RegisterAdapter(action decision.Action, platform string, fn AdapterFunc, cfg breaker.Config) {
	if cfg == (breaker.Config{}) {
		cfg = breaker.DefaultConfig()
	}
	key := adapterKey(action, platform)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[key] = &registration{
		adapter: fn,
		cb:      breaker.New[Result](key, cfg, r.hub, r.log),
	}
}

// RouteAction implements spec.md §4.14's routeAction contract. An
// unregistered action@platform combination returns invalid_request with
// no fallback.
func (r *Router) RouteAction(ctx context.Context, d decision.Decision) Result {
	platform := platformOf(d)
	key := adapterKey(d.Action, platform)

	r.mu.RLock()
	reg, ok := r.regs[key]
	r.mu.RUnlock()
	if !ok {
		return Result{Success: false, Error: "invalid_request"}
	}

	started := time.Now()
	result, err := reg.cb.Call(ctx, func(ctx context.Context) (Result, error) {
		return reg.adapter(ctx, d)
	}, nil)
	if err != nil {
		if result.Error == "" {
			result.Error = err.Error()
		}
		result.Success = false
	}
	result.ExecutionTime = time.Since(started)
	return result
}
