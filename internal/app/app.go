// Package app is the composition root: it wires the reliability fabric
// (L1-L7), the reasoning pipeline (M1-M6), and the execution path (H1-H2)
// into one running agent.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	appconfig "github.com/opsagent/signalops/internal/config"
	"github.com/opsagent/signalops/internal/telemetry"
	"github.com/opsagent/signalops/pkg/breaker"
	"github.com/opsagent/signalops/pkg/budget"
	"github.com/opsagent/signalops/pkg/cache"
	"github.com/opsagent/signalops/pkg/classifier"
	"github.com/opsagent/signalops/pkg/decision"
	"github.com/opsagent/signalops/pkg/eventbus"
	"github.com/opsagent/signalops/pkg/integration"
	"github.com/opsagent/signalops/pkg/llm"
	"github.com/opsagent/signalops/pkg/llm/providers"
	"github.com/opsagent/signalops/pkg/preprocessor"
	"github.com/opsagent/signalops/pkg/publisher"
	"github.com/opsagent/signalops/pkg/queuemgr"
	"github.com/opsagent/signalops/pkg/reasoning"
	"github.com/opsagent/signalops/pkg/retryqueue"
	"github.com/opsagent/signalops/pkg/review"
	"github.com/opsagent/signalops/pkg/router"
	"github.com/opsagent/signalops/pkg/signal"
	"github.com/opsagent/signalops/pkg/store"
)

// Options gathers the knobs that vary by environment; everything else
// comes from config.Default().
type Options struct {
	DataDir      string
	RedisAddr    string
	PostgresDSN  string // empty disables Postgres-backed audit/stats persistence
	Development  bool
}

// App holds every wired component and the two background loops
// (review sweeper, queue scheduler) that keep the agent running.
type App struct {
	log *zap.Logger
	cfg appconfig.Config

	hub       *eventbus.Hub
	gateway   *llm.Gateway
	cacheMgr  *cache.Cache
	budgetMgr *budget.Tracker
	retryQ    *retryqueue.Queue
	integr    *integration.Manager

	pipeline  *reasoning.Pipeline
	reviewMgr *review.Manager
	pub       *publisher.Publisher
	routerH   *router.Router
	queueMgr  *queuemgr.Manager

	db *sqlx.DB
}

// New wires every component. ctx is used only during construction (the
// initial Postgres connection, the AWS config load and the decision policy
// preparation); it is not retained.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := appconfig.Default()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}

	log, err := telemetry.NewLogger(opts.Development)
	if err != nil {
		return nil, fmt.Errorf("app: build logger: %w", err)
	}

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("app: create data dir: %w", err)
	}
	path := func(name string) string { return filepath.Join(opts.DataDir, name) }

	var db *sqlx.DB
	if opts.PostgresDSN != "" {
		db, err = store.OpenPostgres(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: connect postgres: %w", err)
		}
	}

	hub := eventbus.NewHub(path("events.jsonl"), telemetry.Named(log, "eventbus"))

	gw, err := buildGateway(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	gwBreaker := breaker.New[llm.ChatResponse]("llm-gateway", breaker.Config{
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		SuccessThreshold: uint32(cfg.BreakerSuccessThreshold),
		Timeout:          cfg.BreakerTimeout,
		CacheTTL:         cfg.BreakerCacheTTL,
	}, hub, telemetry.Named(log, "breaker.llm"))
	chatFn := func(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error) {
		return gwBreaker.Call(ctx, func(ctx context.Context) (llm.ChatResponse, error) {
			return gw.Chat(ctx, messages, opts)
		}, nil)
	}

	rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
	cacheMgr := cache.NewCache(rdb, cache.TTLConfig{
		Classification: cfg.CacheTTLClassification,
		Decision:       cfg.CacheTTLDecision,
		Other:          cfg.CacheTTLOther,
	}, telemetry.Named(log, "cache"))

	budgetMgr, err := budget.NewTracker(cfg.MaxDailyTokens, path("budget.json"), telemetry.Named(log, "budget"))
	if err != nil {
		return nil, fmt.Errorf("app: build budget tracker: %w", err)
	}

	retryQ, err := retryqueue.NewQueue(path("retryqueue.json"), path("retryqueue_failed.jsonl"), telemetry.Named(log, "retryqueue"))
	if err != nil {
		return nil, fmt.Errorf("app: build retry queue: %w", err)
	}

	integr := integration.NewManager(hub, telemetry.Named(log, "integration"))

	pre := preprocessor.New(telemetry.Named(log, "preprocessor"))
	cl := classifier.New(chatFn, cacheMgr, budgetMgr, llm.DefaultPricing(), modelFor(cfg), primaryProvider(cfg), telemetry.Named(log, "classifier"))
	dm, err := decision.New(ctx, chatFn, decision.Config{ForbiddenTargets: cfg.ForbiddenTargets}, modelFor(cfg), telemetry.Named(log, "decision"))
	if err != nil {
		return nil, fmt.Errorf("app: build decision maker: %w", err)
	}
	pipeline := reasoning.New(pre, cl, dm, nil, telemetry.Named(log, "reasoning"))

	reviewMgr, err := review.New(path("review_queue.json"), db, hub, telemetry.Named(log, "review"))
	if err != nil {
		return nil, fmt.Errorf("app: build review manager: %w", err)
	}

	pub := publisher.New(hub, reviewMgr, db, publisher.Config{
		ConfidenceAutoExecute:     cfg.ConfidenceAutoExecute,
		ConfidenceRequireApproval: cfg.ConfidenceRequireApproval,
		ConfidenceReject:          cfg.ConfidenceReject,
	}, telemetry.Named(log, "publisher"))

	routerH := router.New(hub, telemetry.Named(log, "router"))
	registerPlatformAdapters(routerH, cfg)

	queueCfg := queuemgr.Config{
		MaxConcurrent:      cfg.MaxConcurrentActions,
		MaxAttempts:        cfg.MaxAttempts,
		BackoffBase:        cfg.BackoffBase,
		ProcessingInterval: cfg.ProcessingInterval,
		MinInterval:        cfg.PlatformMinInterval,
	}
	queueMgr, err := queuemgr.New(path("action_queue.json"), routerH, queueCfg, telemetry.Named(log, "queuemgr"))
	if err != nil {
		return nil, fmt.Errorf("app: build queue manager: %w", err)
	}

	return &App{
		log: log, cfg: cfg,
		hub: hub, gateway: gw, cacheMgr: cacheMgr, budgetMgr: budgetMgr, retryQ: retryQ, integr: integr,
		pipeline: pipeline, reviewMgr: reviewMgr, pub: pub, routerH: routerH, queueMgr: queueMgr,
		db: db,
	}, nil
}

// Start launches every background loop: the retry queue ticker, the
// review auto-expiration sweeper, and the queue manager's scheduling tick.
func (a *App) Start(ctx context.Context) error {
	a.retryQ.Start()
	a.reviewMgr.Start()
	a.queueMgr.Start(ctx)
	a.integr.StartAll(ctx)
	a.log.Info("agent started")
	return nil
}

// Shutdown drains and persists every component, cooperative per spec.md
// §5's shutdown model.
func (a *App) Shutdown(ctx context.Context, grace time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	a.queueMgr.Shutdown()
	a.reviewMgr.Stop()
	a.retryQ.Stop()
	a.integr.StopAll(shutdownCtx)
	a.hub.Close()
	if a.db != nil {
		_ = a.db.Close()
	}
	a.log.Info("agent stopped")
	return nil
}

// HandleSignal runs a raw Signal through the full pipeline: reasoning,
// then publication (which routes to review, the action queue, or rejects
// it outright).
func (a *App) HandleSignal(ctx context.Context, s signal.Signal) (publisher.Outcome, error) {
	result := a.pipeline.Process(ctx, s)
	outcome, err := a.pub.Publish(ctx, result)
	if err != nil {
		return outcome, err
	}
	if outcome == publisher.OutcomeReady && result.DecisionStage != nil {
		if _, qerr := a.queueMgr.Enqueue(result, 0); qerr != nil {
			return outcome, fmt.Errorf("app: enqueue action: %w", qerr)
		}
	}
	return outcome, nil
}

func modelFor(cfg appconfig.Config) string {
	if len(cfg.LLMProviderOrder) == 0 {
		return "claude-3-5-sonnet-20241022"
	}
	return "claude-3-5-sonnet-20241022"
}

// primaryProvider names the first entry in the configured fallback order,
// used only as the pre-flight budget-check provider before a request has
// actually been dispatched to whichever provider ends up serving it.
func primaryProvider(cfg appconfig.Config) string {
	if len(cfg.LLMProviderOrder) == 0 {
		return "anthropic"
	}
	return cfg.LLMProviderOrder[0]
}

// buildGateway constructs one Provider per entry in cfg.LLMProviderOrder
// that has the credentials it needs available in the environment; a
// provider missing its credentials is skipped rather than failing
// startup, since spec.md §4.7 only requires "ordered fallback" across
// however many providers are actually configured.
func buildGateway(ctx context.Context, cfg appconfig.Config, log *zap.Logger) (*llm.Gateway, error) {
	var provs []llm.Provider
	for _, name := range cfg.LLMProviderOrder {
		switch name {
		case "anthropic":
			if os.Getenv("ANTHROPIC_API_KEY") != "" {
				provs = append(provs, providers.NewAnthropicProvider())
			}
		case "bedrock":
			if os.Getenv("AWS_REGION") != "" {
				awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
				if err == nil {
					provs = append(provs, providers.NewBedrockProvider(awsCfg))
				}
			}
		case "langchain":
			// Third fallback rung: any OpenAI-compatible endpoint langchaingo
			// can reach, including local/self-hosted models behind
			// LANGCHAIN_BASE_URL (e.g. Ollama's OpenAI-compatible shim).
			if key := os.Getenv("OPENAI_API_KEY"); key != "" {
				var opts []openai.Option
				opts = append(opts, openai.WithToken(key))
				if base := os.Getenv("LANGCHAIN_BASE_URL"); base != "" {
					opts = append(opts, openai.WithBaseURL(base))
				}
				if model, err := openai.New(opts...); err == nil {
					provs = append(provs, providers.NewLangchainProvider("langchain", model))
				} else if log != nil {
					log.Warn("langchain provider unavailable", zap.Error(err))
				}
			}
		}
	}
	return llm.NewGateway(provs, llm.DefaultGatewayConfig(), telemetry.Named(log, "llm.gateway")), nil
}

// registerPlatformAdapters wires the demonstrative platform adapters the
// Action Router dispatches to. Real Notion/Trello/Slack integrations are
// out of scope (spec.md §8); these adapters only exercise H1's dispatch
// contract and per-platform breaker.
func registerPlatformAdapters(r *router.Router, cfg appconfig.Config) {
	breakerCfg := breaker.Config{
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		SuccessThreshold: uint32(cfg.BreakerSuccessThreshold),
		Timeout:          cfg.BreakerTimeout,
		CacheTTL:         cfg.BreakerCacheTTL,
	}
	for platform := range cfg.PlatformMinInterval {
		r.RegisterAdapter(decision.ActionCreateTask, platform, noopAdapter(platform), breakerCfg)
		r.RegisterAdapter(decision.ActionSendNotification, platform, noopAdapter(platform), breakerCfg)
		r.RegisterAdapter(decision.ActionUpdateSheet, platform, noopAdapter(platform), breakerCfg)
		r.RegisterAdapter(decision.ActionFileDocument, platform, noopAdapter(platform), breakerCfg)
	}
}

func noopAdapter(platform string) router.AdapterFunc {
	return func(ctx context.Context, d decision.Decision) (router.Result, error) {
		return router.Result{Success: true, Data: fmt.Sprintf("dispatched %s to %s (out of scope integration)", d.Action, platform)}, nil
	}
}
