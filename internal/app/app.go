// Package app builds the component graph shared by the REST server, the MCP server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/clinical-trial-matcher/internal/database"
	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/matching"
	"github.com/clinical-trial-matcher/internal/metrics"
	"github.com/clinical-trial-matcher/internal/observability"
	"github.com/clinical-trial-matcher/internal/reasoning"
	"github.com/clinical-trial-matcher/internal/repository"
	"github.com/clinical-trial-matcher/internal/subscription"
	"github.com/clinical-trial-matcher/internal/trials"
	"github.com/clinical-trial-matcher/pkg/cache"
	"github.com/clinical-trial-matcher/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

// App holds the wired components
type App struct {
	Config        *domain.Config
	Logger        *logrus.Logger
	Registry      *prometheus.Registry
	Metrics       *metrics.Metrics
	Trials        *trials.Gateway
	Reasoning     *reasoning.Gateway
	Orchestrator  *matching.Orchestrator
	Subscriptions subscription.Repository
	// History is nil unless match history storage is enabled
	History *repository.MatchHistoryRepository

	redis   *cache.RedisStore
	db      *database.DB
	closers []func(context.Context) error
}

type options struct {
	logger    *logrus.Logger
	registry  *prometheus.Registry
	completer reasoning.Completer
}

// Option customizes New
type Option func(*options)

// WithLogger uses logger instead of building one from the logging config
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistry registers collectors with reg instead of a fresh registry
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithCompleter replaces the chat completion client
func WithCompleter(c reasoning.Completer) Option {
	return func(o *options) {
		o.completer = c
	}
}

// New wires every component from cfg. Close releases what it opened.
func New(ctx context.Context, cfg *domain.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg}
	if o.logger != nil {
		a.Logger = o.logger
	} else {
		logger, closer, err := observability.NewLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
		a.Logger = logger
		a.closers = append(a.closers, closeWith(closer))
	}

	shutdownTracing, err := observability.InitTracing(cfg.Tracing)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	a.Registry = o.registry
	if a.Registry == nil {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	a.Metrics = metrics.New(a.Registry)

	if err := a.buildGateways(ctx, o); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.buildStorage(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	orchestratorOpts := []matching.Option{
		matching.WithMetrics(a.Metrics),
		matching.WithMinSteps(cfg.Reasoning.MinSteps),
	}
	if a.History != nil {
		orchestratorOpts = append(orchestratorOpts, matching.WithResultSink(a.History))
	}
	if cfg.Matching.Prerank {
		orchestratorOpts = append(orchestratorOpts, matching.WithCandidateRanker(matching.NewHybridRanker()))
	}
	a.Orchestrator = matching.NewOrchestrator(a.Trials, a.Reasoning, cfg.Matching, a.Logger, orchestratorOpts...)

	a.Logger.WithFields(logrus.Fields{
		"environment":   cfg.Environment,
		"database":      cfg.Database.Driver,
		"redis_cache":   a.redis != nil,
		"store_history": a.History != nil,
	}).Info("Application components initialized")
	return a, nil
}

func (a *App) buildGateways(ctx context.Context, o *options) error {
	cfg := a.Config
	var remote cache.RemoteStore
	if cfg.Cache.RedisEnabled {
		store, err := cache.NewRedisStore(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		a.redis = store
		remote = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	}

	pages, err := newCache[domain.TrialPage]("trials", cfg.Cache.MaxEntries, remote, a)
	if err != nil {
		return err
	}
	results, err := newCache[domain.ReasoningResult]("reasoning", cfg.Cache.MaxEntries, remote, a)
	if err != nil {
		return err
	}

	a.Trials = trials.NewGateway(
		trials.NewClient(cfg.Trials),
		a.newGuard(domain.UpstreamTrials, cfg.Trials),
		pages, cfg.Trials, a.Logger,
		trials.WithMetrics(a.Metrics),
	)

	completer := o.completer
	if completer == nil {
		completer = reasoning.NewChatClient(cfg.Reasoning)
	}
	a.Reasoning = reasoning.NewGateway(
		completer,
		a.newGuard(domain.UpstreamReasoning, cfg.Reasoning.UpstreamConfig),
		results, cfg.Reasoning, a.Logger,
		reasoning.WithMetrics(a.Metrics),
	)
	return nil
}

func newCache[V any](name string, capacity int, remote cache.RemoteStore, a *App) (*cache.ResponseCache[V], error) {
	opts := []cache.Option[V]{cache.WithLookupHook[V](a.Metrics.CacheLookup)}
	if remote != nil {
		opts = append(opts, cache.WithRemote[V](remote))
	}
	return cache.New[V](name, capacity, a.Logger, opts...)
}

func (a *App) newGuard(upstream string, cfg domain.UpstreamConfig) *resilience.Guard {
	retry := a.Config.Retry
	return resilience.NewGuard(upstream,
		resilience.NewRateLimiter(upstream, cfg.RateLimit, cfg.RateWindow,
			resilience.WithWaitHook(a.Metrics.RateLimitWait)),
		resilience.NewCircuitBreaker(resilience.BreakerSettings{
			Upstream:         upstream,
			FailureThreshold: cfg.Circuit.FailureThreshold,
			RecoveryTimeout:  cfg.Circuit.RecoveryTimeout,
		}, a.Logger, resilience.WithStateChangeHook(a.Metrics.BreakerTransition)),
		resilience.RetryPolicy{
			MaxAttempts:    cfg.RetryCount + 1,
			InitialBackoff: retry.InitialBackoff,
			MaxBackoff:     retry.MaxBackoff,
			Multiplier:     retry.Multiplier,
			Jitter:         retry.Jitter,
		})
}

// buildStorage opens the subscription store and, for postgres, the match history.
// Postgres migrations are applied before either is used.
func (a *App) buildStorage(ctx context.Context) error {
	cfg := a.Config.Database
	switch cfg.Driver {
	case "", "memory":
		a.Subscriptions = subscription.NewMemoryStore()
	case "sqlite":
		store, err := subscription.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.Subscriptions = store
	case "postgres":
		pgCfg := database.ConfigFrom(cfg)
		if err := Migrate(ctx, pgCfg.URL(), cfg.MigrationsPath, a.Logger, 0); err != nil {
			return err
		}
		store, err := subscription.NewPostgresStoreFromURL(pgCfg.URL(), cfg)
		if err != nil {
			return err
		}
		a.Subscriptions = store

		if cfg.StoreHistory {
			db, err := database.NewConnection(ctx, pgCfg, a.Logger)
			if err != nil {
				return err
			}
			a.db = db
			a.History = repository.NewMatchHistoryRepository(db, a.Logger)
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	return nil
}

// Migrate applies pending migrations when steps is zero, else rolls back steps migrations
func Migrate(ctx context.Context, databaseURL, path string, logger *logrus.Logger, steps int) error {
	runner, err := database.NewMigrationRunner(databaseURL, path, logger)
	if err != nil {
		return err
	}
	defer runner.Close()
	if steps > 0 {
		return runner.Down(ctx, steps)
	}
	return runner.Up(ctx)
}

// Upstreams returns breaker, limiter and cache state for both upstreams
func (a *App) Upstreams() []UpstreamStatus {
	return []UpstreamStatus{
		{GuardStatus: a.Trials.Status(), Cache: a.Trials.CacheStats()},
		{GuardStatus: a.Reasoning.Status(), Cache: a.Reasoning.CacheStats()},
	}
}

// UpstreamStatus is one upstream's observable state
type UpstreamStatus struct {
	resilience.GuardStatus
	Cache cache.Stats `json:"cache"`
}

// Health pings the optional backing services
func (a *App) Health(ctx context.Context) map[string]string {
	checks := map[string]string{}
	if a.redis != nil {
		checks["redis"] = status(a.redis.Ping(ctx))
	}
	if a.db != nil {
		checks["database"] = status(a.db.Health(ctx))
	}
	return checks
}

func status(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// Close releases everything New opened, in reverse order
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Subscriptions != nil {
		errs = append(errs, a.Subscriptions.Close())
	}
	if a.db != nil {
		a.db.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func closeWith(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}
