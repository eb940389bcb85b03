// Package control is the composition root. It builds the full dependency
// graph from configuration and manages the application lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quorumlabs/quorum/internal/core/config"
	"github.com/quorumlabs/quorum/internal/core/domain"
	"github.com/quorumlabs/quorum/internal/gateway"
	"github.com/quorumlabs/quorum/internal/health"
	"github.com/quorumlabs/quorum/internal/infra/cache"
	"github.com/quorumlabs/quorum/internal/infra/llm"
	"github.com/quorumlabs/quorum/internal/infra/storage/memory"
	"github.com/quorumlabs/quorum/internal/infra/storage/postgres"
	"github.com/quorumlabs/quorum/internal/pipeline"
	"github.com/quorumlabs/quorum/internal/recovery"
	"github.com/quorumlabs/quorum/internal/resilience/breaker"
	"github.com/quorumlabs/quorum/internal/resilience/errorlimit"
	"github.com/quorumlabs/quorum/internal/resilience/ratelimit"
	"github.com/quorumlabs/quorum/internal/resilience/retry"
	"github.com/quorumlabs/quorum/internal/resilience/timeout"
)

// App owns every long-lived component.
type App struct {
	cfg          *config.AppConfig
	registry     *llm.Registry
	responses    *cache.Tiered
	shared       *cache.Shared
	gateway      *gateway.Gateway
	orchestrator *pipeline.Orchestrator
	coordinator  *recovery.Coordinator
	healthMon    *health.Monitor
	healthServer *health.Server
	apiServer    *Server
	db           *postgres.DB
	log          *slog.Logger
}

// NewApp builds the application from configuration.
func NewApp(cfg *config.AppConfig) (*App, error) {
	log := slog.Default()

	// 1. Provider clients
	clientConfigs := make(map[domain.ProviderID]llm.ClientConfig, len(cfg.Providers))
	providers := make([]domain.ProviderID, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		clientConfigs[p.Name] = llm.ClientConfig{
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Model:   p.Model,
			Timeout: p.Timeout.Std(),
		}
		providers = append(providers, p.Name)
	}
	registry, err := llm.NewRegistry(clientConfigs)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}

	// 2. Response cache: local tier always, Redis tier when configured.
	var shared *cache.Shared
	if cfg.Redis.URL != "" {
		shared, err = cache.NewShared(cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, running on local cache only", "error", err)
			shared = nil
		} else {
			log.Info("Using Redis shared cache tier")
		}
	}
	responses := cache.NewTiered(cache.NewLocal(cfg.Cache.LocalSize), shared, cfg.Cache.TTL.Std(), log)

	// 3. Resilience stack
	limiter := ratelimit.New(ratelimit.DefaultConfig)
	for _, p := range cfg.Providers {
		limiter.SetProviderConfig(p.Name, ratelimit.Config{
			Window:      p.RateLimit.Window.Std(),
			MaxRequests: p.RateLimit.MaxRequests,
			MaxWait:     p.RateLimit.MaxWait.Std(),
		})
	}

	circuits := breaker.New(breaker.Config{
		FailureThreshold: cfg.Resilience.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Resilience.Breaker.RecoveryTimeout.Std(),
		HalfOpenMaxCalls: cfg.Resilience.Breaker.HalfOpenMaxCalls,
	})

	budgets := make(map[string]time.Duration, len(cfg.Resilience.Timeout.Budgets))
	for op, d := range cfg.Resilience.Timeout.Budgets {
		budgets[op] = d.Std()
	}
	guard := timeout.New(timeout.Config{
		DefaultBudget: cfg.Resilience.Timeout.DefaultBudget.Std(),
		Budgets:       budgets,
		Adaptive:      cfg.Resilience.Timeout.Adaptive,
		WindowSize:    100,
	})

	retrier := retry.New(retry.Config{
		MaxAttempts:  cfg.Resilience.Retry.MaxAttempts,
		InitialDelay: cfg.Resilience.Retry.InitialDelay.Std(),
		MaxDelay:     cfg.Resilience.Retry.MaxDelay.Std(),
		Base:         2.0,
		Jitter:       true,
	})

	errLimit := errorlimit.New(errorlimit.DefaultConfig)
	if shared != nil {
		// Mirror suspect flags to Redis so restarts keep them.
		sharedTier := shared
		errLimit.Flagged = func(clientID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := sharedTier.Set(ctx, "suspect:"+clientID, "1", time.Hour); err != nil {
				log.Warn("failed to mirror suspect flag", "client", clientID, "error", err)
			}
		}
	}

	// 4. Gateway and orchestrator
	gw := gateway.New(gateway.Options{
		Clients:    registry,
		Cache:      responses,
		Limiter:    limiter,
		Breaker:    circuits,
		Guard:      guard,
		Retrier:    retrier,
		ErrorLimit: errLimit,
		Fallback:   cfg.Pipeline.FallbackOrder,
		Logger:     log,
	})

	orchestrator := pipeline.New(gw, pipeline.Config{
		Providers:            providers,
		DefaultMetaProviders: cfg.Pipeline.MetaProviders,
		DefaultHyperPriority: cfg.Pipeline.HyperPriority,
		DefaultUltraPriority: cfg.Pipeline.UltraPriority,
	}, log)

	// 5. Recovery: probe hits the backend directly so an open circuit does
	// not block its own remediation.
	probe := func(ctx context.Context, t recovery.Trigger) error {
		client, ok := registry.Get(domain.ProviderID(t.Target))
		if !ok {
			return fmt.Errorf("no client for target %s", t.Target)
		}
		pctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		_, err := client.Call(pctx, llm.CompletionRequest{Prompt: "ping", MaxTokens: 1})
		return err
	}
	workflows, defaultWF := recovery.StandardWorkflows(probe)

	var db *postgres.DB
	var audit recovery.AuditStore
	if cfg.Database.URL != "" {
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		audit = postgres.NewAuditRepo(db)
		log.Info("Using PostgreSQL recovery audit")
	} else {
		audit = memory.NewAuditRepo(1000)
		log.Info("Using in-memory recovery audit")
	}

	coordinator := recovery.NewCoordinator(recovery.Options{
		Workflows:  workflows,
		Default:    defaultWF,
		Breaker:    circuits,
		CacheClear: responses,
		Audit:      audit,
		Logger:     log,
	})

	// 6. Health monitoring, wired to trigger recovery.
	healthMon := health.NewMonitor(providers, gw, func(target, kind string) {
		coordinator.Trigger(recovery.Trigger{Target: target, ErrorKind: kind})
	})
	healthServer := health.NewServer(healthMon, cfg.Server.HealthPort)

	app := &App{
		cfg:          cfg,
		registry:     registry,
		responses:    responses,
		shared:       shared,
		gateway:      gw,
		orchestrator: orchestrator,
		coordinator:  coordinator,
		healthMon:    healthMon,
		healthServer: healthServer,
		db:           db,
		log:          log,
	}
	app.apiServer = NewServer(orchestrator, cfg.Server.Port, log)
	return app, nil
}

// Start launches the servers and background loops.
func (a *App) Start(ctx context.Context) error {
	a.coordinator.Start(ctx)

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	go func() {
		if err := a.healthServer.Start(); err != nil {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	go func() {
		if err := a.apiServer.Start(); err != nil {
			a.log.Error("API server failed", "error", err)
		}
	}()

	a.log.Info("quorum started",
		"providers", len(a.cfg.Providers),
		"api_port", a.cfg.Server.Port,
		"health_port", a.cfg.Server.HealthPort)
	return nil
}

// Stop shuts everything down in reverse order.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping quorum...")

	if err := a.apiServer.Stop(ctx); err != nil {
		a.log.Warn("API server shutdown failed", "error", err)
	}
	if err := a.healthServer.Stop(ctx); err != nil {
		a.log.Warn("Health server shutdown failed", "error", err)
	}

	a.coordinator.Stop()

	if a.shared != nil {
		if err := a.shared.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
	return a.registry.Close()
}
