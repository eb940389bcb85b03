// Package pipeline runs the four-stage synthesis flow. Initial fans the
// prompt out to every available provider, Meta has a subset refine their own
// answers against their peers', Hyper merges the survivors through one
// synthesis call, and Ultra produces the final version. A stage never starts
// before the previous one settles, and later stages degrade to earlier
// output instead of failing the run.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quorumlabs/quorum/internal/core/domain"
	"github.com/quorumlabs/quorum/internal/observe/metrics"
)

// Dispatcher is the single-provider call surface the orchestrator drives.
// Satisfied by the gateway.
type Dispatcher interface {
	Invoke(ctx context.Context, call domain.CallContext, prompt string) (string, error)

	// StaleResponse serves a cached answer ignoring TTL, for the degraded
	// path once live dispatch is exhausted.
	StaleResponse(ctx context.Context, p domain.ProviderID, prompt string) (string, bool)
}

// Request is one pipeline run.
type Request struct {
	Prompt   string
	ClientID string
	Pattern  domain.PatternConfig
}

// Config shapes the orchestrator.
type Config struct {
	// Providers is the full fan-out set for the Initial stage.
	Providers []domain.ProviderID

	// DefaultMetaProviders is used when the request pattern leaves
	// MetaProviders empty. Defaults to the first two providers.
	DefaultMetaProviders []domain.ProviderID

	// DefaultHyperPriority and DefaultUltraPriority order the synthesis
	// candidates when the request pattern leaves them empty. Both default
	// to the fan-out set.
	DefaultHyperPriority []domain.ProviderID
	DefaultUltraPriority []domain.ProviderID
}

// Orchestrator drives the stages through a dispatcher.
type Orchestrator struct {
	dispatch Dispatcher
	cfg      Config
	log      *slog.Logger
}

// New creates an orchestrator.
func New(dispatch Dispatcher, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if len(cfg.DefaultMetaProviders) == 0 && len(cfg.Providers) >= 2 {
		cfg.DefaultMetaProviders = cfg.Providers[:2]
	}
	return &Orchestrator{dispatch: dispatch, cfg: cfg, log: log}
}

// Run executes the pipeline. The only terminal failure is an empty Initial
// stage; from Meta onward every failure degrades to earlier output.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*domain.PipelineResult, error) {
	if req.Prompt == "" {
		return nil, &domain.ValidationError{Field: "prompt", Reason: "must not be empty"}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	result := &domain.PipelineResult{}

	// Initial: everyone answers the raw prompt.
	result.Initial = o.fanOut(ctx, req.ClientID, o.cfg.Providers, func(p domain.ProviderID) string {
		return req.Prompt
	})
	o.observeStage(domain.StageInitial, start)
	if len(result.Initial) == 0 {
		// Degraded read before giving up: answers a previous run cached
		// for this prompt, TTL ignored.
		for _, p := range o.cfg.Providers {
			if val, ok := o.dispatch.StaleResponse(ctx, p, req.Prompt); ok {
				result.Initial[p] = val
			}
		}
		if len(result.Initial) == 0 {
			metrics.PipelineRuns.WithLabelValues("failed").Inc()
			return nil, domain.ErrNoProvidersAvailable
		}
		result.Degraded = append(result.Degraded, domain.StageInitial)
		o.log.Warn("initial stage served from stale cache", "answers", len(result.Initial))
	}

	// Meta: the configured subset refines against peers. Providers that
	// have no Initial answer of their own sit this stage out.
	metaStart := time.Now()
	metaSet := o.metaProviders(req.Pattern, result.Initial)
	result.Meta = o.fanOut(ctx, req.ClientID, metaSet, func(p domain.ProviderID) string {
		return metaPrompt(p, req.Prompt, result.Initial)
	})
	o.observeStage(domain.StageMeta, metaStart)
	if len(result.Meta) == 0 {
		result.Degraded = append(result.Degraded, domain.StageMeta)
		result.Meta = result.Initial.Clone()
		o.log.Warn("meta stage degraded to initial results")
	}

	// Hyper: one provider merges the settled set, walking the priority
	// order until a call succeeds.
	hyperStart := time.Now()
	hyperOrder := o.priority(req.Pattern.HyperPriority, o.cfg.DefaultHyperPriority)
	result.Hyper, result.HyperProvider = o.synthesize(ctx, req.ClientID, hyperOrder, synthesisPrompt(req.Prompt, result.Meta))
	o.observeStage(domain.StageHyper, hyperStart)
	if result.Hyper == "" {
		result.Degraded = append(result.Degraded, domain.StageHyper)
		o.log.Warn("hyper stage degraded to meta results")
	}

	// Ultra: final polish of the Hyper draft, or a fresh synthesis of the
	// Meta set when Hyper degraded.
	ultraStart := time.Now()
	ultraOrder := o.priority(req.Pattern.UltraPriority, o.cfg.DefaultUltraPriority)
	ultraPrompt := refinementPrompt(req.Prompt, result.Hyper)
	if result.Hyper == "" {
		ultraPrompt = synthesisPrompt(req.Prompt, result.Meta)
	}
	result.Ultra, result.UltraProvider = o.synthesize(ctx, req.ClientID, ultraOrder, ultraPrompt)
	o.observeStage(domain.StageUltra, ultraStart)
	if result.Ultra == "" {
		result.Degraded = append(result.Degraded, domain.StageUltra)
		o.log.Warn("ultra stage degraded to earlier output")
	}

	result.Elapsed = time.Since(start)
	outcome := "success"
	if len(result.Degraded) > 0 {
		outcome = "degraded"
	}
	metrics.PipelineRuns.WithLabelValues(outcome).Inc()

	o.log.Info("pipeline settled",
		"initial", len(result.Initial),
		"meta", len(result.Meta),
		"hyper_provider", result.HyperProvider,
		"ultra_provider", result.UltraProvider,
		"degraded", result.Degraded,
		"elapsed", result.Elapsed)
	return result, nil
}

// fanOut calls every provider concurrently and collects the successes.
// Failures are logged and become absent map entries.
func (o *Orchestrator) fanOut(ctx context.Context, clientID string, providers []domain.ProviderID, promptFor func(domain.ProviderID) string) domain.StageResult {
	var (
		mu      sync.Mutex
		results = make(domain.StageResult)
		g       errgroup.Group
	)

	for _, p := range providers {
		g.Go(func() error {
			call := domain.NewCallContext(p, "pipeline", clientID)
			out, err := o.dispatch.Invoke(ctx, call, promptFor(p))
			if err != nil {
				o.log.Warn("provider dropped from stage",
					"provider", p, "kind", domain.Classify(err), "error", err)
				return nil
			}
			mu.Lock()
			results[p] = out
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// synthesize walks the priority order until one provider answers, then
// falls back to a stale cached result for the same synthesis prompt.
func (o *Orchestrator) synthesize(ctx context.Context, clientID string, order []domain.ProviderID, prompt string) (string, domain.ProviderID) {
	for _, p := range order {
		call := domain.NewCallContext(p, "pipeline", clientID)
		out, err := o.dispatch.Invoke(ctx, call, prompt)
		if err == nil {
			return out, p
		}
		o.log.Warn("synthesis candidate failed",
			"provider", p, "kind", domain.Classify(err), "error", err)
	}
	for _, p := range order {
		if out, ok := o.dispatch.StaleResponse(ctx, p, prompt); ok {
			o.log.Warn("synthesis served from stale cache", "provider", p)
			return out, p
		}
	}
	return "", ""
}

// metaProviders resolves the Meta fan-out set, keeping only providers that
// produced an Initial answer.
func (o *Orchestrator) metaProviders(pattern domain.PatternConfig, initial domain.StageResult) []domain.ProviderID {
	set := pattern.MetaProviders
	if len(set) == 0 {
		set = o.cfg.DefaultMetaProviders
	}
	if len(set) == 0 {
		set = o.cfg.Providers
	}

	out := make([]domain.ProviderID, 0, len(set))
	for _, p := range set {
		if _, ok := initial[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// priority resolves a synthesis order: the request pattern first, then the
// configured default, then the fan-out set.
func (o *Orchestrator) priority(order, configured []domain.ProviderID) []domain.ProviderID {
	if len(order) > 0 {
		return order
	}
	if len(configured) > 0 {
		return configured
	}
	return o.cfg.Providers
}

func (o *Orchestrator) observeStage(s domain.Stage, start time.Time) {
	metrics.StageDuration.WithLabelValues(string(s)).Observe(time.Since(start).Seconds())
}
