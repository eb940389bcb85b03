package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quorumlabs/quorum/internal/core/domain"
	"github.com/quorumlabs/quorum/internal/infra/cache"
	"github.com/quorumlabs/quorum/internal/observe/metrics"
)

const historyLimit = 100

// BreakerResetter force-closes a provider's circuit after remediation.
type BreakerResetter interface {
	Reset(domain.ProviderID)
}

// CacheClearer drops a provider's cached responses after remediation.
type CacheClearer interface {
	ClearNamespace(ctx context.Context, prefix string) error
}

// AuditStore persists workflow runs. Save upserts by RecoveryID.
type AuditStore interface {
	Save(ctx context.Context, rec domain.RecoveryRecord) error
}

// Coordinator supervises remediation workflows. Triggers arrive over a
// channel so request serving never blocks on recovery work, and at most one
// workflow runs per target at a time.
type Coordinator struct {
	workflows  map[string]*Workflow
	defaultWF  *Workflow
	breaker    BreakerResetter
	cacheClear CacheClearer
	audit      AuditStore // nil disables persistence
	log        *slog.Logger

	triggers chan Trigger
	stop     chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	active  map[string]bool
	history []domain.RecoveryRecord
	started bool
}

// Options wires the coordinator.
type Options struct {
	// Workflows maps error kinds to workflows. Default handles the rest.
	Workflows map[string]*Workflow
	Default   *Workflow

	Breaker    BreakerResetter
	CacheClear CacheClearer
	Audit      AuditStore
	Logger     *slog.Logger

	// QueueSize bounds pending triggers. Defaults to 16.
	QueueSize int
}

// NewCoordinator builds a coordinator.
func NewCoordinator(opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	queue := opts.QueueSize
	if queue <= 0 {
		queue = 16
	}
	return &Coordinator{
		workflows:  opts.Workflows,
		defaultWF:  opts.Default,
		breaker:    opts.Breaker,
		cacheClear: opts.CacheClear,
		audit:      opts.Audit,
		log:        log,
		triggers:   make(chan Trigger, queue),
		stop:       make(chan struct{}),
		active:     make(map[string]bool),
	}
}

// Start launches the trigger loop. Idempotent until Stop.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop(ctx)
	c.log.Info("recovery coordinator started")
}

// Stop drains the loop and waits for in-flight workflows.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	close(c.stop)
	c.wg.Wait()
	c.log.Info("recovery coordinator stopped")
}

// Trigger enqueues a remediation request. Returns false when the queue is
// full or a workflow for the target is already running.
func (c *Coordinator) Trigger(t Trigger) bool {
	c.mu.Lock()
	if c.active[t.Target] {
		c.mu.Unlock()
		c.log.Debug("recovery already active for target", "target", t.Target)
		return false
	}
	c.mu.Unlock()

	select {
	case c.triggers <- t:
		return true
	default:
		c.log.Warn("recovery queue full, dropping trigger", "target", t.Target)
		return false
	}
}

// Active reports whether a workflow is currently running for the target.
func (c *Coordinator) Active(target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[target]
}

// History returns the bounded in-memory audit trail, newest last.
func (c *Coordinator) History() []domain.RecoveryRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.RecoveryRecord, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Coordinator) loop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case t := <-c.triggers:
			c.run(ctx, t)
		}
	}
}

func (c *Coordinator) run(ctx context.Context, t Trigger) {
	c.mu.Lock()
	if c.active[t.Target] {
		c.mu.Unlock()
		return
	}
	c.active[t.Target] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.active, t.Target)
		c.mu.Unlock()
	}()

	wf := c.workflowFor(t.ErrorKind)
	if wf == nil {
		c.log.Warn("no workflow for trigger", "target", t.Target, "kind", t.ErrorKind)
		return
	}

	rec := domain.RecoveryRecord{
		RecoveryID:    uuid.New().String(),
		TargetService: t.Target,
		ErrorType:     t.ErrorKind,
		Status:        domain.RecoveryRunning,
		StartedAt:     time.Now(),
	}
	c.persist(ctx, rec)

	c.log.Info("recovery workflow started",
		"workflow", wf.Name, "target", t.Target, "kind", t.ErrorKind, "id", rec.RecoveryID)

	attempts, err := wf.Execute(ctx, t, c.log)
	rec.Attempts = attempts
	rec.FinishedAt = time.Now()

	if err != nil {
		rec.Status = domain.RecoveryFailed
		c.log.Error("recovery workflow failed",
			"workflow", wf.Name, "target", t.Target, "error", err)
	} else {
		rec.Status = domain.RecoverySucceeded
		c.finalize(ctx, t)
		c.log.Info("recovery workflow succeeded",
			"workflow", wf.Name, "target", t.Target, "elapsed", rec.FinishedAt.Sub(rec.StartedAt))
	}

	metrics.RecoveryRuns.WithLabelValues(t.Target, string(rec.Status)).Inc()
	c.persist(ctx, rec)
	c.remember(rec)
}

// finalize clears the resilience state that made the target unreachable.
func (c *Coordinator) finalize(ctx context.Context, t Trigger) {
	p := domain.ProviderID(t.Target)
	if !p.IsKnown() {
		return
	}
	if c.breaker != nil {
		c.breaker.Reset(p)
	}
	if c.cacheClear != nil {
		if err := c.cacheClear.ClearNamespace(ctx, cache.Namespace(p)); err != nil {
			c.log.Warn("cache namespace clear failed", "provider", p, "error", err)
		}
	}
}

func (c *Coordinator) workflowFor(kind string) *Workflow {
	if wf, ok := c.workflows[kind]; ok {
		return wf
	}
	return c.defaultWF
}

func (c *Coordinator) persist(ctx context.Context, rec domain.RecoveryRecord) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Save(ctx, rec); err != nil {
		c.log.Warn("recovery audit write failed", "id", rec.RecoveryID, "error", err)
	}
}

func (c *Coordinator) remember(rec domain.RecoveryRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, rec)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
}
