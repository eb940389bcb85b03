// Package cache implements the tiered response cache: a bounded in-process
// LRU with per-entry TTL, plus an optional Redis shared tier preferred when
// reachable. Reads try shared then local; writes go to whichever tier is
// available.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
	"github.com/quorumlabs/quorum/internal/observe/metrics"
)

// Stats counts hits and misses per tier.
type Stats struct {
	LocalHits    int64
	LocalMisses  int64
	SharedHits   int64
	SharedMisses int64
	SharedErrors int64
	StaleHits    int64
}

// Tiered composes the local and shared tiers.
type Tiered struct {
	local  *Local
	shared *Shared // nil when no shared tier is configured
	ttl    time.Duration
	log    *slog.Logger

	localHits    atomic.Int64
	localMisses  atomic.Int64
	sharedHits   atomic.Int64
	sharedMisses atomic.Int64
	sharedErrors atomic.Int64
	staleHits    atomic.Int64
}

// NewTiered builds the cache. shared may be nil.
func NewTiered(local *Local, shared *Shared, ttl time.Duration, log *slog.Logger) *Tiered {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Tiered{local: local, shared: shared, ttl: ttl, log: log}
}

// Key derives the cache key for a provider/prompt pair. Keys are
// namespaced per provider so recovery can clear one backend's results.
func Key(provider domain.ProviderID, prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("resp:%s:%s", provider, hex.EncodeToString(sum[:8]))
}

// Namespace is the key prefix holding one provider's responses.
func Namespace(provider domain.ProviderID) string {
	return fmt.Sprintf("resp:%s:", provider)
}

// Get returns a fresh value, trying the shared tier first.
func (t *Tiered) Get(ctx context.Context, key string) (string, bool) {
	if t.shared != nil {
		val, ok, err := t.shared.Get(ctx, key)
		switch {
		case err != nil:
			t.sharedErrors.Add(1)
			t.log.Warn("shared cache read failed, falling back to local", "error", err)
		case ok:
			t.sharedHits.Add(1)
			metrics.CacheRequests.WithLabelValues("shared", "hit").Inc()
			return val, true
		default:
			t.sharedMisses.Add(1)
			metrics.CacheRequests.WithLabelValues("shared", "miss").Inc()
		}
	}

	if val, ok := t.local.Get(key); ok {
		t.localHits.Add(1)
		metrics.CacheRequests.WithLabelValues("local", "hit").Inc()
		return val, true
	}
	t.localMisses.Add(1)
	metrics.CacheRequests.WithLabelValues("local", "miss").Inc()
	return "", false
}

// GetStale returns a value ignoring TTL. The shared tier evicts on expiry,
// so degraded reads are served by the local tier.
func (t *Tiered) GetStale(ctx context.Context, key string) (string, bool) {
	if val, ok := t.local.GetStale(key); ok {
		t.staleHits.Add(1)
		metrics.CacheRequests.WithLabelValues("local", "stale_hit").Inc()
		return val, true
	}
	return "", false
}

// Set writes through to every available tier.
func (t *Tiered) Set(ctx context.Context, key, value string) {
	t.local.Set(key, value, t.ttl)

	if t.shared != nil {
		if err := t.shared.Set(ctx, key, value, t.ttl); err != nil {
			t.sharedErrors.Add(1)
			t.log.Warn("shared cache write failed", "error", err)
		}
	}
}

// ClearNamespace drops every entry under the prefix from both tiers.
func (t *Tiered) ClearNamespace(ctx context.Context, prefix string) error {
	dropped := t.local.DeletePrefix(prefix)

	if t.shared != nil {
		n, err := t.shared.DeletePrefix(ctx, prefix)
		dropped += n
		if err != nil {
			return fmt.Errorf("clear namespace %s: %w", prefix, err)
		}
	}

	t.log.Info("cache namespace cleared", "prefix", prefix, "entries", dropped)
	return nil
}

// Stats returns a snapshot of the counters.
func (t *Tiered) Stats() Stats {
	return Stats{
		LocalHits:    t.localHits.Load(),
		LocalMisses:  t.localMisses.Load(),
		SharedHits:   t.sharedHits.Load(),
		SharedMisses: t.sharedMisses.Load(),
		SharedErrors: t.sharedErrors.Load(),
		StaleHits:    t.staleHits.Load(),
	}
}
