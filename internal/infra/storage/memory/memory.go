// Package memory holds in-process stores used when no database is
// configured.
package memory

import (
	"context"
	"sync"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// AuditRepo keeps recovery records in memory, bounded by capacity.
type AuditRepo struct {
	mu       sync.RWMutex
	records  []domain.RecoveryRecord
	capacity int
}

// NewAuditRepo creates a store keeping at most capacity records.
func NewAuditRepo(capacity int) *AuditRepo {
	if capacity <= 0 {
		capacity = 1000
	}
	return &AuditRepo{capacity: capacity}
}

func (r *AuditRepo) Save(ctx context.Context, rec domain.RecoveryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.records {
		if r.records[i].RecoveryID == rec.RecoveryID {
			r.records[i] = rec
			return nil
		}
	}
	r.records = append(r.records, rec)
	if len(r.records) > r.capacity {
		r.records = r.records[len(r.records)-r.capacity:]
	}
	return nil
}

func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]domain.RecoveryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.RecoveryRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.records[i])
	}
	return out, nil
}
