// Package storage defines the persistence interfaces for recovery auditing.
package storage

import (
	"context"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// RecoveryAuditRepository persists remediation workflow runs.
type RecoveryAuditRepository interface {
	// Save upserts a record by RecoveryID.
	Save(ctx context.Context, rec domain.RecoveryRecord) error

	// Recent returns the newest records, most recent first.
	Recent(ctx context.Context, limit int) ([]domain.RecoveryRecord, error)
}
