package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

// AuditRepo persists recovery workflow runs.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates the repository.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

type auditRow struct {
	RecoveryID    string       `db:"recovery_id"`
	TargetService string       `db:"target_service"`
	ErrorType     string       `db:"error_type"`
	Status        string       `db:"status"`
	Attempts      int          `db:"attempts"`
	StartedAt     time.Time    `db:"started_at"`
	FinishedAt    sql.NullTime `db:"finished_at"`
}

// Save upserts a record by recovery id.
func (r *AuditRepo) Save(ctx context.Context, rec domain.RecoveryRecord) error {
	row := auditRow{
		RecoveryID:    rec.RecoveryID,
		TargetService: rec.TargetService,
		ErrorType:     rec.ErrorType,
		Status:        string(rec.Status),
		Attempts:      rec.Attempts,
		StartedAt:     rec.StartedAt,
	}
	if !rec.FinishedAt.IsZero() {
		row.FinishedAt = sql.NullTime{Time: rec.FinishedAt, Valid: true}
	}

	const q = `
		INSERT INTO recovery_audit
			(recovery_id, target_service, error_type, status, attempts, started_at, finished_at)
		VALUES
			(:recovery_id, :target_service, :error_type, :status, :attempts, :started_at, :finished_at)
		ON CONFLICT (recovery_id) DO UPDATE SET
			status      = EXCLUDED.status,
			attempts    = EXCLUDED.attempts,
			finished_at = EXCLUDED.finished_at`

	if _, err := r.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("save recovery record %s: %w", rec.RecoveryID, err)
	}
	return nil
}

// Recent returns the newest records, most recent first.
func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]domain.RecoveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	const q = `
		SELECT recovery_id, target_service, error_type, status, attempts, started_at, finished_at
		FROM recovery_audit
		ORDER BY started_at DESC
		LIMIT $1`

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, fmt.Errorf("list recovery records: %w", err)
	}

	out := make([]domain.RecoveryRecord, 0, len(rows))
	for _, row := range rows {
		rec := domain.RecoveryRecord{
			RecoveryID:    row.RecoveryID,
			TargetService: row.TargetService,
			ErrorType:     row.ErrorType,
			Status:        domain.RecoveryStatus(row.Status),
			Attempts:      row.Attempts,
			StartedAt:     row.StartedAt,
		}
		if row.FinishedAt.Valid {
			rec.FinishedAt = row.FinishedAt.Time
		}
		out = append(out, rec)
	}
	return out, nil
}
