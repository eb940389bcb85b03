package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/quorumlabs/quorum/internal/core/domain"
)

func TestAuditRepo_SaveUpsertsByID(t *testing.T) {
	r := NewAuditRepo(10)
	ctx := context.Background()

	rec := domain.RecoveryRecord{
		RecoveryID:    "r1",
		TargetService: "openai",
		Status:        domain.RecoveryRunning,
		StartedAt:     time.Now(),
	}
	if err := r.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec.Status = domain.RecoverySucceeded
	if err := r.Save(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := r.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}
	if got[0].Status != domain.RecoverySucceeded {
		t.Errorf("status = %s", got[0].Status)
	}
}

func TestAuditRepo_BoundedAndNewestFirst(t *testing.T) {
	r := NewAuditRepo(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r.Save(ctx, domain.RecoveryRecord{
			RecoveryID: fmt.Sprintf("r%d", i),
			Status:     domain.RecoverySucceeded,
		})
	}

	got, _ := r.Recent(ctx, 10)
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}
	if got[0].RecoveryID != "r4" || got[2].RecoveryID != "r2" {
		t.Errorf("order = %s..%s", got[0].RecoveryID, got[2].RecoveryID)
	}
}
