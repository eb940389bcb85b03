package domain

import "time"

// RecoveryStatus tracks a remediation workflow through its lifecycle.
type RecoveryStatus string

const (
	RecoveryRunning   RecoveryStatus = "running"
	RecoverySucceeded RecoveryStatus = "succeeded"
	RecoveryFailed    RecoveryStatus = "failed"
)

// RecoveryRecord is the audit entry for one remediation workflow run.
// Created when a workflow starts, retained in a bounded history afterward.
type RecoveryRecord struct {
	RecoveryID    string
	TargetService string
	ErrorType     string
	Status        RecoveryStatus
	Attempts      int
	StartedAt     time.Time
	FinishedAt    time.Time
}
