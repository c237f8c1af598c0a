// Package store provides durable persistence for score records.
// File: store/store.go
package store

import (
	"errors"

	"go-score-hub/models"
)

// ErrNotFound is returned when no score record exists for the requested
// (session, judge) pair.
var ErrNotFound = errors.New("score record not found")

// ErrUnavailable signals the store cannot accept writes right now; callers
// must withhold acknowledgment so clients retry.
var ErrUnavailable = errors.New("score store unavailable")

// ScoreStore is the durable storage consumed by the real-time coordinator.
// Implementations must make Save transactional: the criterion scores and the
// status transition land together or not at all.
type ScoreStore interface {
	// Save upserts the full record (status, notes, criteria) atomically.
	Save(rec *models.ScoreRecord) error
	// Load returns the record for (sessionID, judgeID), or ErrNotFound.
	Load(sessionID, judgeID string) (*models.ScoreRecord, error)
	// ListSubmitted returns every record in the session whose status is
	// submitted or validated.
	ListSubmitted(sessionID string) ([]*models.ScoreRecord, error)
	// MarkValidated promotes the given judges' submitted records to validated.
	MarkValidated(sessionID string, judgeIDs []string) error
	// AppendAudit records an elevated or state-changing action.
	AppendAudit(entry models.AuditEntry) error
	// ListAudit returns the audit trail for a session, oldest first.
	ListAudit(sessionID string) ([]models.AuditEntry, error)
}

// RubricStore serves rubric criteria for score validation.
type RubricStore interface {
	// GetCriteria returns the criteria for a category, or an empty slice if
	// the category has none configured.
	GetCriteria(categoryID string) ([]models.Criterion, error)
	// PutCriteria replaces the criteria for a category.
	PutCriteria(categoryID string, criteria []models.Criterion) error
}
