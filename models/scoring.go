// Package models defines data structures used across the scoring service.
// File: models/scoring.go
package models

import "time"

// ----------------------- session model -----------------------

// SessionStatus is the lifecycle state of a scoring session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// ScoringSession represents one team's live judging instance. All judges
// scoring that team share the same session.
type ScoringSession struct {
	ID            string        `json:"id"`
	CompetitionID string        `json:"competitionId"`
	TeamID        string        `json:"teamId"`
	CategoryID    string        `json:"categoryId"`
	Status        SessionStatus `json:"status"`
	Venue         string        `json:"venue"` // opaque venue/table reference
	StartedAt     time.Time     `json:"startedAt"`
	// RequiredJudges is how many submitted records are needed before the
	// session can complete (1 for single-judge sessions).
	RequiredJudges int `json:"requiredJudges"`
}

// ----------------------- connection model -----------------------

// ConnectionState tracks one judge socket's liveness.
type ConnectionState string

const (
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnDisconnected ConnectionState = "disconnected"
	ConnReconnecting ConnectionState = "reconnecting"
)

// Role controls what a connection is allowed to see. Ordinary judges never
// receive each other's score deltas; observers and the head judge do.
type Role string

const (
	RoleJudge     Role = "judge"
	RoleObserver  Role = "observer"
	RoleHeadJudge Role = "head_judge"
)

// ----------------------- score record model -----------------------

// RecordStatus is the lifecycle state of one judge's score record.
type RecordStatus string

const (
	RecordDraft      RecordStatus = "draft"
	RecordInProgress RecordStatus = "in_progress"
	RecordSubmitted  RecordStatus = "submitted"
	RecordValidated  RecordStatus = "validated"
)

// ScoreRecord is one judge's scores for one session, keyed (sessionId, judgeId).
type ScoreRecord struct {
	SessionID string `json:"sessionId"`
	JudgeID   string `json:"judgeId"`
	// CriteriaScores maps criterion ID -> score.
	CriteriaScores map[string]float64 `json:"criteriaScores"`
	// CriteriaUpdated maps criterion ID -> last accepted client timestamp
	// (unix millis); used for last-write-wins replay protection.
	CriteriaUpdated map[string]int64 `json:"criteriaUpdated,omitempty"`
	Notes           string           `json:"notes"`
	Status          RecordStatus     `json:"status"`
	DurationMinutes int              `json:"durationMinutes"`
	SubmittedAt     *time.Time       `json:"submittedAt,omitempty"`
}

// Total derives the record's total score from its components. The total is
// never stored separately so it can never drift from the criterion scores.
func (r *ScoreRecord) Total() float64 {
	var sum float64
	for _, v := range r.CriteriaScores {
		sum += v
	}
	return sum
}

// Clone returns a deep copy, safe to hand to another goroutine.
func (r *ScoreRecord) Clone() *ScoreRecord {
	cp := *r
	cp.CriteriaScores = make(map[string]float64, len(r.CriteriaScores))
	for k, v := range r.CriteriaScores {
		cp.CriteriaScores[k] = v
	}
	cp.CriteriaUpdated = make(map[string]int64, len(r.CriteriaUpdated))
	for k, v := range r.CriteriaUpdated {
		cp.CriteriaUpdated[k] = v
	}
	if r.SubmittedAt != nil {
		t := *r.SubmittedAt
		cp.SubmittedAt = &t
	}
	return &cp
}

// ----------------------- rubric model -----------------------

// Criterion is one scored line-item from a category's rubric.
type Criterion struct {
	ID  string  `json:"criteriaId"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ----------------------- conflict model -----------------------

// JudgeTotal pairs a judge with their submitted total.
type JudgeTotal struct {
	JudgeID string  `json:"judgeId"`
	Total   float64 `json:"total"`
}

// ConflictReport is the outcome of comparing all submitted totals in a
// session. Recomputed on demand; never persisted beyond the audit trail.
type ConflictReport struct {
	SessionID  string       `json:"sessionId"`
	Totals     []JudgeTotal `json:"totals"`
	Mean       float64      `json:"mean"`
	Min        float64      `json:"min"`
	Max        float64      `json:"max"`
	Spread     float64      `json:"spread"`
	Consistent bool         `json:"consistent"`
}

// ----------------------- audit model -----------------------

// AuditEntry records an elevated or state-changing action for later review.
type AuditEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	ActorID   string    `json:"actorId"`
	Action    string    `json:"action"`
	JudgeID   string    `json:"judgeId,omitempty"` // judge whose record was touched
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
