// Package websocket provides the real-time scoring coordinator: the WebSocket
// server, session registry and wire protocol for live judge scoring.
// File: websocket/messages.go
package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"go-score-hub/models"
)

// Inbound message kinds (client -> server).
const (
	KindScoreUpdate = "score_update"
	KindSubmit      = "submit"
	KindHeartbeat   = "heartbeat"
)

// Outbound message kinds (server -> client).
const (
	KindInitialState     = "initial_state"
	KindScoreConfirmed   = "score_confirmed"
	KindConflictDetected = "conflict_detected"
	KindSessionStatus    = "session_status"
	KindError            = "error"
)

// ErrUnknownKind rejects messages whose kind the protocol does not define.
var ErrUnknownKind = errors.New("unknown message kind")

var validate = validator.New()

// envelope is the minimal shape read to pick the concrete message type.
type envelope struct {
	Kind string `json:"kind"`
}

// ----------------------- inbound messages -----------------------

// ScoreUpdateMessage updates a single criterion score. Sent on user input and
// on the client's auto-save cadence; handling is idempotent either way.
type ScoreUpdateMessage struct {
	Kind       string  `json:"kind"`
	SessionID  string  `json:"session_id" validate:"required"`
	TeamID     string  `json:"team_id"`
	JudgeID    string  `json:"judge_id" validate:"required"`
	CriteriaID string  `json:"criteria_id" validate:"required"`
	Score      float64 `json:"score" validate:"gte=0"`
	// Timestamp is the client clock in unix millis; stale updates (older than
	// the last accepted one for the criterion) are dropped.
	Timestamp int64 `json:"timestamp" validate:"gte=0"`
}

// SubmitMessage finalizes the sending judge's record for the session.
type SubmitMessage struct {
	Kind            string             `json:"kind"`
	SessionID       string             `json:"session_id" validate:"required"`
	CriteriaScores  map[string]float64 `json:"criteria_scores" validate:"required,min=1"`
	JudgeNotes      string             `json:"judge_notes" validate:"max=4000"`
	DurationMinutes int                `json:"duration_minutes" validate:"gte=0"`
}

// HeartbeatMessage refreshes connection liveness. No fields, no broadcast.
type HeartbeatMessage struct {
	Kind string `json:"kind"`
}

// DecodeInbound parses and validates a client message, returning one of
// *ScoreUpdateMessage, *SubmitMessage or *HeartbeatMessage.
func DecodeInbound(data []byte) (interface{}, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	switch env.Kind {
	case KindScoreUpdate:
		var m ScoreUpdateMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Kind, err)
		}
		if err := validate.Struct(&m); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", env.Kind, err)
		}
		return &m, nil
	case KindSubmit:
		var m SubmitMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", env.Kind, err)
		}
		if err := validate.Struct(&m); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", env.Kind, err)
		}
		return &m, nil
	case KindHeartbeat:
		return &HeartbeatMessage{Kind: KindHeartbeat}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
}

// ----------------------- outbound messages -----------------------

// InitialStateMessage replays a judge's persisted draft so a (re)connecting
// client resumes exactly where the last acknowledged update left off.
type InitialStateMessage struct {
	Kind            string               `json:"kind"`
	SessionID       string               `json:"session_id"`
	SessionStatus   models.SessionStatus `json:"session_status"`
	RecordStatus    models.RecordStatus  `json:"record_status"`
	CriteriaScores  map[string]float64   `json:"criteria_scores"`
	Notes           string               `json:"notes,omitempty"`
	ConnectedJudges int                  `json:"connected_judges"`
}

// ScoreConfirmedMessage echoes an accepted update back to its sender. Until a
// client sees this, the update is not durable and must be retried.
type ScoreConfirmedMessage struct {
	Kind       string  `json:"kind"`
	SessionID  string  `json:"session_id"`
	JudgeID    string  `json:"judge_id"`
	CriteriaID string  `json:"criteria_id"`
	Score      float64 `json:"score"`
	Timestamp  int64   `json:"timestamp"`
}

// ConflictDetectedMessage carries the full score spread to every session
// member when submitted totals disagree beyond tolerance.
type ConflictDetectedMessage struct {
	Kind      string              `json:"kind"`
	SessionID string              `json:"session_id"`
	Totals    []models.JudgeTotal `json:"totals"`
	Mean      float64             `json:"mean"`
	Min       float64             `json:"min"`
	Max       float64             `json:"max"`
	Spread    float64             `json:"spread"`
}

// SessionStatusMessage reports session progress to all members.
type SessionStatusMessage struct {
	Kind            string               `json:"kind"`
	SessionID       string               `json:"session_id"`
	Status          models.SessionStatus `json:"status"`
	ConnectedJudges int                  `json:"connected_judges"`
	SubmittedCount  int                  `json:"submitted_count"`
	RequiredJudges  int                  `json:"required_judges"`
}

// ErrorMessage names the violated constraint. Retryable errors (e.g. a busy
// session lock) may be resent as-is after a backoff.
type ErrorMessage struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Constraint string `json:"constraint"`
	Retryable  bool   `json:"retryable,omitempty"`
}

// Constraint names carried on ErrorMessage.
const (
	ConstraintMalformed        = "malformed_message"
	ConstraintUnknownKind      = "unknown_kind"
	ConstraintUnknownCriterion = "unknown_criterion"
	ConstraintScoreOutOfRange  = "score_out_of_range"
	ConstraintIncomplete       = "submit_incomplete"
	ConstraintWrongSession     = "unauthorized_session"
	ConstraintAlreadySubmitted = "already_submitted"
	ConstraintObserverReadOnly = "observer_read_only"
	ConstraintSessionBusy      = "session_busy"
	ConstraintSessionClosed    = "session_closed"
)

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// all outbound types marshal cleanly; this guards programmer error
		panic(fmt.Sprintf("marshal outbound message: %v", err))
	}
	return b
}
