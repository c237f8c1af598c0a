// Package websocket - in-memory session registry.
// File: websocket/registry.go
package websocket

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go-score-hub/logger"
	"go-score-hub/models"
)

// Registry errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session busy, retry")
	ErrDuplicateActive = errors.New("another session is already active for this team")
	ErrSessionClosed   = errors.New("session is completed or cancelled")
)

// sessionEntry is one session's live state: metadata plus the connections
// currently attached. The lock channel is a one-slot semaphore so mutations
// can be acquired with a bounded wait.
type sessionEntry struct {
	mu      sync.Mutex
	session models.ScoringSession
	conns   map[string]*Connection // judgeID -> live connection
	lock    chan struct{}
}

// SessionSnapshot is a read-only view for introspection endpoints.
type SessionSnapshot struct {
	Session         models.ScoringSession `json:"session"`
	ConnectedJudges []string              `json:"connectedJudges"`
}

// SessionRegistry indexes sessionID -> live session state. It is never
// persisted: on restart it is rebuilt empty, sessions resume from the score
// store, and clients re-establish their connections.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	// activeByTeam enforces at most one active session per (competition, team).
	activeByTeam map[string]string
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions:     make(map[string]*sessionEntry),
		activeByTeam: make(map[string]string),
	}
}

func teamKey(competitionID, teamID string) string { return competitionID + "/" + teamID }

// Register adds a session in the scheduled state. Called when the external
// scheduler slots a team for judging.
func (r *SessionRegistry) Register(sess models.ScoringSession) error {
	if sess.ID == "" {
		return fmt.Errorf("session ID required")
	}
	if sess.Status == "" {
		sess.Status = models.SessionScheduled
	}
	if sess.RequiredJudges <= 0 {
		sess.RequiredJudges = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already registered", sess.ID)
	}
	r.sessions[sess.ID] = &sessionEntry{
		session: sess,
		conns:   make(map[string]*Connection),
		lock:    make(chan struct{}, 1),
	}
	logger.Info.Printf("[Registry] registered session=%s team=%s category=%s required=%d",
		sess.ID, sess.TeamID, sess.CategoryID, sess.RequiredJudges)
	return nil
}

func (r *SessionRegistry) entry(sessionID string) (*sessionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// Lookup returns a copy of the session metadata.
func (r *SessionRegistry) Lookup(sessionID string) (models.ScoringSession, error) {
	e, err := r.entry(sessionID)
	if err != nil {
		return models.ScoringSession{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, nil
}

// Activate transitions a scheduled session to active on first judge
// connection, enforcing the one-active-session-per-team invariant.
func (r *SessionRegistry) Activate(sessionID string) (models.ScoringSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return models.ScoringSession{}, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.session.Status {
	case models.SessionActive:
		return e.session, nil
	case models.SessionCompleted, models.SessionCancelled:
		return e.session, ErrSessionClosed
	}
	key := teamKey(e.session.CompetitionID, e.session.TeamID)
	if other, busy := r.activeByTeam[key]; busy && other != sessionID {
		return e.session, fmt.Errorf("%w (session %s)", ErrDuplicateActive, other)
	}
	r.activeByTeam[key] = sessionID
	e.session.Status = models.SessionActive
	if e.session.StartedAt.IsZero() {
		e.session.StartedAt = time.Now()
	}
	logger.Info.Printf("[Registry] session=%s now active (team=%s)", sessionID, e.session.TeamID)
	return e.session, nil
}

// Complete soft-closes a session and releases its team slot. Sessions are
// never deleted.
func (r *SessionRegistry) Complete(sessionID string) error {
	return r.finish(sessionID, models.SessionCompleted)
}

// Cancel soft-closes a session without completing it.
func (r *SessionRegistry) Cancel(sessionID string) error {
	return r.finish(sessionID, models.SessionCancelled)
}

func (r *SessionRegistry) finish(sessionID string, status models.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	key := teamKey(e.session.CompetitionID, e.session.TeamID)
	if r.activeByTeam[key] == sessionID {
		delete(r.activeByTeam, key)
	}
	e.session.Status = status
	logger.Info.Printf("[Registry] session=%s -> %s", sessionID, status)
	return nil
}

// Join attaches a judge's connection, superseding any stale connection the
// same judge still holds (a reconnect replaces, never duplicates). Returns
// the replaced connection, if any.
func (r *SessionRegistry) Join(sessionID string, conn *Connection) (*Connection, error) {
	e, err := r.entry(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.conns[conn.JudgeID]
	e.conns[conn.JudgeID] = conn
	if old != nil {
		logger.Warn.Printf("[Registry] superseding stale connection for judge=%s session=%s", conn.JudgeID, sessionID)
	}
	return old, nil
}

// Leave detaches a connection. A later connection for the same judge is left
// untouched. The session stays active even with zero connections: scores
// persist, there are just no broadcast targets until someone rejoins.
func (r *SessionRegistry) Leave(sessionID string, conn *Connection) {
	e, err := r.entry(sessionID)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conns[conn.JudgeID] == conn {
		delete(e.conns, conn.JudgeID)
	}
}

// Connections returns the session's live connections.
func (r *SessionRegistry) Connections(sessionID string) []*Connection {
	e, err := r.entry(sessionID)
	if err != nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Connection, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c)
	}
	return out
}

// ConnectedJudgeCount counts live judge-role connections (observers excluded).
func (r *SessionRegistry) ConnectedJudgeCount(sessionID string) int {
	n := 0
	for _, c := range r.Connections(sessionID) {
		if c.Role == models.RoleJudge || c.Role == models.RoleHeadJudge {
			n++
		}
	}
	return n
}

// AllActiveSessions returns a snapshot of every active session for
// operational introspection.
func (r *SessionRegistry) AllActiveSessions() []SessionSnapshot {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var out []SessionSnapshot
	for _, e := range entries {
		e.mu.Lock()
		if e.session.Status == models.SessionActive {
			snap := SessionSnapshot{Session: e.session}
			for judgeID := range e.conns {
				snap.ConnectedJudges = append(snap.ConnectedJudges, judgeID)
			}
			out = append(out, snap)
		}
		e.mu.Unlock()
	}
	return out
}

// Acquire takes the session's mutation lock, waiting at most timeout. The
// returned release func must be called exactly once. Locks are strictly
// per-session: unrelated teams' judging never serializes.
func (r *SessionRegistry) Acquire(sessionID string, timeout time.Duration) (func(), error) {
	e, err := r.entry(sessionID)
	if err != nil {
		return nil, err
	}
	select {
	case e.lock <- struct{}{}:
		return func() { <-e.lock }, nil
	case <-time.After(timeout):
		return nil, ErrSessionBusy
	}
}
