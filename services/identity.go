// Package services - judge identity and authorization checks.
// File: services/identity.go
package services

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"go-score-hub/logger"
	"go-score-hub/models"
)

// ErrUnauthorized is returned for a bad token, an unknown judge, or a judge
// connecting to a session they are not assigned to.
var ErrUnauthorized = errors.New("unauthorized")

// IdentityService validates connection tokens and answers authorization
// policy questions. The coordinator never trusts a client-asserted identity
// without going through this check.
type IdentityService interface {
	// Validate checks the token belongs to judgeID and permits sessionID,
	// returning the caller's role.
	Validate(token, sessionID, judgeID string) (models.Role, error)
	// CanResolveConflicts reports whether this caller may force a conflicted
	// session to validated ("submit anyway"). Policy hook; the default
	// implementation requires the head-judge role.
	CanResolveConflicts(judgeID string, role models.Role) bool
	// CanAmendSubmitted reports whether this caller may edit an already
	// submitted record. Audited, elevated action.
	CanAmendSubmitted(judgeID string, role models.Role) bool
}

type credential struct {
	tokenHash []byte
	role      models.Role
	// sessions the judge may join; empty means any session.
	sessions map[string]bool
}

// TokenIdentityService is the default IdentityService: per-judge bcrypt token
// hashes registered at startup (e.g. from the competition admin system).
type TokenIdentityService struct {
	mu    sync.Mutex
	creds map[string]credential
}

// NewTokenIdentityService returns an empty identity service.
func NewTokenIdentityService() *TokenIdentityService {
	return &TokenIdentityService{creds: make(map[string]credential)}
}

// Register stores a judge's token (bcrypt-hashed) with a role and an optional
// session allow-list.
func (s *TokenIdentityService) Register(judgeID, token string, role models.Role, sessionIDs ...string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	allowed := make(map[string]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		allowed[id] = true
	}
	s.mu.Lock()
	s.creds[judgeID] = credential{tokenHash: hash, role: role, sessions: allowed}
	s.mu.Unlock()
	logger.Info.Printf("[IdentityService] registered judge=%s role=%s sessions=%d", judgeID, role, len(sessionIDs))
	return nil
}

// Validate checks the token against the judge's registered hash and session
// allow-list.
func (s *TokenIdentityService) Validate(token, sessionID, judgeID string) (models.Role, error) {
	s.mu.Lock()
	cred, ok := s.creds[judgeID]
	s.mu.Unlock()
	if !ok {
		logger.Warn.Printf("[IdentityService] unknown judge=%s", judgeID)
		return "", ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(cred.tokenHash, []byte(token)); err != nil {
		logger.Warn.Printf("[IdentityService] bad token for judge=%s", judgeID)
		return "", ErrUnauthorized
	}
	if len(cred.sessions) > 0 && !cred.sessions[sessionID] {
		logger.Warn.Printf("[IdentityService] judge=%s not assigned to session=%s", judgeID, sessionID)
		return "", ErrUnauthorized
	}
	return cred.role, nil
}

// CanResolveConflicts requires the head-judge role.
func (s *TokenIdentityService) CanResolveConflicts(_ string, role models.Role) bool {
	return role == models.RoleHeadJudge
}

// CanAmendSubmitted requires the head-judge role.
func (s *TokenIdentityService) CanAmendSubmitted(_ string, role models.Role) bool {
	return role == models.RoleHeadJudge
}
