// Package store - in-memory ScoreStore used in tests and DB-less deployments.
// File: store/memory.go
package store

import (
	"sort"
	"sync"
	"time"

	"go-score-hub/models"
)

// MemoryStore is a ScoreStore and RubricStore backed by maps. Safe for
// concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.ScoreRecord // key: sessionID + "/" + judgeID
	audits  map[string][]models.AuditEntry // key: sessionID
	rubrics map[string][]models.Criterion  // key: categoryID
	nextID  int64

	// FailSaves makes every Save return an error; lets tests exercise the
	// withheld-acknowledgment path.
	FailSaves bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.ScoreRecord),
		audits:  make(map[string][]models.AuditEntry),
		rubrics: make(map[string][]models.Criterion),
	}
}

func key(sessionID, judgeID string) string { return sessionID + "/" + judgeID }

// Save stores a deep copy of the record.
func (m *MemoryStore) Save(rec *models.ScoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return ErrUnavailable
	}
	m.records[key(rec.SessionID, rec.JudgeID)] = rec.Clone()
	return nil
}

// Load returns a deep copy, or ErrNotFound.
func (m *MemoryStore) Load(sessionID, judgeID string) (*models.ScoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key(sessionID, judgeID)]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// ListSubmitted returns submitted/validated records for the session.
func (m *MemoryStore) ListSubmitted(sessionID string) ([]*models.ScoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ScoreRecord
	for _, rec := range m.records {
		if rec.SessionID != sessionID {
			continue
		}
		if rec.Status == models.RecordSubmitted || rec.Status == models.RecordValidated {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JudgeID < out[j].JudgeID })
	return out, nil
}

// MarkValidated promotes submitted records to validated.
func (m *MemoryStore) MarkValidated(sessionID string, judgeIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, judgeID := range judgeIDs {
		if rec, ok := m.records[key(sessionID, judgeID)]; ok && rec.Status == models.RecordSubmitted {
			rec.Status = models.RecordValidated
		}
	}
	return nil
}

// AppendAudit records an audit entry.
func (m *MemoryStore) AppendAudit(entry models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.audits[entry.SessionID] = append(m.audits[entry.SessionID], entry)
	return nil
}

// ListAudit returns a session's audit trail, oldest first.
func (m *MemoryStore) ListAudit(sessionID string) ([]models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditEntry, len(m.audits[sessionID]))
	copy(out, m.audits[sessionID])
	return out, nil
}

// GetCriteria returns the rubric criteria for a category.
func (m *MemoryStore) GetCriteria(categoryID string) ([]models.Criterion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Criterion, len(m.rubrics[categoryID]))
	copy(out, m.rubrics[categoryID])
	return out, nil
}

// PutCriteria replaces the rubric for a category.
func (m *MemoryStore) PutCriteria(categoryID string, criteria []models.Criterion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]models.Criterion, len(criteria))
	copy(cp, criteria)
	m.rubrics[categoryID] = cp
	return nil
}
