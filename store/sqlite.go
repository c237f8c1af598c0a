// Package store - SQLite-backed ScoreStore.
// File: store/sqlite.go
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"go-score-hub/models"
)

//go:embed schema.sql
var embeddedSchema embed.FS

// SQLiteStore persists score records, rubrics and the audit trail in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an existing handle (used by tests with :memory:).
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initSchema() error {
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return err
	}
	b, err := embeddedSchema.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.Exec(strings.TrimSpace(string(b)))
	return err
}

// Save upserts the record row and its criterion rows in one transaction, so a
// crash can never leave a status that disagrees with its criteria.
func (s *SQLiteStore) Save(rec *models.ScoreRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var submittedAt interface{}
	if rec.SubmittedAt != nil {
		submittedAt = rec.SubmittedAt.UTC()
	}
	_, err = tx.Exec(`
		INSERT INTO score_records(session_id, judge_id, status, notes, duration_minutes, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, judge_id) DO UPDATE SET
			status = excluded.status,
			notes = excluded.notes,
			duration_minutes = excluded.duration_minutes,
			submitted_at = excluded.submitted_at`,
		rec.SessionID, rec.JudgeID, string(rec.Status), rec.Notes, rec.DurationMinutes, submittedAt)
	if err != nil {
		return err
	}

	if _, err = tx.Exec(`DELETE FROM score_criteria WHERE session_id = ? AND judge_id = ?`,
		rec.SessionID, rec.JudgeID); err != nil {
		return err
	}
	for id, score := range rec.CriteriaScores {
		_, err = tx.Exec(`INSERT INTO score_criteria(session_id, judge_id, criteria_id, score, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			rec.SessionID, rec.JudgeID, id, score, rec.CriteriaUpdated[id])
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load returns the record for (sessionID, judgeID), or ErrNotFound.
func (s *SQLiteStore) Load(sessionID, judgeID string) (*models.ScoreRecord, error) {
	rec := &models.ScoreRecord{
		SessionID:       sessionID,
		JudgeID:         judgeID,
		CriteriaScores:  make(map[string]float64),
		CriteriaUpdated: make(map[string]int64),
	}
	var status string
	var submittedAt sql.NullTime
	err := s.db.QueryRow(`SELECT status, notes, duration_minutes, submitted_at
		FROM score_records WHERE session_id = ? AND judge_id = ?`,
		sessionID, judgeID).Scan(&status, &rec.Notes, &rec.DurationMinutes, &submittedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Status = models.RecordStatus(status)
	if submittedAt.Valid {
		t := submittedAt.Time
		rec.SubmittedAt = &t
	}

	rows, err := s.db.Query(`SELECT criteria_id, score, updated_at
		FROM score_criteria WHERE session_id = ? AND judge_id = ?`, sessionID, judgeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var score float64
		var updated int64
		if err := rows.Scan(&id, &score, &updated); err != nil {
			return nil, err
		}
		rec.CriteriaScores[id] = score
		rec.CriteriaUpdated[id] = updated
	}
	return rec, rows.Err()
}

// ListSubmitted returns every submitted or validated record in the session.
func (s *SQLiteStore) ListSubmitted(sessionID string) ([]*models.ScoreRecord, error) {
	rows, err := s.db.Query(`SELECT judge_id FROM score_records
		WHERE session_id = ? AND status IN ('submitted', 'validated') ORDER BY judge_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var judgeIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		judgeIDs = append(judgeIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records := make([]*models.ScoreRecord, 0, len(judgeIDs))
	for _, id := range judgeIDs {
		rec, err := s.Load(sessionID, id)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// MarkValidated promotes submitted records to validated for the given judges.
func (s *SQLiteStore) MarkValidated(sessionID string, judgeIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, judgeID := range judgeIDs {
		if _, err := tx.Exec(`UPDATE score_records SET status = 'validated'
			WHERE session_id = ? AND judge_id = ? AND status = 'submitted'`,
			sessionID, judgeID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AppendAudit writes one audit entry.
func (s *SQLiteStore) AppendAudit(entry models.AuditEntry) error {
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO audit_log(session_id, actor_id, action, judge_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.SessionID, entry.ActorID, entry.Action, entry.JudgeID, entry.Detail, created)
	return err
}

// ListAudit returns a session's audit trail, oldest first.
func (s *SQLiteStore) ListAudit(sessionID string) ([]models.AuditEntry, error) {
	rows, err := s.db.Query(`SELECT id, session_id, actor_id, action, judge_id, detail, created_at
		FROM audit_log WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ActorID, &e.Action, &e.JudgeID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetCriteria returns the rubric criteria for a category.
func (s *SQLiteStore) GetCriteria(categoryID string) ([]models.Criterion, error) {
	rows, err := s.db.Query(`SELECT criteria_id, min, max FROM rubric_criteria
		WHERE category_id = ? ORDER BY criteria_id`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var criteria []models.Criterion
	for rows.Next() {
		var c models.Criterion
		if err := rows.Scan(&c.ID, &c.Min, &c.Max); err != nil {
			return nil, err
		}
		criteria = append(criteria, c)
	}
	return criteria, rows.Err()
}

// PutCriteria replaces the rubric for a category.
func (s *SQLiteStore) PutCriteria(categoryID string, criteria []models.Criterion) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM rubric_criteria WHERE category_id = ?`, categoryID); err != nil {
		return err
	}
	for _, c := range criteria {
		if _, err := tx.Exec(`INSERT INTO rubric_criteria(category_id, criteria_id, min, max)
			VALUES (?, ?, ?, ?)`, categoryID, c.ID, c.Min, c.Max); err != nil {
			return err
		}
	}
	return tx.Commit()
}
