// file: store/sqlite_test.go
package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-score-hub/models"
)

func newTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	rec := &models.ScoreRecord{
		SessionID:       "s1",
		JudgeID:         "j1",
		CriteriaScores:  map[string]float64{"design": 8, "teamwork": 7},
		CriteriaUpdated: map[string]int64{"design": 100, "teamwork": 200},
		Notes:           "solid build",
		Status:          models.RecordSubmitted,
		DurationMinutes: 12,
		SubmittedAt:     &now,
	}
	require.NoError(t, s.Save(rec))

	got, err := s.Load("s1", "j1")
	require.NoError(t, err)
	assert.Equal(t, rec.CriteriaScores, got.CriteriaScores)
	assert.Equal(t, rec.CriteriaUpdated, got.CriteriaUpdated)
	assert.Equal(t, models.RecordSubmitted, got.Status)
	assert.Equal(t, "solid build", got.Notes)
	assert.Equal(t, 12, got.DurationMinutes)
	require.NotNil(t, got.SubmittedAt)
	assert.Equal(t, 15.0, got.Total())
}

func TestSQLiteStore_LoadMissing(t *testing.T) {
	s := newTestDB(t)
	_, err := s.Load("s1", "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

// Saving again replaces the criterion set wholesale.
func TestSQLiteStore_SaveIsUpsert(t *testing.T) {
	s := newTestDB(t)
	rec := &models.ScoreRecord{
		SessionID:       "s1",
		JudgeID:         "j1",
		CriteriaScores:  map[string]float64{"design": 3},
		CriteriaUpdated: map[string]int64{"design": 1},
		Status:          models.RecordDraft,
	}
	require.NoError(t, s.Save(rec))

	rec.CriteriaScores = map[string]float64{"design": 9}
	rec.CriteriaUpdated = map[string]int64{"design": 2}
	rec.Status = models.RecordInProgress
	require.NoError(t, s.Save(rec))

	got, err := s.Load("s1", "j1")
	require.NoError(t, err)
	assert.Equal(t, 9.0, got.CriteriaScores["design"])
	assert.Equal(t, models.RecordInProgress, got.Status)
	assert.Len(t, got.CriteriaScores, 1)
}

func TestSQLiteStore_ListSubmittedAndMarkValidated(t *testing.T) {
	s := newTestDB(t)
	now := time.Now().UTC()
	for _, j := range []string{"j1", "j2"} {
		rec := &models.ScoreRecord{
			SessionID:       "s1",
			JudgeID:         j,
			CriteriaScores:  map[string]float64{"design": 5},
			CriteriaUpdated: map[string]int64{"design": 1},
			Status:          models.RecordSubmitted,
			SubmittedAt:     &now,
		}
		require.NoError(t, s.Save(rec))
	}
	require.NoError(t, s.Save(&models.ScoreRecord{
		SessionID:       "s1",
		JudgeID:         "j3",
		CriteriaScores:  map[string]float64{"design": 5},
		CriteriaUpdated: map[string]int64{"design": 1},
		Status:          models.RecordInProgress,
	}))

	submitted, err := s.ListSubmitted("s1")
	require.NoError(t, err)
	assert.Len(t, submitted, 2)

	require.NoError(t, s.MarkValidated("s1", []string{"j1", "j2"}))
	got, err := s.Load("s1", "j1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordValidated, got.Status)

	// validated records still count as submitted for conflict evaluation
	submitted, err = s.ListSubmitted("s1")
	require.NoError(t, err)
	assert.Len(t, submitted, 2)
}

func TestSQLiteStore_Audit(t *testing.T) {
	s := newTestDB(t)
	require.NoError(t, s.AppendAudit(models.AuditEntry{
		SessionID: "s1", ActorID: "hj", Action: "conflict_override", Detail: "spread accepted",
	}))
	entries, err := s.ListAudit("s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "conflict_override", entries[0].Action)
	assert.Equal(t, "hj", entries[0].ActorID)
}

func TestSQLiteStore_Rubric(t *testing.T) {
	s := newTestDB(t)
	in := []models.Criterion{
		{ID: "design", Min: 0, Max: 10},
		{ID: "teamwork", Min: 0, Max: 5},
	}
	require.NoError(t, s.PutCriteria("robotics", in))

	got, err := s.GetCriteria("robotics")
	require.NoError(t, err)
	assert.Equal(t, in, got)

	got, err = s.GetCriteria("unknown-category")
	require.NoError(t, err)
	assert.Empty(t, got)
}
