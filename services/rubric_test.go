// file: services/rubric_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-score-hub/models"
	"go-score-hub/store"
)

func newTestRubric(t *testing.T) *StoreRubricService {
	t.Helper()
	mem := store.NewMemoryStore()
	require.NoError(t, mem.PutCriteria("robotics", []models.Criterion{
		{ID: "design", Min: 0, Max: 10},
		{ID: "teamwork", Min: 0, Max: 10},
	}))
	return NewRubricService(mem)
}

func TestValidateScore_WithinBounds(t *testing.T) {
	svc := newTestRubric(t)
	assert.NoError(t, svc.ValidateScore("robotics", "design", 8))
	assert.NoError(t, svc.ValidateScore("robotics", "design", 0))
	assert.NoError(t, svc.ValidateScore("robotics", "design", 10))
}

func TestValidateScore_OutOfRange(t *testing.T) {
	svc := newTestRubric(t)
	err := svc.ValidateScore("robotics", "design", 11)
	assert.ErrorIs(t, err, ErrScoreOutOfRange)

	err = svc.ValidateScore("robotics", "design", -1)
	assert.ErrorIs(t, err, ErrScoreOutOfRange)
}

func TestValidateScore_UnknownCriterion(t *testing.T) {
	svc := newTestRubric(t)
	err := svc.ValidateScore("robotics", "flair", 5)
	assert.ErrorIs(t, err, ErrUnknownCriterion)
}

func TestMaxPossible_SumsCriterionMaxima(t *testing.T) {
	svc := newTestRubric(t)
	max, err := svc.MaxPossible("robotics")
	require.NoError(t, err)
	assert.Equal(t, 20.0, max)
}

// Rubric edits become visible after the cache is invalidated.
func TestInvalidateCache_PicksUpRubricChanges(t *testing.T) {
	mem := store.NewMemoryStore()
	require.NoError(t, mem.PutCriteria("robotics", []models.Criterion{{ID: "design", Min: 0, Max: 10}}))
	svc := NewRubricService(mem)

	criteria, err := svc.GetCriteria("robotics")
	require.NoError(t, err)
	assert.Len(t, criteria, 1)

	require.NoError(t, mem.PutCriteria("robotics", []models.Criterion{
		{ID: "design", Min: 0, Max: 10},
		{ID: "presentation", Min: 0, Max: 5},
	}))

	// stale until invalidated
	criteria, err = svc.GetCriteria("robotics")
	require.NoError(t, err)
	assert.Len(t, criteria, 1)

	svc.InvalidateCache("robotics")
	criteria, err = svc.GetCriteria("robotics")
	require.NoError(t, err)
	assert.Len(t, criteria, 2)
}
