// Package services - rubric lookup and score bounds validation.
// File: services/rubric.go
package services

import (
	"errors"
	"fmt"
	"sync"

	"go-score-hub/logger"
	"go-score-hub/models"
	"go-score-hub/store"
)

// ErrUnknownCriterion is returned when a score targets a criterion the
// category's rubric does not define.
var ErrUnknownCriterion = errors.New("unknown criterion")

// ErrScoreOutOfRange is returned when a score falls outside a criterion's
// rubric bounds.
var ErrScoreOutOfRange = errors.New("score out of range")

// RubricService answers "what criteria does this category have, and is this
// score legal for that criterion".
type RubricService interface {
	GetCriteria(categoryID string) ([]models.Criterion, error)
	// ValidateScore checks criteriaID exists in the category and the score is
	// within its bounds.
	ValidateScore(categoryID, criteriaID string, score float64) error
	// MaxPossible is the sum of every criterion's max, used by the
	// percent-based conflict tolerance.
	MaxPossible(categoryID string) (float64, error)
}

// StoreRubricService serves rubrics from the rubric table, with a small
// read-through cache since rubrics change rarely during a competition.
type StoreRubricService struct {
	store store.RubricStore

	mu    sync.Mutex
	cache map[string][]models.Criterion
}

// NewRubricService creates a rubric service backed by the given store.
func NewRubricService(s store.RubricStore) *StoreRubricService {
	return &StoreRubricService{
		store: s,
		cache: make(map[string][]models.Criterion),
	}
}

// GetCriteria returns the criteria for a category.
func (r *StoreRubricService) GetCriteria(categoryID string) ([]models.Criterion, error) {
	r.mu.Lock()
	if cached, ok := r.cache[categoryID]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	criteria, err := r.store.GetCriteria(categoryID)
	if err != nil {
		return nil, fmt.Errorf("load rubric for category %s: %w", categoryID, err)
	}

	r.mu.Lock()
	r.cache[categoryID] = criteria
	r.mu.Unlock()
	logger.Debug.Printf("[RubricService] cached %d criteria for category=%s", len(criteria), categoryID)
	return criteria, nil
}

// ValidateScore checks the criterion exists and the score is within bounds.
func (r *StoreRubricService) ValidateScore(categoryID, criteriaID string, score float64) error {
	criteria, err := r.GetCriteria(categoryID)
	if err != nil {
		return err
	}
	for _, c := range criteria {
		if c.ID != criteriaID {
			continue
		}
		if score < c.Min || score > c.Max {
			return fmt.Errorf("%w: criterion %s accepts %.1f-%.1f, got %.1f",
				ErrScoreOutOfRange, criteriaID, c.Min, c.Max, score)
		}
		return nil
	}
	return fmt.Errorf("%w: %s in category %s", ErrUnknownCriterion, criteriaID, categoryID)
}

// MaxPossible sums every criterion's max for the category.
func (r *StoreRubricService) MaxPossible(categoryID string) (float64, error) {
	criteria, err := r.GetCriteria(categoryID)
	if err != nil {
		return 0, err
	}
	var max float64
	for _, c := range criteria {
		max += c.Max
	}
	return max, nil
}

// InvalidateCache drops the cached rubric for a category, e.g. after an admin
// edits it mid-competition.
func (r *StoreRubricService) InvalidateCache(categoryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, categoryID)
}
