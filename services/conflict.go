// Package services holds the scoring domain services consumed by the
// real-time coordinator.
// File: services/conflict.go
package services

import (
	"go-score-hub/models"
)

// Tolerance is the cross-judge agreement policy. It is always supplied by the
// caller; the evaluator never assumes a default.
type Tolerance struct {
	// Points is the maximum acceptable spread (max - min) in absolute points.
	Points float64
	// Percent, when > 0, additionally bounds the spread at Percent% of
	// MaxPossible. The stricter of the two thresholds wins.
	Percent     float64
	MaxPossible float64
}

// effective returns the spread threshold the policy actually enforces.
func (t Tolerance) effective() float64 {
	limit := t.Points
	if t.Percent > 0 && t.MaxPossible > 0 {
		pct := t.MaxPossible * t.Percent / 100
		if pct < limit {
			limit = pct
		}
	}
	return limit
}

// EvaluateConflict computes agreement statistics across the submitted totals
// of one session. Pure function: same inputs, same verdict, no I/O.
//
// Fewer than two totals can never disagree, so the report is trivially
// consistent (and mean/min/max reflect the single total when there is one).
func EvaluateConflict(sessionID string, totals []models.JudgeTotal, tol Tolerance) models.ConflictReport {
	report := models.ConflictReport{
		SessionID:  sessionID,
		Totals:     totals,
		Consistent: true,
	}
	if len(totals) == 0 {
		return report
	}

	report.Min = totals[0].Total
	report.Max = totals[0].Total
	var sum float64
	for _, t := range totals {
		sum += t.Total
		if t.Total < report.Min {
			report.Min = t.Total
		}
		if t.Total > report.Max {
			report.Max = t.Total
		}
	}
	report.Mean = sum / float64(len(totals))
	report.Spread = report.Max - report.Min

	if len(totals) >= 2 {
		report.Consistent = report.Spread <= tol.effective()
	}
	return report
}
