package engine

import (
	"sort"
	"time"

	"github.com/interpool/backend/internal/models"
	"github.com/interpool/backend/internal/policy"
)

// Scored is a candidate with its computed score. Blocked candidates are
// excluded from the eligible ranking; OverrideApplied marks a lifted block.
type Scored struct {
	models.InterpreterCandidate
	Score           float64
	Fairness        float64
	Urgency         float64
	DRPenalty       float64
	Blocked         bool
	OverrideApplied bool
}

// ScoreInput is the per-booking context for one ranking pass, pinned to the
// policy snapshot taken at the start of the tick.
type ScoreInput struct {
	Policy models.AssignmentPolicy
	Rule   policy.DRRule
	Now    time.Time
	Start  time.Time
	IsDR   bool
	// CriticalCoverage lifts a hard DR block when no alternative exists.
	CriticalCoverage bool
}

// FairnessScore favors the least-loaded interpreter: 1 at zero hours, 0 at
// the heaviest load in the pass.
func FairnessScore(hours, maxHours float64) float64 {
	if maxHours <= 0 {
		return 1
	}
	return clamp01(1 - hours/maxHours)
}

// UrgencyScore grows linearly as the booking start approaches, reaching 1 at
// or past the start. horizonDays bounds the ramp; bookings further out score 0.
func UrgencyScore(now, start time.Time, horizonDays int) float64 {
	if horizonDays < 1 {
		horizonDays = 1
	}
	until := start.Sub(now)
	if until <= 0 {
		return 1
	}
	horizon := time.Duration(horizonDays) * 24 * time.Hour
	return clamp01(1 - float64(until)/float64(horizon))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Rank scores the candidates and returns (eligible, excluded), both sorted by
// score descending with ties broken by lower hours then interpreter id. A
// hard-blocked candidate moves to excluded unless the emergency override
// applies: critical coverage with no alternative lifts the block.
func Rank(cands []models.InterpreterCandidate, in ScoreInput) (eligible, excluded []Scored) {
	maxHours := 0.0
	for _, c := range cands {
		if c.HoursInWindow > maxHours {
			maxHours = c.HoursInWindow
		}
	}
	urgency := UrgencyScore(in.Now, in.Start, in.Policy.GeneralThresholdDays)

	for _, c := range cands {
		factor := c.FairnessFactor
		if factor <= 0 {
			factor = 1
		}
		s := Scored{
			InterpreterCandidate: c,
			Fairness:             FairnessScore(c.HoursInWindow, maxHours) * factor,
			Urgency:              urgency,
		}
		s.Score = in.Policy.FairnessWeight*s.Fairness + in.Policy.UrgencyWeight*s.Urgency
		if in.IsDR && c.ConsecutiveDR {
			if in.Rule.Forbid {
				s.Blocked = true
			} else {
				s.DRPenalty = in.Rule.Penalty
				s.Score += in.Rule.Penalty
			}
		}
		if s.Blocked {
			excluded = append(excluded, s)
		} else {
			eligible = append(eligible, s)
		}
	}

	if len(eligible) == 0 && in.CriticalCoverage && len(excluded) > 0 {
		for i := range excluded {
			excluded[i].Blocked = false
			excluded[i].OverrideApplied = true
		}
		eligible, excluded = excluded, nil
	}

	sortScored(eligible)
	sortScored(excluded)
	return eligible, excluded
}

func sortScored(s []Scored) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		if s[i].HoursInWindow != s[j].HoursInWindow {
			return s[i].HoursInWindow < s[j].HoursInWindow
		}
		return s[i].EmpCode < s[j].EmpCode
	})
}
