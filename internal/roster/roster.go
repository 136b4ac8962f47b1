package roster

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/interpool/backend/internal/models"
)

type store interface {
	ListActiveInterpreters(ctx context.Context) ([]models.Interpreter, error)
	DeleteHistoryForRemovedInterpreters(ctx context.Context, currentRoster []string) (int64, error)
}

// Service handles roster churn: fairness damping for new interpreters and
// scoring-history cleanup for removed ones.
type Service struct {
	store  store
	logger zerolog.Logger
}

func NewService(s store, logger zerolog.Logger) *Service {
	return &Service{store: s, logger: logger}
}

// FairnessFactor scales an interpreter's fairness influence by tenure inside
// the fairness window. A just-joined interpreter has no history, so an
// undamped fairness score would hand them every assignment at once; the
// factor ramps linearly from 0 at the join date to 1 at the window edge.
func FairnessFactor(joinedAt, now time.Time, windowDays int) float64 {
	if windowDays < 1 {
		return 1
	}
	tenure := now.Sub(joinedAt)
	if tenure <= 0 {
		return 0
	}
	window := time.Duration(windowDays) * 24 * time.Hour
	if tenure >= window {
		return 1
	}
	return float64(tenure) / float64(window)
}

// AdjustFairnessForNewInterpreters applies the tenure damping to a candidate
// slice in place and returns how many candidates were damped.
func AdjustFairnessForNewInterpreters(cands []models.InterpreterCandidate, roster map[string]models.Interpreter, now time.Time, windowDays int) int {
	adjusted := 0
	for i := range cands {
		it, ok := roster[cands[i].EmpCode]
		if !ok {
			continue
		}
		factor := FairnessFactor(it.JoinedAt, now, windowDays)
		cands[i].FairnessFactor = factor
		if factor < 1 {
			adjusted++
		}
	}
	return adjusted
}

// CleanupRemovedInterpreters purges scoring history for interpreters no
// longer on the active roster. Committed bookings are untouched; the audit
// trail is never deleted, only excluded from live scoring.
func (s *Service) CleanupRemovedInterpreters(ctx context.Context) (int64, error) {
	interps, err := s.store.ListActiveInterpreters(ctx)
	if err != nil {
		return 0, err
	}
	current := make([]string, 0, len(interps))
	for _, it := range interps {
		current = append(current, it.EmpCode)
	}
	n, err := s.store.DeleteHistoryForRemovedInterpreters(ctx, current)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("purged", n).Msg("scoring history purged for removed interpreters")
	}
	return n, nil
}
