package engine

import (
	"context"
	"fmt"

	"github.com/interpool/backend/internal/models"
)

// Suggest returns ranked candidates for a booking with score breakdowns, for
// the manual-override surface. It shares the tick's scoring path but commits
// nothing; blocked candidates are included, flagged, after the eligible ones.
func (e *Engine) Suggest(ctx context.Context, bookingID int64, limit int) ([]models.Suggestion, error) {
	booking, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.InterpreterEmpCode != nil {
		return nil, fmt.Errorf("booking %d already assigned", bookingID)
	}

	pol, err := e.policies.Load(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()

	cands, err := e.buildCandidates(ctx, pol, booking.StartAt, booking.EndAt, booking.MeetingType, now)
	if err != nil {
		return nil, err
	}

	entry := models.PoolEntry{
		BookingID:   booking.ID,
		MeetingType: booking.MeetingType,
		StartAt:     booking.StartAt,
		EndAt:       booking.EndAt,
		Mode:        pol.Mode,
	}
	eligible, excluded := Rank(cands, scoreInputFor(pol, entry, now, false))

	if booking.MeetingType == models.MeetingDR {
		for i := range eligible {
			n, err := e.history.CountInWindow(ctx, eligible[i].EmpCode, pol.FairnessWindowDays)
			if err != nil {
				return nil, err
			}
			eligible[i].DRCountWindow = n
		}
	}

	out := make([]models.Suggestion, 0, len(eligible)+len(excluded))
	for _, s := range eligible {
		out = append(out, toSuggestion(s, false))
	}
	for _, s := range excluded {
		out = append(out, toSuggestion(s, true))
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func toSuggestion(s Scored, blocked bool) models.Suggestion {
	return models.Suggestion{
		EmpCode:       s.EmpCode,
		Score:         s.Score,
		HoursInWindow: s.HoursInWindow,
		Blocked:       blocked,
		Reasoning: map[string]any{
			"fairness_score":   s.Fairness,
			"urgency_score":    s.Urgency,
			"dr_penalty":       s.DRPenalty,
			"consecutive_dr":   s.ConsecutiveDR,
			"dr_count_window":  s.DRCountWindow,
			"override_applied": s.OverrideApplied,
			"fairness_factor":  s.FairnessFactor,
		},
	}
}
