package drhistory

import (
	"context"
	"errors"

	"github.com/interpool/backend/internal/db"
	"github.com/interpool/backend/internal/models"
)

type store interface {
	LastGlobalDRAssignment(ctx context.Context) (models.DRAssignmentRef, error)
	CountDRAssignments(ctx context.Context, empCode string, windowDays int) (int, error)
}

// Tracker answers DR fairness questions from committed bookings only. Pool
// entries are never counted; an assignment exists once it is durably written.
type Tracker struct {
	store store
}

func NewTracker(s store) *Tracker {
	return &Tracker{store: s}
}

// LastGlobalDRAssignment returns the most recent committed DR assignment, or
// nil when no DR meeting has ever been assigned.
func (t *Tracker) LastGlobalDRAssignment(ctx context.Context) (*models.DRAssignmentRef, error) {
	ref, err := t.store.LastGlobalDRAssignment(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// CountInWindow counts an interpreter's committed DR assignments inside the
// trailing fairness window.
func (t *Tracker) CountInWindow(ctx context.Context, empCode string, windowDays int) (int, error) {
	return t.store.CountDRAssignments(ctx, empCode, windowDays)
}

// IsConsecutiveGlobal reports whether the interpreter holds the most recent
// DR assignment globally, the trigger for consecutive-DR penalties.
func (t *Tracker) IsConsecutiveGlobal(ctx context.Context, empCode string) (bool, error) {
	last, err := t.LastGlobalDRAssignment(ctx)
	if err != nil {
		return false, err
	}
	return last != nil && last.InterpreterEmpCode == empCode, nil
}
