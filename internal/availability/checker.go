package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/interpool/backend/internal/models"
)

// Overlaps reports whether [s1,e1) and [s2,e2) intersect. Half-open, so a
// booking ending exactly when another starts does not conflict.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

type store interface {
	GetBooking(ctx context.Context, id int64) (models.Booking, error)
	GetConflictingBookings(ctx context.Context, empCode string, start, end time.Time) ([]models.Booking, error)
}

// Checker answers availability questions against committed bookings.
type Checker struct {
	store store
}

func NewChecker(s store) *Checker {
	return &Checker{store: s}
}

func (c *Checker) CheckInterpreterAvailability(ctx context.Context, empCode string, start, end time.Time) (bool, error) {
	conflicts, err := c.store.GetConflictingBookings(ctx, empCode, start, end)
	if err != nil {
		return false, err
	}
	return len(conflicts) == 0, nil
}

func (c *Checker) GetConflictingBookings(ctx context.Context, empCode string, start, end time.Time) ([]models.Booking, error) {
	return c.store.GetConflictingBookings(ctx, empCode, start, end)
}

// FilterAvailableInterpreters keeps the candidates with no committed booking
// overlapping the window, preserving input order.
func (c *Checker) FilterAvailableInterpreters(ctx context.Context, empCodes []string, start, end time.Time) ([]string, error) {
	out := make([]string, 0, len(empCodes))
	for _, code := range empCodes {
		free, err := c.CheckInterpreterAvailability(ctx, code, start, end)
		if err != nil {
			return nil, err
		}
		if free {
			out = append(out, code)
		}
	}
	return out, nil
}

type SafetyResult struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
}

// ValidateAssignmentSafety re-checks a prospective assignment just before
// commit, closing the window between scoring and writing.
func (c *Checker) ValidateAssignmentSafety(ctx context.Context, bookingID int64, empCode string) (SafetyResult, error) {
	booking, err := c.store.GetBooking(ctx, bookingID)
	if err != nil {
		return SafetyResult{}, err
	}
	if booking.Status == models.BookingCancel {
		return SafetyResult{Reason: "booking cancelled"}, nil
	}
	if booking.InterpreterEmpCode != nil {
		return SafetyResult{Reason: fmt.Sprintf("already assigned to %s", *booking.InterpreterEmpCode)}, nil
	}
	free, err := c.CheckInterpreterAvailability(ctx, empCode, booking.StartAt, booking.EndAt)
	if err != nil {
		return SafetyResult{}, err
	}
	if !free {
		return SafetyResult{Reason: "interpreter has a conflicting booking"}, nil
	}
	return SafetyResult{Safe: true}, nil
}
