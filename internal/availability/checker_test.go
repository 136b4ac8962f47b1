package availability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/interpool/backend/internal/models"
)

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func at(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

func TestOverlapsHalfOpen(t *testing.T) {
	cases := []struct {
		name           string
		s1, e1, s2, e2 time.Time
		want           bool
	}{
		{"identical", at(0), at(2), at(0), at(2), true},
		{"partial overlap", at(0), at(2), at(1), at(3), true},
		{"contained", at(0), at(4), at(1), at(2), true},
		{"back to back", at(0), at(2), at(2), at(4), false},
		{"back to back reversed", at(2), at(4), at(0), at(2), false},
		{"disjoint", at(0), at(1), at(3), at(4), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Overlaps(tc.s1, tc.e1, tc.s2, tc.e2))
			require.Equal(t, tc.want, Overlaps(tc.s2, tc.e2, tc.s1, tc.e1), "overlap must be symmetric")
		})
	}
}

type fakeStore struct {
	bookings map[int64]models.Booking
	// committed assignments per interpreter
	committed map[string][]models.Booking
}

func (f *fakeStore) GetBooking(_ context.Context, id int64) (models.Booking, error) {
	return f.bookings[id], nil
}

func (f *fakeStore) GetConflictingBookings(_ context.Context, empCode string, start, end time.Time) ([]models.Booking, error) {
	var out []models.Booking
	for _, b := range f.committed[empCode] {
		if Overlaps(b.StartAt, b.EndAt, start, end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestFilterAvailableInterpreters(t *testing.T) {
	store := &fakeStore{committed: map[string][]models.Booking{
		"I001": {{StartAt: at(1), EndAt: at(3)}},
		"I002": {{StartAt: at(4), EndAt: at(6)}},
		"I003": nil,
	}}
	c := NewChecker(store)

	free, err := c.FilterAvailableInterpreters(context.Background(), []string{"I001", "I002", "I003"}, at(2), at(4))
	require.NoError(t, err)
	require.Equal(t, []string{"I002", "I003"}, free, "back-to-back I002 booking must not conflict")
}

func TestValidateAssignmentSafety(t *testing.T) {
	emp := "I009"
	store := &fakeStore{
		bookings: map[int64]models.Booking{
			1: {ID: 1, StartAt: at(0), EndAt: at(2), Status: models.BookingWaiting},
			2: {ID: 2, StartAt: at(0), EndAt: at(2), Status: models.BookingWaiting, InterpreterEmpCode: &emp},
			3: {ID: 3, StartAt: at(0), EndAt: at(2), Status: models.BookingCancel},
		},
		committed: map[string][]models.Booking{
			"I001": {{StartAt: at(1), EndAt: at(3)}},
		},
	}
	c := NewChecker(store)
	ctx := context.Background()

	res, err := c.ValidateAssignmentSafety(ctx, 1, "I002")
	require.NoError(t, err)
	require.True(t, res.Safe)

	res, err = c.ValidateAssignmentSafety(ctx, 1, "I001")
	require.NoError(t, err)
	require.False(t, res.Safe)
	require.Contains(t, res.Reason, "conflicting")

	res, err = c.ValidateAssignmentSafety(ctx, 2, "I002")
	require.NoError(t, err)
	require.False(t, res.Safe, "booking taken between scoring and commit")

	res, err = c.ValidateAssignmentSafety(ctx, 3, "I002")
	require.NoError(t, err)
	require.False(t, res.Safe)
}
