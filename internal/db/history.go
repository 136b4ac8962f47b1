package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/interpool/backend/internal/models"
)

// LastGlobalDRAssignment returns the most recent committed DR assignment
// across all interpreters, or ErrNotFound when none exists. Reads committed
// bookings only, never pool entries.
func (s *Store) LastGlobalDRAssignment(ctx context.Context) (models.DRAssignmentRef, error) {
	var ref models.DRAssignmentRef
	err := s.do(ctx, "last_global_dr_assignment", func(ctx context.Context) error {
		row := s.Pool.QueryRow(ctx, `
			SELECT interpreter_emp_code, id, start_at FROM bookings
			WHERE meeting_type = 'DR' AND booking_status = 'approve'
			  AND interpreter_emp_code IS NOT NULL
			ORDER BY start_at DESC, id DESC LIMIT 1
		`)
		err := row.Scan(&ref.InterpreterEmpCode, &ref.BookingID, &ref.StartAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return ref, err
}

// CountDRAssignments counts committed DR assignments for one interpreter
// inside the trailing fairness window.
func (s *Store) CountDRAssignments(ctx context.Context, empCode string, windowDays int) (int, error) {
	var n int
	err := s.do(ctx, "count_dr_assignments", func(ctx context.Context) error {
		return s.Pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM bookings
			WHERE meeting_type = 'DR' AND booking_status = 'approve'
			  AND interpreter_emp_code = $1
			  AND start_at >= NOW() - ($2 * INTERVAL '1 day')
		`, empCode, windowDays).Scan(&n)
	})
	return n, err
}

// InterpreterHours sums assignment-history hours per interpreter over the
// trailing fairness window. The history table is the live scoring pool; it is
// pruned on roster changes while booking rows are kept for audit.
func (s *Store) InterpreterHours(ctx context.Context, windowDays int) (map[string]float64, error) {
	hours := map[string]float64{}
	err := s.do(ctx, "interpreter_hours", func(ctx context.Context) error {
		rows, err := s.Pool.Query(ctx, `
			SELECT emp_code, COALESCE(SUM(hours), 0) FROM assignment_history
			WHERE assigned_at >= NOW() - ($1 * INTERVAL '1 day')
			GROUP BY emp_code
		`, windowDays)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var emp string
			var h float64
			if err := rows.Scan(&emp, &h); err != nil {
				return err
			}
			hours[emp] = h
		}
		return rows.Err()
	})
	return hours, err
}

// InsertAssignmentHistoryTx records a committed assignment for fairness
// scoring, inside the same transaction as the assignment write.
func (s *Store) InsertAssignmentHistoryTx(ctx context.Context, tx pgx.Tx, empCode string, bookingID int64, meetingType models.MeetingType, hours float64, assignedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO assignment_history (emp_code, booking_id, meeting_type, hours, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
	`, empCode, bookingID, meetingType, hours, assignedAt)
	return err
}

// DeleteHistoryForRemovedInterpreters purges scoring history for interpreters
// no longer on the roster. Booking rows are never deleted.
func (s *Store) DeleteHistoryForRemovedInterpreters(ctx context.Context, currentRoster []string) (int64, error) {
	var n int64
	err := s.do(ctx, "delete_removed_history", func(ctx context.Context) error {
		tag, err := s.Pool.Exec(ctx, `
			DELETE FROM assignment_history WHERE emp_code <> ALL($1)
		`, currentRoster)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}
