package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/interpool/backend/internal/models"
)

// ErrAssignmentUnsafe reports that the pre-commit safety check failed inside
// the transaction: the booking was taken or a conflicting assignment landed
// between scoring and commit. Callers recompute candidates and retry; this is
// a race loss, not an infrastructure failure.
var ErrAssignmentUnsafe = errors.New("db: assignment no longer safe")

// CommitAssignment writes one assignment atomically: it re-validates safety
// under a row lock, attaches the interpreter, flips the booking to approve,
// marks the pool entry assigned, and records fairness history in a single
// transaction, so the interpreter/approve invariant can never be observed
// half-applied.
func (s *Store) CommitAssignment(ctx context.Context, bookingID int64, empCode string, meetingType models.MeetingType, start, end time.Time) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var currentInterpreter *string
		var status models.BookingStatus
		err := tx.QueryRow(ctx, `
			SELECT interpreter_emp_code, booking_status FROM bookings
			WHERE id = $1 FOR UPDATE
		`, bookingID).Scan(&currentInterpreter, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if currentInterpreter != nil {
			return fmt.Errorf("%w: already assigned to %s", ErrAssignmentUnsafe, *currentInterpreter)
		}
		if status == models.BookingCancel {
			return fmt.Errorf("%w: booking cancelled", ErrAssignmentUnsafe)
		}

		conflict, err := s.ConflictExistsTx(ctx, tx, empCode, start, end, bookingID)
		if err != nil {
			return err
		}
		if conflict {
			return fmt.Errorf("%w: interpreter %s has a conflicting booking", ErrAssignmentUnsafe, empCode)
		}

		// The pool columns stay NULL for bookings assigned without pooling.
		tag, err := tx.Exec(ctx, `
			UPDATE bookings
			SET interpreter_emp_code = $2,
				booking_status = 'approve',
				pool_status = CASE WHEN pool_status IS NULL THEN NULL ELSE 'assigned' END
			WHERE id = $1
		`, bookingID, empCode)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		hours := end.Sub(start).Hours()
		return s.InsertAssignmentHistoryTx(ctx, tx, empCode, bookingID, meetingType, hours, time.Now().UTC())
	})
}
