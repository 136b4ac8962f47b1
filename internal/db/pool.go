package db

import (
	"context"
	"time"

	"github.com/interpool/backend/internal/models"
)

const poolEntryColumns = `id, meeting_type, start_at, end_at, pool_mode, pool_status, pool_entry_time, pool_deadline_time, pool_processing_attempts, pool_last_error`

// InsertPoolEntry places a booking into the pool. The WHERE clause enforces the
// one-live-entry invariant: a booking already pooled or already assigned is
// left untouched and the call reports false.
func (s *Store) InsertPoolEntry(ctx context.Context, bookingID int64, mode models.Mode, readyAt, deadlineAt time.Time) (bool, error) {
	var inserted bool
	err := s.do(ctx, "insert_pool_entry", func(ctx context.Context) error {
		tag, err := s.Pool.Exec(ctx, `
			UPDATE bookings
			SET pool_status = 'waiting', pool_mode = $2, pool_entry_time = NOW(),
				pool_ready_time = $3, pool_deadline_time = $4,
				pool_processing_attempts = 0, pool_last_error = NULL
			WHERE id = $1 AND interpreter_emp_code IS NULL AND pool_status IS NULL
		`, bookingID, mode, readyAt, deadlineAt)
		if err != nil {
			return err
		}
		inserted = tag.RowsAffected() == 1
		return nil
	})
	return inserted, err
}

// PromoteDueEntries moves waiting entries whose ready time has arrived to
// ready. Returns the number promoted.
func (s *Store) PromoteDueEntries(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.do(ctx, "promote_due_entries", func(ctx context.Context) error {
		tag, err := s.Pool.Exec(ctx, `
			UPDATE bookings SET pool_status = 'ready'
			WHERE pool_status = 'waiting' AND pool_ready_time <= $1
		`, now)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

// ClaimPoolEntry is the mutual-exclusion point: the conditional update lets
// exactly one scheduler instance move an entry ready -> processing. A false
// return means another instance got there first.
func (s *Store) ClaimPoolEntry(ctx context.Context, bookingID int64) (bool, error) {
	var claimed bool
	err := s.do(ctx, "claim_pool_entry", func(ctx context.Context) error {
		tag, err := s.Pool.Exec(ctx, `
			UPDATE bookings SET pool_status = 'processing', pool_processing_since = NOW()
			WHERE id = $1 AND pool_status = 'ready'
		`, bookingID)
		if err != nil {
			return err
		}
		claimed = tag.RowsAffected() == 1
		return nil
	})
	return claimed, err
}

// ClaimPoolEntryForced claims from waiting as well as ready, for entries at or
// past their deadline that must be processed this tick.
func (s *Store) ClaimPoolEntryForced(ctx context.Context, bookingID int64) (bool, error) {
	var claimed bool
	err := s.do(ctx, "claim_pool_entry_forced", func(ctx context.Context) error {
		tag, err := s.Pool.Exec(ctx, `
			UPDATE bookings SET pool_status = 'processing', pool_processing_since = NOW()
			WHERE id = $1 AND pool_status IN ('waiting', 'ready')
		`, bookingID)
		if err != nil {
			return err
		}
		claimed = tag.RowsAffected() == 1
		return nil
	})
	return claimed, err
}

func (s *Store) UpdatePoolStatus(ctx context.Context, bookingID int64, status models.PoolStatus) error {
	return s.do(ctx, "update_pool_status", func(ctx context.Context) error {
		_, err := s.Pool.Exec(ctx, `UPDATE bookings SET pool_status = $2 WHERE id = $1`, bookingID, status)
		return err
	})
}

func (s *Store) MarkEntryFailed(ctx context.Context, bookingID int64, lastError string) error {
	return s.do(ctx, "mark_entry_failed", func(ctx context.Context) error {
		_, err := s.Pool.Exec(ctx, `
			UPDATE bookings
			SET pool_status = 'failed',
				pool_processing_attempts = pool_processing_attempts + 1,
				pool_last_error = $2
			WHERE id = $1
		`, bookingID, lastError)
		return err
	})
}

func (s *Store) listEntries(ctx context.Context, name, where string, args ...any) ([]models.PoolEntry, error) {
	var out []models.PoolEntry
	err := s.do(ctx, name, func(ctx context.Context) error {
		rows, err := s.Pool.Query(ctx, `
			SELECT `+poolEntryColumns+` FROM bookings WHERE `+where+`
			ORDER BY pool_entry_time ASC
		`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var e models.PoolEntry
			if err := rows.Scan(&e.BookingID, &e.MeetingType, &e.StartAt, &e.EndAt, &e.Mode,
				&e.Status, &e.EntryTime, &e.DeadlineAt, &e.Attempts, &e.LastError); err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) ListReadyEntries(ctx context.Context) ([]models.PoolEntry, error) {
	return s.listEntries(ctx, "list_ready_entries", `pool_status = 'ready'`)
}

func (s *Store) ListWaitingEntries(ctx context.Context) ([]models.PoolEntry, error) {
	return s.listEntries(ctx, "list_waiting_entries", `pool_status = 'waiting'`)
}

func (s *Store) ListFailedEntries(ctx context.Context) ([]models.PoolEntry, error) {
	return s.listEntries(ctx, "list_failed_entries", `pool_status = 'failed'`)
}

// ListDeadlineEntries returns live entries at or past their deadline. These
// must be processed in the current tick regardless of batching preference.
func (s *Store) ListDeadlineEntries(ctx context.Context, now time.Time) ([]models.PoolEntry, error) {
	return s.listEntries(ctx, "list_deadline_entries",
		`pool_status IN ('waiting','ready') AND pool_deadline_time <= $1`, now)
}

// ListStuckProcessing returns entries that have been processing longer than
// the stall threshold, for the health check.
func (s *Store) ListStuckProcessing(ctx context.Context, olderThan time.Time) ([]models.PoolEntry, error) {
	return s.listEntries(ctx, "list_stuck_processing",
		`pool_status = 'processing' AND (pool_processing_since IS NULL OR pool_processing_since <= $1)`, olderThan)
}

func (s *Store) PoolCounts(ctx context.Context) (map[models.PoolStatus]int, error) {
	counts := map[models.PoolStatus]int{}
	err := s.do(ctx, "pool_counts", func(ctx context.Context) error {
		rows, err := s.Pool.Query(ctx, `
			SELECT pool_status, COUNT(*) FROM bookings
			WHERE pool_status IS NOT NULL GROUP BY pool_status
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var status models.PoolStatus
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			counts[status] = n
		}
		return rows.Err()
	})
	return counts, err
}

// RequeueFailedEntries sweeps failed entries below the attempt ceiling back to
// waiting. Entries at or above the ceiling stay failed for manual resolution.
func (s *Store) RequeueFailedEntries(ctx context.Context, maxAttempts int) (int64, error) {
	var n int64
	err := s.do(ctx, "requeue_failed_entries", func(ctx context.Context) error {
		tag, err := s.Pool.Exec(ctx, `
			UPDATE bookings SET pool_status = 'waiting'
			WHERE pool_status = 'failed' AND pool_processing_attempts < $1
		`, maxAttempts)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

// ResetProcessingEntry recovers a stuck processing entry back to ready.
func (s *Store) ResetProcessingEntry(ctx context.Context, bookingID int64) (bool, error) {
	var reset bool
	err := s.do(ctx, "reset_processing_entry", func(ctx context.Context) error {
		tag, err := s.Pool.Exec(ctx, `
			UPDATE bookings SET pool_status = 'ready', pool_processing_since = NULL
			WHERE id = $1 AND pool_status = 'processing'
		`, bookingID)
		if err != nil {
			return err
		}
		reset = tag.RowsAffected() == 1
		return nil
	})
	return reset, err
}

// DeletePoolEntry clears the pool columns without touching the booking itself.
func (s *Store) DeletePoolEntry(ctx context.Context, bookingID int64) error {
	return s.do(ctx, "delete_pool_entry", func(ctx context.Context) error {
		_, err := s.Pool.Exec(ctx, `
			UPDATE bookings
			SET pool_status = NULL, pool_mode = NULL, pool_entry_time = NULL,
				pool_ready_time = NULL, pool_deadline_time = NULL,
				pool_processing_since = NULL, pool_processing_attempts = 0,
				pool_last_error = NULL
			WHERE id = $1
		`, bookingID)
		return err
	})
}
