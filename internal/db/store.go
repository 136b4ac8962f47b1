package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interpool/backend/internal/models"
	"github.com/interpool/backend/internal/retry"
)

var ErrNotFound = errors.New("db: not found")

// Observer receives the outcome of every store operation. The recovery layer
// plugs its degradation manager in here; a nil observer is a no-op.
type Observer interface {
	RecordSuccess()
	RecordFailure(err error)
}

type Options struct {
	Timeout       time.Duration
	RetryAttempts int
	RetryBase     time.Duration
	Observer      Observer
}

type Store struct {
	Pool     *pgxpool.Pool
	timeout  time.Duration
	retryCfg retry.Config
	observer Observer
}

func New(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Store{
		Pool:    pool,
		timeout: opts.Timeout,
		retryCfg: retry.Config{
			MaxAttempts: opts.RetryAttempts,
			BaseDelay:   opts.RetryBase,
			MaxDelay:    2 * time.Second,
			Retryable:   Retryable,
		},
		observer: opts.Observer,
	}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// Retryable classifies transient infrastructure failures. Timeouts and
// connection-class errors are retried; constraint violations and missing rows
// are not.
func Retryable(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrAssignmentUnsafe) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08xxx connection exception, 40001 serialization, 40P01 deadlock.
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return true
		}
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netLike interface{ Timeout() bool }
	if errors.As(err, &netLike) {
		return true
	}
	// Unclassified errors from the driver are treated as connection trouble.
	return !errors.Is(err, context.Canceled)
}

// do wraps a store operation with the per-op timeout, the shared retry
// combinator, and health observation.
func (s *Store) do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return op(opCtx)
	})
	if s.observer != nil {
		if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, pgx.ErrNoRows) && !errors.Is(err, ErrAssignmentUnsafe) {
			s.observer.RecordFailure(err)
		} else {
			s.observer.RecordSuccess()
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return s.do(ctx, "with_tx", func(ctx context.Context) error {
		tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() {
			_ = tx.Rollback(ctx)
		}()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

const bookingColumns = `id, owner_emp_code, meeting_room, meeting_type, start_at, end_at, booking_status, interpreter_emp_code, created_at`

func scanBooking(row pgx.Row) (models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.OwnerEmpCode, &b.Room, &b.MeetingType, &b.StartAt, &b.EndAt, &b.Status, &b.InterpreterEmpCode, &b.CreatedAt)
	return b, err
}

func (s *Store) GetBooking(ctx context.Context, id int64) (models.Booking, error) {
	var b models.Booking
	err := s.do(ctx, "get_booking", func(ctx context.Context) error {
		row := s.Pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
		var err error
		b, err = scanBooking(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return b, err
}

// GetConflictingBookings returns committed bookings for the interpreter whose
// window overlaps [start, end). Half-open comparison, so back-to-back bookings
// do not conflict.
func (s *Store) GetConflictingBookings(ctx context.Context, empCode string, start, end time.Time) ([]models.Booking, error) {
	var out []models.Booking
	err := s.do(ctx, "get_conflicting_bookings", func(ctx context.Context) error {
		rows, err := s.Pool.Query(ctx, `
			SELECT `+bookingColumns+` FROM bookings
			WHERE interpreter_emp_code = $1
			  AND booking_status = 'approve'
			  AND start_at < $3 AND $2 < end_at
			ORDER BY start_at ASC
		`, empCode, start, end)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			b, err := scanBooking(rows)
			if err != nil {
				return err
			}
			out = append(out, b)
		}
		return rows.Err()
	})
	return out, err
}

// ConflictExistsTx re-checks the overlap rule inside the commit transaction.
func (s *Store) ConflictExistsTx(ctx context.Context, tx pgx.Tx, empCode string, start, end time.Time, excludeBookingID int64) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE interpreter_emp_code = $1
			  AND booking_status = 'approve'
			  AND id <> $4
			  AND start_at < $3 AND $2 < end_at
		)
	`, empCode, start, end, excludeBookingID).Scan(&exists)
	return exists, err
}

// AssignInterpreterTx performs the assignment write: interpreter attached,
// booking approved, pool entry marked assigned, in one statement so the
// status/interpreter invariant cannot be observed half-applied.
func (s *Store) AssignInterpreterTx(ctx context.Context, tx pgx.Tx, bookingID int64, empCode string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET interpreter_emp_code = $2, booking_status = 'approve', pool_status = 'assigned'
		WHERE id = $1 AND interpreter_emp_code IS NULL
	`, bookingID, empCode)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListActiveInterpreters(ctx context.Context) ([]models.Interpreter, error) {
	var out []models.Interpreter
	err := s.do(ctx, "list_active_interpreters", func(ctx context.Context) error {
		rows, err := s.Pool.Query(ctx, `
			SELECT emp_code, name, languages, active, joined_at
			FROM interpreters WHERE active = TRUE ORDER BY emp_code ASC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var it models.Interpreter
			if err := rows.Scan(&it.EmpCode, &it.Name, &it.Languages, &it.Active, &it.JoinedAt); err != nil {
				return err
			}
			out = append(out, it)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) LoadPolicy(ctx context.Context) (models.AssignmentPolicy, error) {
	var p models.AssignmentPolicy
	err := s.do(ctx, "load_policy", func(ctx context.Context) error {
		row := s.Pool.QueryRow(ctx, `
			SELECT mode, fairness_weight, urgency_weight, dr_consecutive_penalty,
				urgent_threshold_days, general_threshold_days, fairness_window_days,
				version, updated_at
			FROM assignment_policy WHERE id = 1
		`)
		err := row.Scan(&p.Mode, &p.FairnessWeight, &p.UrgencyWeight, &p.DRConsecutivePenalty,
			&p.UrgentThresholdDays, &p.GeneralThresholdDays, &p.FairnessWindowDays,
			&p.Version, &p.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return p, err
}

// SavePolicy persists the policy and bumps its version. The returned value
// carries the new version and timestamp.
func (s *Store) SavePolicy(ctx context.Context, p models.AssignmentPolicy) (models.AssignmentPolicy, error) {
	var out models.AssignmentPolicy
	err := s.do(ctx, "save_policy", func(ctx context.Context) error {
		row := s.Pool.QueryRow(ctx, `
			UPDATE assignment_policy
			SET mode = $1, fairness_weight = $2, urgency_weight = $3,
				dr_consecutive_penalty = $4, urgent_threshold_days = $5,
				general_threshold_days = $6, fairness_window_days = $7,
				version = version + 1, updated_at = NOW()
			WHERE id = 1
			RETURNING mode, fairness_weight, urgency_weight, dr_consecutive_penalty,
				urgent_threshold_days, general_threshold_days, fairness_window_days,
				version, updated_at
		`, p.Mode, p.FairnessWeight, p.UrgencyWeight, p.DRConsecutivePenalty,
			p.UrgentThresholdDays, p.GeneralThresholdDays, p.FairnessWindowDays)
		err := row.Scan(&out.Mode, &out.FairnessWeight, &out.UrgencyWeight, &out.DRConsecutivePenalty,
			&out.UrgentThresholdDays, &out.GeneralThresholdDays, &out.FairnessWindowDays,
			&out.Version, &out.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return out, err
}
