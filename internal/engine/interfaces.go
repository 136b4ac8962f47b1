package engine

import (
	"context"
	"time"

	"github.com/interpool/backend/internal/models"
)

// Store is the slice of the database the engine needs for scoring and commit.
type Store interface {
	GetBooking(ctx context.Context, id int64) (models.Booking, error)
	ListActiveInterpreters(ctx context.Context) ([]models.Interpreter, error)
	InterpreterHours(ctx context.Context, windowDays int) (map[string]float64, error)
	CommitAssignment(ctx context.Context, bookingID int64, empCode string, meetingType models.MeetingType, start, end time.Time) error
}

// PoolService drives pool-entry lifecycle transitions on the engine's behalf.
type PoolService interface {
	ReadyForAssignment(ctx context.Context, now time.Time) ([]models.PoolEntry, error)
	DeadlineEntries(ctx context.Context, now time.Time) ([]models.PoolEntry, error)
	WaitingEntries(ctx context.Context) ([]models.PoolEntry, error)
	Claim(ctx context.Context, bookingID int64) (bool, error)
	ClaimForced(ctx context.Context, bookingID int64) (bool, error)
	Release(ctx context.Context, bookingID int64) error
	MarkFailed(ctx context.Context, bookingID int64, cause string) error
}

// PolicyService supplies the active policy; the engine snapshots it per tick.
type PolicyService interface {
	Load(ctx context.Context) (models.AssignmentPolicy, error)
}

// AvailabilityChecker filters interpreters free for a window.
type AvailabilityChecker interface {
	FilterAvailableInterpreters(ctx context.Context, empCodes []string, start, end time.Time) ([]string, error)
}

// DRHistory answers consecutive-DR questions from committed bookings.
type DRHistory interface {
	LastGlobalDRAssignment(ctx context.Context) (*models.DRAssignmentRef, error)
	CountInWindow(ctx context.Context, empCode string, windowDays int) (int, error)
}
