package pool

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/interpool/backend/internal/models"
)

type store interface {
	InsertPoolEntry(ctx context.Context, bookingID int64, mode models.Mode, readyAt, deadlineAt time.Time) (bool, error)
	PromoteDueEntries(ctx context.Context, now time.Time) (int64, error)
	ClaimPoolEntry(ctx context.Context, bookingID int64) (bool, error)
	ClaimPoolEntryForced(ctx context.Context, bookingID int64) (bool, error)
	UpdatePoolStatus(ctx context.Context, bookingID int64, status models.PoolStatus) error
	MarkEntryFailed(ctx context.Context, bookingID int64, lastError string) error
	ListReadyEntries(ctx context.Context) ([]models.PoolEntry, error)
	ListWaitingEntries(ctx context.Context) ([]models.PoolEntry, error)
	ListFailedEntries(ctx context.Context) ([]models.PoolEntry, error)
	ListDeadlineEntries(ctx context.Context, now time.Time) ([]models.PoolEntry, error)
	ListStuckProcessing(ctx context.Context, olderThan time.Time) ([]models.PoolEntry, error)
	PoolCounts(ctx context.Context) (map[models.PoolStatus]int, error)
	RequeueFailedEntries(ctx context.Context, maxAttempts int) (int64, error)
	ResetProcessingEntry(ctx context.Context, bookingID int64) (bool, error)
	DeletePoolEntry(ctx context.Context, bookingID int64) error
}

// Service owns pool-entry lifecycle. The engine drives ready -> processing
// through Claim and processing -> failed through MarkFailed; the move to
// assigned happens inside the commit transaction. Everything else lives here.
type Service struct {
	store       store
	logger      zerolog.Logger
	maxAttempts int
}

func NewService(s store, logger zerolog.Logger, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Service{store: s, logger: logger, maxAttempts: maxAttempts}
}

func (s *Service) MaxAttempts() int { return s.maxAttempts }

// Add places a booking into the pool as waiting. Returns false when the
// booking is already pooled or already assigned (the one-live-entry rule).
func (s *Service) Add(ctx context.Context, bookingID int64, mode models.Mode, readyAt, deadlineAt time.Time) (bool, error) {
	added, err := s.store.InsertPoolEntry(ctx, bookingID, mode, readyAt, deadlineAt)
	if err != nil {
		return false, err
	}
	if added {
		s.logger.Info().Int64("booking_id", bookingID).Str("mode", string(mode)).
			Time("deadline", deadlineAt).Msg("booking added to pool")
	}
	return added, nil
}

type Stats struct {
	Waiting    int `json:"waiting"`
	Ready      int `json:"ready"`
	Processing int `json:"processing"`
	Assigned   int `json:"assigned"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.store.PoolCounts(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Waiting:    counts[models.PoolWaiting],
		Ready:      counts[models.PoolReady],
		Processing: counts[models.PoolProcessing],
		Assigned:   counts[models.PoolAssigned],
		Failed:     counts[models.PoolFailed],
	}
	st.Total = st.Waiting + st.Ready + st.Processing + st.Assigned + st.Failed
	return st, nil
}

// ReadyForAssignment promotes due waiting entries and returns everything now
// eligible for processing.
func (s *Service) ReadyForAssignment(ctx context.Context, now time.Time) ([]models.PoolEntry, error) {
	promoted, err := s.store.PromoteDueEntries(ctx, now)
	if err != nil {
		return nil, err
	}
	if promoted > 0 {
		s.logger.Debug().Int64("promoted", promoted).Msg("waiting entries promoted to ready")
	}
	return s.store.ListReadyEntries(ctx)
}

func (s *Service) DeadlineEntries(ctx context.Context, now time.Time) ([]models.PoolEntry, error) {
	return s.store.ListDeadlineEntries(ctx, now)
}

func (s *Service) FailedEntries(ctx context.Context) ([]models.PoolEntry, error) {
	return s.store.ListFailedEntries(ctx)
}

func (s *Service) WaitingEntries(ctx context.Context) ([]models.PoolEntry, error) {
	return s.store.ListWaitingEntries(ctx)
}

func (s *Service) StuckProcessing(ctx context.Context, olderThan time.Time) ([]models.PoolEntry, error) {
	return s.store.ListStuckProcessing(ctx, olderThan)
}

// Claim atomically transitions one entry ready -> processing. A false return
// means another scheduler instance already claimed it; callers skip, not error.
func (s *Service) Claim(ctx context.Context, bookingID int64) (bool, error) {
	return s.store.ClaimPoolEntry(ctx, bookingID)
}

// ClaimForced also claims waiting entries, for deadline processing.
func (s *Service) ClaimForced(ctx context.Context, bookingID int64) (bool, error) {
	return s.store.ClaimPoolEntryForced(ctx, bookingID)
}

func (s *Service) MarkFailed(ctx context.Context, bookingID int64, cause string) error {
	s.logger.Warn().Int64("booking_id", bookingID).Str("cause", cause).Msg("pool entry failed")
	return s.store.MarkEntryFailed(ctx, bookingID, cause)
}

// Release puts a processing entry back to ready, used when scoring finds no
// candidate; that outcome is reported, not retried against the attempt budget.
func (s *Service) Release(ctx context.Context, bookingID int64) error {
	return s.store.UpdatePoolStatus(ctx, bookingID, models.PoolReady)
}

func (s *Service) Remove(ctx context.Context, bookingID int64) error {
	return s.store.DeletePoolEntry(ctx, bookingID)
}

// RetryFailed requeues failed entries below the attempt ceiling.
func (s *Service) RetryFailed(ctx context.Context) (int64, error) {
	n, err := s.store.RequeueFailedEntries(ctx, s.maxAttempts)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("requeued", n).Msg("failed entries requeued")
	}
	return n, nil
}

// ResetProcessing recovers a stuck processing entry.
func (s *Service) ResetProcessing(ctx context.Context, bookingID int64) (bool, error) {
	return s.store.ResetProcessingEntry(ctx, bookingID)
}
