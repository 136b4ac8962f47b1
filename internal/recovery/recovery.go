package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/interpool/backend/internal/models"
	"github.com/interpool/backend/internal/pool"
)

type poolService interface {
	Stats(ctx context.Context) (pool.Stats, error)
	StuckProcessing(ctx context.Context, olderThan time.Time) ([]models.PoolEntry, error)
	FailedEntries(ctx context.Context) ([]models.PoolEntry, error)
	WaitingEntries(ctx context.Context) ([]models.PoolEntry, error)
	RetryFailed(ctx context.Context) (int64, error)
	ResetProcessing(ctx context.Context, bookingID int64) (bool, error)
	Release(ctx context.Context, bookingID int64) error
	MaxAttempts() int
}

type Options struct {
	StallThreshold    time.Duration
	CorruptionGrace   time.Duration
	PoolSizeWarnLimit int
}

// Service is the error-recovery and health layer. It sits above the engine
// and pool: it never scores or assigns, it only detects, reports, and repairs.
type Service struct {
	pool        poolService
	degradation *DegradationManager
	logger      zerolog.Logger
	opts        Options
	now         func() time.Time
}

func NewService(p poolService, d *DegradationManager, logger zerolog.Logger, opts Options) *Service {
	if opts.StallThreshold <= 0 {
		opts.StallThreshold = 10 * time.Minute
	}
	if opts.CorruptionGrace <= 0 {
		opts.CorruptionGrace = 15 * time.Minute
	}
	if opts.PoolSizeWarnLimit <= 0 {
		opts.PoolSizeWarnLimit = 500
	}
	return &Service{
		pool:        p,
		degradation: d,
		logger:      logger,
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type HealthReport struct {
	IsHealthy bool     `json:"is_healthy"`
	Warnings  []string `json:"warnings"`
}

// HealthCheck flags stuck processing entries, entries out of retry budget,
// pool-size anomalies, and a degraded database.
func (s *Service) HealthCheck(ctx context.Context) (HealthReport, error) {
	report := HealthReport{IsHealthy: true, Warnings: []string{}}

	stuck, err := s.pool.StuckProcessing(ctx, s.now().Add(-s.opts.StallThreshold))
	if err != nil {
		return report, err
	}
	for _, e := range stuck {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("booking %d stuck in processing since %s", e.BookingID, e.EntryTime.Format(time.RFC3339)))
	}

	failed, err := s.pool.FailedEntries(ctx)
	if err != nil {
		return report, err
	}
	for _, e := range failed {
		if e.Attempts >= s.pool.MaxAttempts() {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("booking %d exhausted %d attempts, needs manual resolution", e.BookingID, e.Attempts))
		}
	}

	stats, err := s.pool.Stats(ctx)
	if err != nil {
		return report, err
	}
	if live := stats.Waiting + stats.Ready + stats.Processing; live > s.opts.PoolSizeWarnLimit {
		report.Warnings = append(report.Warnings, fmt.Sprintf("pool holds %d live entries", live))
	}

	if level := s.degradation.Level(); level != LevelNormal {
		report.Warnings = append(report.Warnings, fmt.Sprintf("database degradation level %s", level))
	}

	report.IsHealthy = len(report.Warnings) == 0
	return report, nil
}

type CorruptionReport struct {
	IsCorrupted bool     `json:"is_corrupted"`
	Reasons     []string `json:"reasons"`
}

// DetectCorruption flags structurally inconsistent pool entries.
func (s *Service) DetectCorruption(entry models.PoolEntry) CorruptionReport {
	var reasons []string
	if entry.Status == models.PoolProcessing && entry.EntryTime.IsZero() {
		reasons = append(reasons, "processing entry has no entry timestamp")
	}
	if entry.Status == models.PoolWaiting && s.now().Sub(entry.DeadlineAt) > s.opts.CorruptionGrace {
		reasons = append(reasons, "waiting entry is past its deadline beyond the grace period")
	}
	return CorruptionReport{IsCorrupted: len(reasons) > 0, Reasons: reasons}
}

// CleanupCorrupted repairs a corrupted entry where safe: stuck processing is
// reset to ready, an overdue waiting entry is forced ready so the next tick's
// deadline pass takes it.
func (s *Service) CleanupCorrupted(ctx context.Context, entry models.PoolEntry) error {
	report := s.DetectCorruption(entry)
	if !report.IsCorrupted {
		return nil
	}
	s.logger.Warn().Int64("booking_id", entry.BookingID).Strs("reasons", report.Reasons).
		Msg("cleaning corrupted pool entry")
	switch entry.Status {
	case models.PoolProcessing:
		_, err := s.pool.ResetProcessing(ctx, entry.BookingID)
		return err
	case models.PoolWaiting:
		return s.pool.Release(ctx, entry.BookingID)
	}
	return nil
}

// Sweep requeues failed entries under the attempt ceiling and cleans
// detectable corruption.
func (s *Service) Sweep(ctx context.Context) error {
	if _, err := s.pool.RetryFailed(ctx); err != nil {
		return err
	}
	stuck, err := s.pool.StuckProcessing(ctx, s.now().Add(-s.opts.StallThreshold))
	if err != nil {
		return err
	}
	for _, e := range stuck {
		if _, err := s.pool.ResetProcessing(ctx, e.BookingID); err != nil {
			s.logger.Error().Err(err).Int64("booking_id", e.BookingID).Msg("reset stuck entry")
		}
	}
	waiting, err := s.pool.WaitingEntries(ctx)
	if err != nil {
		return err
	}
	for _, e := range waiting {
		if s.DetectCorruption(e).IsCorrupted {
			if err := s.CleanupCorrupted(ctx, e); err != nil {
				s.logger.Error().Err(err).Int64("booking_id", e.BookingID).Msg("cleanup corrupted entry")
			}
		}
	}
	return nil
}

type Diagnostics struct {
	Pool        pool.Stats          `json:"pool"`
	Degradation DegradationSnapshot `json:"degradation"`
	Health      HealthReport        `json:"health"`
	RecentError []models.PoolEntry  `json:"recent_errors"`
}

// Diagnose is the monitoring snapshot: pool counts, degradation level, health
// warnings, and the failed entries with their last errors. Exhausted entries
// must stay visible here until an operator resolves them.
func (s *Service) Diagnose(ctx context.Context) (Diagnostics, error) {
	stats, err := s.pool.Stats(ctx)
	if err != nil {
		return Diagnostics{}, err
	}
	health, err := s.HealthCheck(ctx)
	if err != nil {
		return Diagnostics{}, err
	}
	failed, err := s.pool.FailedEntries(ctx)
	if err != nil {
		return Diagnostics{}, err
	}
	return Diagnostics{
		Pool:        stats,
		Degradation: s.degradation.Snapshot(),
		Health:      health,
		RecentError: failed,
	}, nil
}
