package recovery

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/interpool/backend/internal/engine"
)

type TickRunner interface {
	RunTick(ctx context.Context) (engine.TickSummary, error)
	RunDeadlineTick(ctx context.Context) (engine.TickSummary, error)
}

// Supervisor drives the scheduler under the current degradation level. At
// reduced level the maintenance sweep is skipped; at critical level only
// deadline entries are processed. A tick failure is absorbed so the next
// interval gets its chance.
type Supervisor struct {
	engine   TickRunner
	recovery *Service
	logger   zerolog.Logger
}

func NewSupervisor(e TickRunner, r *Service, logger zerolog.Logger) *Supervisor {
	return &Supervisor{engine: e, recovery: r, logger: logger}
}

func (s *Supervisor) Tick(ctx context.Context) engine.TickSummary {
	level := s.recovery.degradation.Level()

	switch level {
	case LevelNormal:
		if err := s.recovery.Sweep(ctx); err != nil {
			s.logger.Error().Err(err).Msg("maintenance sweep failed")
		}
		if report, err := s.recovery.HealthCheck(ctx); err != nil {
			s.logger.Error().Err(err).Msg("health check failed")
		} else if !report.IsHealthy {
			s.logger.Warn().Strs("warnings", report.Warnings).Msg("pool health warnings")
		}
	case LevelReduced:
		s.logger.Warn().Str("level", string(level)).Msg("running degraded, maintenance skipped")
	case LevelCritical:
		s.logger.Error().Str("level", string(level)).Msg("critical degradation, deadline processing only")
		summary, err := s.engine.RunDeadlineTick(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("deadline tick failed")
		}
		return summary
	}

	summary, err := s.engine.RunTick(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("tick failed")
	}
	return summary
}
