package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/interpool/backend/internal/availability"
	"github.com/interpool/backend/internal/config"
	"github.com/interpool/backend/internal/db"
	"github.com/interpool/backend/internal/drhistory"
	"github.com/interpool/backend/internal/engine"
	httpapi "github.com/interpool/backend/internal/http"
	"github.com/interpool/backend/internal/policy"
	"github.com/interpool/backend/internal/pool"
	"github.com/interpool/backend/internal/recovery"
	"github.com/interpool/backend/internal/roster"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "interpool-backend").Logger()

	ctx := context.Background()

	degradation := recovery.NewDegradationManager(logger)

	store, err := db.New(ctx, cfg.DatabaseURL, db.Options{
		Timeout:       cfg.DBTimeout,
		RetryAttempts: cfg.DBRetryAttempts,
		RetryBase:     cfg.DBRetryBaseDelay,
		Observer:      degradation,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	policies := policy.NewService(store, logger)
	checker := availability.NewChecker(store)
	history := drhistory.NewTracker(store)
	poolSvc := pool.NewService(store, logger, cfg.MaxPoolAttempts)
	rosterSvc := roster.NewService(store, logger)

	eng := engine.New(engine.Deps{
		Store:         store,
		Pool:          poolSvc,
		Policies:      policies,
		Checker:       checker,
		History:       history,
		Logger:        logger,
		CommitRetries: cfg.CommitRetries,
	})

	recoverySvc := recovery.NewService(poolSvc, degradation, logger, recovery.Options{
		StallThreshold:    cfg.StallThreshold,
		CorruptionGrace:   cfg.CorruptionGrace,
		PoolSizeWarnLimit: cfg.PoolSizeWarnLimit,
	})
	supervisor := recovery.NewSupervisor(eng, recoverySvc, logger)

	tickCtx, stopTicks := context.WithCancel(ctx)
	go runTicker(tickCtx, cfg.TickInterval, supervisor, rosterSvc, logger)

	router := httpapi.Router(cfg, httpapi.Services{
		Store:      store,
		Pool:       poolSvc,
		Policies:   policies,
		Engine:     eng,
		Recovery:   recoverySvc,
		Supervisor: supervisor,
	}, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopTicks()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}

func runTicker(ctx context.Context, interval time.Duration, sup *recovery.Supervisor, rosterSvc *roster.Service, logger zerolog.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Roster cleanup runs much less often than the assignment tick.
	cleanup := time.NewTicker(12 * time.Hour)
	defer cleanup.Stop()

	logger.Info().Dur("interval", interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			summary := sup.Tick(ctx)
			if len(summary.Results) > 0 {
				logger.Info().
					Str("batch_id", summary.BatchID).
					Interface("counts", summary.Counts).
					Msg("tick complete")
			}
		case <-cleanup.C:
			if n, err := rosterSvc.CleanupRemovedInterpreters(ctx); err != nil {
				logger.Error().Err(err).Msg("roster cleanup failed")
			} else if n > 0 {
				logger.Info().Int64("removed", n).Msg("roster history cleaned")
			}
		}
	}
}
