package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/config"
	"github.com/aristath/perptrack/internal/database"
	"github.com/aristath/perptrack/internal/exchanges"
	"github.com/aristath/perptrack/internal/maintenance"
	"github.com/aristath/perptrack/internal/modules/aggregation"
	"github.com/aristath/perptrack/internal/modules/analytics"
	"github.com/aristath/perptrack/internal/modules/markets"
	"github.com/aristath/perptrack/internal/modules/marketstats"
	"github.com/aristath/perptrack/internal/modules/materialize"
	"github.com/aristath/perptrack/internal/scheduler"
	"github.com/aristath/perptrack/internal/server"
	"github.com/aristath/perptrack/internal/tracker"
	"github.com/aristath/perptrack/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting perptrack")

	// the two stores: ingestion side and serving side
	writeDB, err := database.New(database.Config{
		Path:    cfg.WriteDBPath,
		Profile: database.ProfileWrite,
		Name:    "write",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open write database")
	}
	defer writeDB.Close()

	readDB, err := database.New(database.Config{
		Path:    cfg.ReadDBPath,
		Profile: database.ProfileRead,
		Name:    "read",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open read database")
	}
	defer readDB.Close()

	if err := writeDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate write database")
	}
	if err := readDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate read database")
	}

	// repositories
	statsRepo := marketstats.NewRepository(writeDB, log)
	materializeRepo := materialize.NewRepository(readDB, log)
	analyticsRepo := analytics.NewRepository(readDB, log)
	marketsRepo := markets.NewRepository(readDB, log)
	statusRepo := tracker.NewStatusRepository(readDB, log)

	// tracker fleet
	manager := tracker.NewManager(exchanges.NewAll(log), statsRepo, statusRepo, tracker.Config{
		ReconnectDelay:       cfg.ReconnectDelay,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
	}, log)

	stateFile := filepath.Join(cfg.DataDir, "tracker_state.bin")
	manager.RestoreState(stateFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.StartAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Some trackers failed to start")
	}

	// periodic pipeline jobs
	sched := scheduler.New(log)
	if err := registerJobs(sched, cfg, statsRepo, materializeRepo, analyticsRepo, writeDB, readDB, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()
	defer sched.Stop()

	// HTTP surface
	srv := server.New(server.Config{
		Port:    cfg.Port,
		Log:     log,
		Markets: markets.NewHandler(marketsRepo, statsRepo, analyticsRepo, statusRepo, log),
		Manager: manager,
		WriteDB: writeDB,
		ReadDB:  readDB,
		DevMode: cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	manager.StopAll()
	manager.SaveState(stateFile)

	log.Info().Msg("Stopped")
}

func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	statsRepo *marketstats.Repository,
	materializeRepo *materialize.Repository,
	analyticsRepo *analytics.Repository,
	writeDB, readDB *database.DB,
	log zerolog.Logger,
) error {
	every := func(d time.Duration) string { return fmt.Sprintf("@every %s", d) }

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{every(cfg.MinuteAggInterval), aggregation.NewMinuteJob(statsRepo, cfg.RawRetention, log)},
		{every(cfg.HourAggInterval), aggregation.NewHourJob(statsRepo, log)},
		{"0 30 3 * * *", aggregation.NewRetentionJob(statsRepo, cfg.MinuteRetentionDays, cfg.HourRetentionDays, log)},
		{every(5 * time.Minute), materialize.NewLatestJob(statsRepo, materializeRepo, log)},
		{"0 15 2 * * *", materialize.NewMinuteBackfillJob(statsRepo, materializeRepo, log)},
		{"0 45 2 * * *", materialize.NewHourBackfillJob(statsRepo, materializeRepo, log)},
		{"0 5 * * * *", analytics.NewMAJob(statsRepo, analyticsRepo, log)},
		{"0 10 * * * *", analytics.NewArbitrageJob(analyticsRepo, cfg.StabilityMinScore, log)},
		{"0 20 * * * *", analytics.NewVolatilityJob(statsRepo, materializeRepo, log)},
		{"0 0 4 * * *", maintenance.New(log, writeDB, readDB)},
	}

	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			return err
		}
	}
	return nil
}
