// Package main is the entry point for the stock analysis Discord bot.
//
// The bot registers slash commands, acknowledges every invocation immediately
// and runs the analysis program in the background, following up with the
// result once it finishes.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/stockbot/internal/analysis"
	"github.com/aristath/stockbot/internal/commands"
	"github.com/aristath/stockbot/internal/config"
	"github.com/aristath/stockbot/internal/database"
	"github.com/aristath/stockbot/internal/discord"
	"github.com/aristath/stockbot/internal/events"
	"github.com/aristath/stockbot/internal/history"
	"github.com/aristath/stockbot/internal/interaction"
	"github.com/aristath/stockbot/internal/jobs"
	"github.com/aristath/stockbot/internal/lifecycle"
	"github.com/aristath/stockbot/internal/notify"
	"github.com/aristath/stockbot/internal/reliability"
	"github.com/aristath/stockbot/internal/scheduler"
	"github.com/aristath/stockbot/internal/server"
	"github.com/aristath/stockbot/pkg/logger"
)

// drainTimeout bounds how long shutdown waits for pending follow-ups.
const drainTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting stock analysis bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	historyDB, err := database.New(database.Config{
		Path:    cfg.HistoryDBPath(),
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()
	historyRepo := history.NewRepository(historyDB.Conn())

	bus := events.NewBus(log)
	eventManager := events.NewManager(bus, log)

	registry, err := commands.NewDefaultRegistry(cfg.SymbolPattern)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build command registry")
	}

	runner, err := analysis.NewCommandRunner(cfg.AnalysisCommand, cfg.AnalysisWorkDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure analysis program")
	}

	jobRegistry := jobs.NewRegistry()
	jobs.RegisterDefaults(jobRegistry, jobs.Collaborators{
		Analyzer:    runner,
		Reviewer:    runner,
		NewNotifier: notify.NewFactory(cfg, log),
	})
	executor := jobs.NewExecutor(jobRegistry, cfg, eventManager, cfg.MaxConcurrentJobs, log)
	if err := executor.SetSymbolPattern(cfg.SymbolPattern); err != nil {
		log.Fatal().Err(err).Msg("Invalid symbol pattern")
	}

	machine := lifecycle.NewMachine(cfg.Activity, eventManager, log)

	controller := interaction.NewController(registry, machine, executor, historyRepo, eventManager, interaction.Options{
		SoftDeadline: cfg.JobSoftDeadline,
		Timeout:      cfg.JobTimeout,
	}, log)

	sched := scheduler.New(log)
	if err := sched.AddJob("@daily", history.NewPruneJob(historyRepo, history.DefaultRetention, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule history prune")
	}

	var uploader reliability.Uploader
	if s3cfg := reliability.S3Config(cfg.BackupS3); s3cfg.Enabled() {
		s3Uploader, err := reliability.NewS3Uploader(ctx, s3cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure off-site backups")
		}
		uploader = s3Uploader
		log.Info().Str("bucket", s3cfg.Bucket).Msg("Off-site backups enabled")
	}
	backups := reliability.NewBackupService(historyDB, cfg.BackupDir(), cfg.BackupKeep, uploader, log)
	maintenance := reliability.NewMaintenanceJob(historyDB, backups, cfg.DataDir, log)
	if err := sched.AddJob(cfg.MaintenanceCron, maintenance); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.MaintenanceCron).Msg("Invalid MAINTENANCE_CRON")
	}

	if cfg.MarketReviewCron != "" {
		review := scheduler.NewMarketReviewJob(executor, eventManager, cfg.JobTimeout, log)
		if err := sched.AddJob(cfg.MarketReviewCron, review); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.MarketReviewCron).Msg("Invalid MARKET_REVIEW_CRON")
		}
		log.Info().Str("schedule", cfg.MarketReviewCron).Msg("Scheduled market review enabled")
	}
	sched.Start()

	var srv *server.Server
	if cfg.Port > 0 {
		srv = server.New(server.Config{
			Log:       log,
			Port:      cfg.Port,
			DevMode:   cfg.DevMode,
			Lifecycle: machine,
			Pending:   controller,
			Jobs:      executor,
			Commands:  registry,
			History:   historyRepo,
			HistoryDB: historyDB,
			EventBus:  bus,
		})
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("Failed to start HTTP server")
			}
		}()
	}

	bot, err := discord.New(discord.Config{
		Token:   cfg.DiscordBotToken,
		GuildID: cfg.DiscordGuildID,
	}, registry, machine, controller, eventManager, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Discord bot")
	}
	if err := bot.Open(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Discord")
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	// New commands are rejected from here on; pending ones still get their follow-up.
	machine.Shutdown()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	sched.Stop(drainCtx)
	if err := controller.Drain(drainCtx); err != nil {
		log.Warn().Err(err).Msg("Pending interactions did not finish before shutdown")
	}

	if err := bot.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing Discord session")
	}

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}

	cancel()
	log.Info().Msg("Bot stopped")
}
