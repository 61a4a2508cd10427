package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dvloznov/accountbook/internal/app"
	"github.com/dvloznov/accountbook/internal/config"
	"github.com/dvloznov/accountbook/internal/jobs"
	"github.com/dvloznov/accountbook/internal/jobs/inmemory"
	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/dvloznov/accountbook/internal/watch"
	"github.com/robfig/cron/v3"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "YAML config file (or set ACCOUNTBOOK_CONFIG env)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log := logger.NewWithLevel(cfg.LogLevel)

	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	log.Info().Msg("Starting worker service")

	// Dropped files become import jobs for the default user
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore).WithWorkers(cfg.Worker.Workers)
	if err := jobQueue.Start(ctx, a.HandleJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	// Outbox compaction
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Worker.CompactionSchedule, func() {
		n, err := a.Compact(ctx, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("Outbox compaction failed")
			return
		}
		log.Info().Int("purged", n).Msg("Outbox compaction completed")
	})
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Worker.CompactionSchedule).Msg("Invalid compaction schedule")
	}
	scheduler.Start()

	watchDone := make(chan error, 1)
	if cfg.Worker.WatchDir != "" {
		w := watch.New(cfg.Worker.WatchDir, watch.DefaultDebounce, func(ctx context.Context, path string) {
			job := &jobs.ImportJob{
				UserID:   cfg.DefaultUser,
				Source:   path,
				Filename: filepath.Base(path),
			}
			if err := jobQueue.PublishImport(ctx, job); err != nil {
				log.Error().Err(err).Str("path", path).Msg("Failed to enqueue import")
				return
			}
			log.Info().Str("job_id", job.JobID).Str("path", path).Msg("Enqueued import")
		})
		go func() { watchDone <- w.Run(ctx) }()
	} else {
		log.Warn().Msg("No watch directory configured - only compaction will run")
		close(watchDone)
	}

	log.Info().Msg("Worker service started, waiting for files...")

	select {
	case <-ctx.Done():
	case err := <-watchDone:
		if err != nil {
			log.Error().Err(err).Msg("File watcher stopped")
		}
		<-ctx.Done()
	}

	log.Info().Msg("Shutting down worker service...")

	// Wait for a running compaction
	<-scheduler.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
