package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/timmy/newsagent/internal/bootstrap"
	"github.com/timmy/newsagent/internal/config"
	"github.com/timmy/newsagent/internal/logger"
	"github.com/timmy/newsagent/internal/service"
)

func main() {
	envCfg := logger.LoadFromEnv()
	envCfg.ServiceName = "newsagent-ingest"
	appLogger := logger.NewFromEnv(envCfg)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	sourceName := flag.String("source", "", "Staging source to ingest from (directory under sources.staging.base_path)")
	limit := flag.Int("limit", 100, "Maximum number of items to ingest")
	retryFailed := flag.Bool("retry", false, "Retry failed records instead of ingesting new ones")
	force := flag.Bool("force", false, "Force re-process items, skip duplicate checks")
	archive := flag.Bool("archive", false, "Archive raw payloads to object storage")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		appLogger.WithError(err).Fatal("Failed to create data directories")
	}

	appLogger.WithFields(logger.Fields{
		"source": *sourceName,
		"limit":  *limit,
		"retry":  *retryFailed,
		"force":  *force,
	}).Info("Starting ingestion")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize content index")
	}
	defer app.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	opts := &service.IngestOptions{
		Force:      *force,
		ArchiveRaw: (*archive || cfg.Ingest.ArchiveRaw) && app.Archive != nil,
	}
	if *archive && app.Archive == nil {
		appLogger.Warn("Archiving requested but storage is disabled")
	}

	if *retryFailed {
		stats, err := app.Ingest.RetryFailed(ctx, *limit, opts)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to retry failed records")
		}
		appLogger.WithFields(logger.Fields{
			"total":     stats.TotalItems,
			"processed": stats.ProcessedItems,
			"failed":    stats.FailedItems,
		}).Info("Retry completed")
		return
	}

	sources, err := bootstrap.StagingSources(cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to list staging sources")
	}
	src, ok := sources[*sourceName]
	if !ok {
		names := make([]string, 0, len(sources))
		for name := range sources {
			names = append(names, name)
		}
		sort.Strings(names)
		appLogger.WithFields(logger.Fields{
			"source":    *sourceName,
			"available": strings.Join(names, ","),
		}).Fatal("Unknown source")
	}

	stats, err := app.Ingest.IngestFromSource(ctx, src, *limit, opts)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to ingest from source")
	}
	appLogger.WithFields(logger.Fields{
		"job_id":    stats.JobID,
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"skipped":   stats.SkippedItems,
		"failed":    stats.FailedItems,
	}).Info("Ingestion completed")
}
