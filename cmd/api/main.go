package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/newsagent/internal/api"
	"github.com/timmy/newsagent/internal/bootstrap"
	"github.com/timmy/newsagent/internal/config"
	"github.com/timmy/newsagent/internal/logger"
)

func main() {
	envCfg := logger.LoadFromEnv()
	envCfg.ServiceName = "newsagent-api"
	appLogger := logger.NewFromEnv(envCfg)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// CONFIG_PATH lets deployments point at a mounted config file
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		appLogger.WithError(err).Fatal("Failed to create data directories")
	}

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize content index")
	}
	defer app.Close()

	sources, err := bootstrap.StagingSources(cfg)
	if err != nil {
		appLogger.WithError(err).Warn("Staging sources unavailable")
	}

	router := api.SetupRouter(api.Dependencies{
		Index:      app.Index,
		Records:    app.Records,
		Ingest:     app.Ingest,
		Sources:    sources,
		ArchiveRaw: cfg.Ingest.ArchiveRaw && app.Archive != nil,
		Logger:     appLogger,
	}, cfg.Server)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":    cfg.Server.Port,
			"mode":    cfg.Server.Mode,
			"sources": len(sources),
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
