// Package bootstrap assembles the service graph shared by the API server
// and the ingest CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/newsagent/internal/config"
	"github.com/timmy/newsagent/internal/logger"
	"github.com/timmy/newsagent/internal/repository"
	"github.com/timmy/newsagent/internal/service"
	"github.com/timmy/newsagent/internal/source"
	"github.com/timmy/newsagent/internal/source/staging"
	"github.com/timmy/newsagent/internal/storage"
	"gorm.io/gorm"
)

// App holds the wired components.
type App struct {
	DB       *gorm.DB
	Vectors  repository.VectorIndex
	Embedder service.EmbeddingProvider
	Index    *service.ContentIndex
	Records  *repository.ContentRepository
	Archive  storage.ObjectStorage
	Ingest   *service.IngestService
}

// New opens the database, the configured vector backend and the optional
// raw archive, and wires the content index and ingest service on top.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (app *App, err error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	app = &App{DB: db}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	if app.Embedder, err = service.NewEmbeddingProvider(&cfg.Embedding); err != nil {
		return app, err
	}
	if app.Vectors, err = newVectorIndex(cfg, db); err != nil {
		return app, err
	}
	if err = app.Vectors.EnsureCollection(ctx); err != nil {
		return app, fmt.Errorf("failed to ensure collection %s: %w", cfg.Index.Collection, err)
	}

	app.Index, err = service.NewContentIndex(app.Vectors, app.Embedder, service.ContentIndexConfig{
		StatsSampleSize: cfg.Index.StatsSampleSize,
	})
	if err != nil {
		return app, err
	}

	if cfg.Storage.Enabled {
		if app.Archive, err = storage.NewStorage(&cfg.Storage); err != nil {
			return app, fmt.Errorf("failed to initialize storage: %w", err)
		}
		if s3, ok := app.Archive.(*storage.S3Storage); ok {
			if err = s3.EnsureBucket(ctx); err != nil {
				return app, fmt.Errorf("failed to ensure storage bucket: %w", err)
			}
		}
	}

	app.Records = repository.NewContentRepository(db)
	app.Ingest = service.NewIngestService(
		app.Index,
		app.Records,
		repository.NewJobRepository(db),
		repository.NewSourceRepository(db),
		app.Archive,
		log,
		&service.IngestConfig{
			Workers:            cfg.Ingest.Workers,
			BatchSize:          cfg.Ingest.BatchSize,
			DuplicateThreshold: cfg.Ingest.DuplicateThreshold,
		},
	)

	log.WithFields(logger.Fields{
		"backend":    cfg.Index.Backend,
		"collection": cfg.Index.Collection,
		"provider":   cfg.Embedding.Provider,
		"model":      app.Embedder.GetModel(),
		"dimensions": app.Embedder.Dimensions(),
		"archive":    app.Archive != nil,
	}).Info("Content index ready")

	return app, nil
}

func newVectorIndex(cfg *config.Config, db *gorm.DB) (repository.VectorIndex, error) {
	switch cfg.Index.Backend {
	case "qdrant":
		repo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Index.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "sql":
		repo, err := repository.NewSQLVectorRepository(db, cfg.Index.Collection, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

// StagingSources returns one adapter per staging directory that has a
// manifest, keyed by directory name.
func StagingSources(cfg *config.Config) (map[string]source.Source, error) {
	names, err := staging.ListStagingSources(cfg.Sources.Staging.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list staging sources: %w", err)
	}
	sources := make(map[string]source.Source, len(names))
	for _, name := range names {
		sources[name] = staging.NewAdapter(cfg.Sources.Staging.BasePath, name)
	}
	return sources, nil
}

// Close releases the vector index and the database.
func (a *App) Close() error {
	var errs []error
	if a.Vectors != nil {
		errs = append(errs, a.Vectors.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
