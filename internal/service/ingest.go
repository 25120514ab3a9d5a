package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/newsagent/internal/domain"
	"github.com/timmy/newsagent/internal/logger"
	"github.com/timmy/newsagent/internal/repository"
	"github.com/timmy/newsagent/internal/source"
	"github.com/timmy/newsagent/internal/storage"
)

// RecordRepository persists full content records next to the index.
type RecordRepository interface {
	Save(ctx context.Context, record *domain.ContentRecord) error
	ExistsByURL(ctx context.Context, url string) (bool, error)
	ListByStatus(ctx context.Context, status domain.ProcessingStatus, limit, offset int) ([]domain.ContentRecord, error)
}

// contentIndexer is what ingestion needs from the content index.
type contentIndexer interface {
	ContentStore
	SimilarityFinder
}

// IngestService handles the data ingestion pipeline
type IngestService struct {
	index   contentIndexer
	records RecordRepository
	jobs    *repository.JobRepository
	sources *repository.SourceRepository
	archive storage.ObjectStorage
	logger  *logger.Logger

	workers            int
	batchSize          int
	duplicateThreshold float64
}

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	Workers            int
	BatchSize          int
	DuplicateThreshold float64
}

// NewIngestService creates a new ingest service. jobs, sources and archive
// may be nil; the matching bookkeeping is then skipped.
func NewIngestService(
	index contentIndexer,
	records RecordRepository,
	jobs *repository.JobRepository,
	sources *repository.SourceRepository,
	archive storage.ObjectStorage,
	log *logger.Logger,
	cfg *IngestConfig,
) *IngestService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	return &IngestService{
		index:              index,
		records:            records,
		jobs:               jobs,
		sources:            sources,
		archive:            archive,
		logger:             log,
		workers:            workers,
		batchSize:          batchSize,
		duplicateThreshold: cfg.DuplicateThreshold,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *IngestService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// IngestStats holds statistics for an ingestion run
type IngestStats struct {
	JobID          string    `json:"job_id,omitempty"`
	TotalItems     int64     `json:"total_items"`
	ProcessedItems int64     `json:"processed_items"`
	SkippedItems   int64     `json:"skipped_items"`
	FailedItems    int64     `json:"failed_items"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
}

// IngestOptions holds options for ingestion
type IngestOptions struct {
	Force      bool // skip URL and near-duplicate checks
	ArchiveRaw bool // upload each record's raw payload to the archive
}

// IngestFromSource ingests up to limit records from src.
func (s *IngestService) IngestFromSource(ctx context.Context, src source.Source, limit int, opts *IngestOptions) (*IngestStats, error) {
	if opts == nil {
		opts = &IngestOptions{}
	}

	stats := &IngestStats{
		StartTime: time.Now(),
	}

	job := s.startJob(ctx, src)
	if job != nil {
		stats.JobID = job.ID
		ctx = logger.SetJobID(ctx, job.ID)
	}
	ctx = logger.SetSource(ctx, src.GetSourceID())

	s.log(ctx).WithFields(logger.Fields{
		"limit": limit,
		"force": opts.Force,
	}).Info("Starting ingestion")

	itemsChan := make(chan *domain.ContentRecord, s.workers*2)
	resultsChan := make(chan *processResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, itemsChan, resultsChan, opts)
		}()
	}

	done := make(chan struct{})
	go func() {
		for result := range resultsChan {
			atomic.AddInt64(&stats.ProcessedItems, 1)
			if result.skipped {
				atomic.AddInt64(&stats.SkippedItems, 1)
			} else if result.err != nil {
				atomic.AddInt64(&stats.FailedItems, 1)
				s.log(ctx).WithFields(logger.Fields{
					logger.FieldContentID: result.contentID,
				}).WithError(result.err).Error("Failed to process item")
			}
		}
		close(done)
	}()

	cursor := ""
	totalFetched := 0
	var fetchErr error
fetch:
	for ctx.Err() == nil {
		remaining := limit - totalFetched
		if remaining <= 0 {
			break
		}

		items, nextCursor, err := src.FetchBatch(ctx, cursor, min(s.batchSize, remaining))
		if err != nil {
			fetchErr = fmt.Errorf("failed to fetch batch: %w", err)
			break
		}
		if len(items) == 0 {
			break
		}

		atomic.AddInt64(&stats.TotalItems, int64(len(items)))
		totalFetched += len(items)

		for _, item := range items {
			select {
			case itemsChan <- item:
			case <-ctx.Done():
				break fetch
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	close(itemsChan)
	wg.Wait()

	close(resultsChan)
	<-done

	stats.EndTime = time.Now()
	if fetchErr == nil && ctx.Err() != nil {
		fetchErr = fmt.Errorf("ingestion interrupted: %w", ctx.Err())
	}

	// bookkeeping must land even when the run was canceled
	bookCtx := context.WithoutCancel(ctx)
	if s.sources != nil && src.SupportsIncremental() && cursor != "" {
		if err := s.sources.UpdateCursor(bookCtx, src.GetSourceID(), cursor); err != nil {
			s.log(ctx).WithError(err).Warn("Failed to record sync cursor")
		}
	}
	s.finishJob(bookCtx, job, stats, fetchErr)

	s.log(ctx).WithFields(logger.Fields{
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"skipped":   stats.SkippedItems,
		"failed":    stats.FailedItems,
		"duration":  stats.EndTime.Sub(stats.StartTime).String(),
	}).Info("Ingestion completed")

	return stats, fetchErr
}

func (s *IngestService) startJob(ctx context.Context, src source.Source) *domain.IngestJob {
	if s.sources != nil {
		err := s.sources.Register(ctx, &domain.DataSource{
			ID:        src.GetSourceID(),
			Name:      src.GetDisplayName(),
			Type:      sourceTypeOf(src.GetSourceID()),
			Weight:    1,
			IsEnabled: true,
		})
		if err != nil {
			s.log(ctx).WithError(err).Warn("Failed to register source")
		}
	}
	if s.jobs == nil {
		return nil
	}

	job := domain.NewIngestJob(uuid.NewString(), src.GetSourceID())
	if err := s.jobs.Create(ctx, job); err != nil {
		s.log(ctx).WithError(err).Warn("Failed to create ingest job")
		return nil
	}
	return job
}

func sourceTypeOf(sourceID string) domain.SourceType {
	if prefix, _, ok := strings.Cut(sourceID, ":"); ok {
		return domain.SourceType(prefix)
	}
	return domain.SourceTypeAPI
}

func (s *IngestService) finishJob(ctx context.Context, job *domain.IngestJob, stats *IngestStats, runErr error) {
	if job == nil {
		return
	}
	job.Finish(int(stats.TotalItems), int(stats.ProcessedItems), int(stats.SkippedItems), int(stats.FailedItems), runErr)
	if err := s.jobs.Update(ctx, job); err != nil {
		s.log(ctx).WithError(err).Warn("Failed to update ingest job")
	}
}

type processResult struct {
	contentID string
	skipped   bool
	err       error
}

// errSkipDuplicate marks a record that was not indexed because it repeats
// known content.
var errSkipDuplicate = errors.New("skipped: duplicate content")

func (s *IngestService) worker(ctx context.Context, items <-chan *domain.ContentRecord, results chan<- *processResult, opts *IngestOptions) {
	for item := range items {
		if ctx.Err() != nil {
			return
		}

		result := &processResult{contentID: item.ID}
		if err := s.processItem(ctx, item, opts); err != nil {
			if errors.Is(err, errSkipDuplicate) {
				result.skipped = true
			} else {
				result.err = err
			}
		}
		results <- result
	}
}

// ProcessRecord runs one record through the pipeline outside a batch run.
func (s *IngestService) ProcessRecord(ctx context.Context, record *domain.ContentRecord, opts *IngestOptions) error {
	if opts == nil {
		opts = &IngestOptions{}
	}
	return s.processItem(ctx, record, opts)
}

func (s *IngestService) processItem(ctx context.Context, record *domain.ContentRecord, opts *IngestOptions) error {
	record.Normalize()
	if err := record.Validate(); err != nil {
		return err
	}
	ctx = logger.WithField(ctx, logger.FieldContentID, record.ID)

	if !opts.Force {
		reason, err := s.duplicateOf(ctx, record)
		if err != nil {
			return s.markFailed(ctx, record, err)
		}
		if reason != "" {
			record.MarkProcessed(domain.StatusSkipped, reason)
			if err := s.records.Save(ctx, record); err != nil {
				s.log(ctx).WithError(err).Warn("Failed to save skipped record")
			}
			return fmt.Errorf("%w: %s", errSkipDuplicate, reason)
		}
	}

	record.Status = domain.StatusProcessing
	if _, err := s.index.Store(ctx, record); err != nil {
		return s.markFailed(ctx, record, err)
	}

	archiveKey := ""
	if opts.ArchiveRaw && s.archive != nil {
		key, err := s.archiveRaw(ctx, record)
		if err != nil {
			s.rollbackIndex(ctx, record.ID)
			return s.markFailed(ctx, record, err)
		}
		archiveKey = key
	}

	record.MarkProcessed(domain.StatusCompleted, "")
	if err := s.records.Save(ctx, record); err != nil {
		s.rollbackIndex(ctx, record.ID)
		if archiveKey != "" {
			if delErr := s.archive.Delete(ctx, archiveKey); delErr != nil {
				s.log(ctx).WithField("storage_key", archiveKey).WithError(delErr).Error("Failed to rollback raw archive")
			}
		}
		return fmt.Errorf("failed to save record: %w", err)
	}

	return nil
}

// markFailed stores record with status failed and returns err.
func (s *IngestService) markFailed(ctx context.Context, record *domain.ContentRecord, err error) error {
	record.MarkProcessed(domain.StatusFailed, err.Error())
	if saveErr := s.records.Save(ctx, record); saveErr != nil {
		s.log(ctx).WithError(saveErr).Warn("Failed to save failed record")
	}
	return err
}

// duplicateOf returns a non-empty reason when record repeats known content:
// a stored record with the same URL, or an indexed entry at least
// duplicateThreshold similar.
func (s *IngestService) duplicateOf(ctx context.Context, record *domain.ContentRecord) (string, error) {
	if record.URL != "" {
		exists, err := s.records.ExistsByURL(ctx, record.URL)
		if err != nil {
			return "", fmt.Errorf("failed to check url: %w", err)
		}
		if exists {
			return "url already ingested", nil
		}
	}

	if s.duplicateThreshold <= 0 {
		return "", nil
	}
	similar, err := s.index.FindSimilar(ctx, record, 1, true)
	if err != nil {
		return "", err
	}
	if len(similar) > 0 && similar[0].Similarity >= s.duplicateThreshold {
		return fmt.Sprintf("near duplicate of %s (similarity %.3f)", similar[0].ID, similar[0].Similarity), nil
	}
	return "", nil
}

func (s *IngestService) archiveRaw(ctx context.Context, record *domain.ContentRecord) (string, error) {
	var payload interface{} = record.RawData
	if len(record.RawData) == 0 {
		payload = record
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode raw payload: %w", err)
	}

	key := storage.RawArchiveKey(record.SourceID, record.ID)
	if err := s.archive.Upload(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return "", fmt.Errorf("failed to archive raw payload: %w", err)
	}
	if record.Metadata == nil {
		record.Metadata = domain.JSONMap{}
	}
	record.Metadata["raw_archive_url"] = s.archive.GetURL(key)
	return key, nil
}

func (s *IngestService) rollbackIndex(ctx context.Context, id string) {
	if !s.index.Delete(ctx, id) {
		s.log(ctx).Error("Failed to rollback index entry")
	}
}

// RetryFailed reprocesses up to limit records whose last run failed.
func (s *IngestService) RetryFailed(ctx context.Context, limit int, opts *IngestOptions) (*IngestStats, error) {
	if opts == nil {
		opts = &IngestOptions{}
	}
	stats := &IngestStats{
		StartTime: time.Now(),
	}

	failed, err := s.records.ListByStatus(ctx, domain.StatusFailed, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed records: %w", err)
	}
	stats.TotalItems = int64(len(failed))

	for i := range failed {
		if ctx.Err() != nil {
			break
		}
		record := &failed[i]
		record.ErrorMessage = ""
		stats.ProcessedItems++
		if err := s.processItem(ctx, record, opts); err != nil {
			if errors.Is(err, errSkipDuplicate) {
				stats.SkippedItems++
				continue
			}
			stats.FailedItems++
			s.log(ctx).WithField(logger.FieldContentID, record.ID).WithError(err).Warn("Retry failed")
		}
	}

	stats.EndTime = time.Now()
	return stats, nil
}

// RecentJobs lists the latest ingest jobs, newest first.
func (s *IngestService) RecentJobs(ctx context.Context, limit int) ([]domain.IngestJob, error) {
	if s.jobs == nil {
		return nil, nil
	}
	return s.jobs.ListRecent(ctx, limit)
}
