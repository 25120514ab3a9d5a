package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/newsagent/internal/domain"
	"gorm.io/gorm"
)

// JobRepository persists ingest jobs.
type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job.
func (r *JobRepository) Create(ctx context.Context, job *domain.IngestJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// Update saves every field of job.
func (r *JobRepository) Update(ctx context.Context, job *domain.IngestJob) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// GetByID returns the job for id, or domain.ErrNotFound.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.IngestJob, error) {
	var job domain.IngestJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &job, nil
}

// ListRecent returns the latest jobs, newest first.
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]domain.IngestJob, error) {
	var jobs []domain.IngestJob
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
