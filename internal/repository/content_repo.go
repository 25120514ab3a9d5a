package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/newsagent/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContentRepository persists full content records.
type ContentRepository struct {
	db *gorm.DB
}

// NewContentRepository creates a ContentRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ContentRepository: repository instance bound to db.
func NewContentRepository(db *gorm.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// Save creates or replaces the record keyed by id.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - record: record to persist.
// Returns:
//   - error: non-nil if the write fails.
func (r *ContentRepository) Save(ctx context.Context, record *domain.ContentRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(record).Error
}

// GetByID returns the record for id, or domain.ErrNotFound.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: content id.
// Returns:
//   - *domain.ContentRecord: the stored record.
//   - error: domain.ErrNotFound when absent.
func (r *ContentRepository) GetByID(ctx context.Context, id string) (*domain.ContentRecord, error) {
	var record domain.ContentRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content %s: %w", id, err)
	}
	return &record, nil
}

// ExistsByURL reports whether a completed record with the canonical url
// exists. Failed and skipped records do not count.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - url: canonical URL.
// Returns:
//   - bool: true if a record exists.
//   - error: non-nil if the lookup fails.
func (r *ContentRepository) ExistsByURL(ctx context.Context, url string) (bool, error) {
	if url == "" {
		return false, nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.ContentRecord{}).Where("url = ? AND status = ?", url, domain.StatusCompleted).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListByStatus returns records in status, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - status: processing status to filter by.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
// Returns:
//   - []domain.ContentRecord: matching records.
//   - error: non-nil if the query fails.
func (r *ContentRepository) ListByStatus(ctx context.Context, status domain.ProcessingStatus, limit, offset int) ([]domain.ContentRecord, error) {
	var records []domain.ContentRecord
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("collected_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// CountByStatus counts records in status.
func (r *ContentRepository) CountByStatus(ctx context.Context, status domain.ProcessingStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.ContentRecord{}).Where("status = ?", status).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Delete removes the record for id. Unknown ids are not an error.
func (r *ContentRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.ContentRecord{}, "id = ?", id).Error
}
