package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/newsagent/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SourceRepository persists data source registrations and sync cursors.
type SourceRepository struct {
	db *gorm.DB
}

func NewSourceRepository(db *gorm.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// Register creates the source or refreshes its name, type and url.
func (r *SourceRepository) Register(ctx context.Context, src *domain.DataSource) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "type", "url", "updated_at"}),
	}).Create(src).Error
}

// GetByID returns the source for id, or domain.ErrNotFound.
func (r *SourceRepository) GetByID(ctx context.Context, id string) (*domain.DataSource, error) {
	var src domain.DataSource
	err := r.db.WithContext(ctx).First(&src, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source %s: %w", id, err)
	}
	return &src, nil
}

// UpdateCursor records the position an incremental sync reached.
func (r *SourceRepository) UpdateCursor(ctx context.Context, id, cursor string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&domain.DataSource{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_sync_cursor": cursor,
			"last_sync_at":     now,
		}).Error
}
