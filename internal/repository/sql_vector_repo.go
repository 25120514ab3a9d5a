package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// indexEntryRow is the table layout of the SQL vector backend.
type indexEntryRow struct {
	Collection string `gorm:"type:text;primaryKey"`
	ID         string `gorm:"type:text;primaryKey"`
	Embedding  []byte
	Dimension  int
	Document   string `gorm:"type:text"`
	Metadata   string `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (indexEntryRow) TableName() string {
	return "index_entries"
}

// SQLVectorRepository is a VectorIndex stored in a relational table and
// searched by brute-force cosine similarity. It suits embedded deployments
// and collections small enough to scan per query.
type SQLVectorRepository struct {
	db         *gorm.DB
	collection string
	dimension  int
}

var _ VectorIndex = (*SQLVectorRepository)(nil)

// NewSQLVectorRepository creates a vector index over db.
// Parameters:
//   - db: GORM handle (sqlite or postgres).
//   - collection: namespace for this application's entries.
//   - dimension: required vector length.
func NewSQLVectorRepository(db *gorm.DB, collection string, dimension int) (*SQLVectorRepository, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("sql vector index: dimension must be positive")
	}
	if collection == "" {
		return nil, fmt.Errorf("sql vector index: collection name is required")
	}
	return &SQLVectorRepository{db: db, collection: collection, dimension: dimension}, nil
}

func (r *SQLVectorRepository) Dimension() int {
	return r.dimension
}

// Close is a no-op; the *gorm.DB is owned by the caller.
func (r *SQLVectorRepository) Close() error {
	return nil
}

// EnsureCollection migrates the table and checks that stored vectors match
// the configured dimension.
func (r *SQLVectorRepository) EnsureCollection(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&indexEntryRow{}); err != nil {
		return fmt.Errorf("failed to migrate index table: %w", err)
	}

	var row indexEntryRow
	err := r.db.WithContext(ctx).
		Select("dimension").
		Where("collection = ?", r.collection).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to inspect collection: %w", err)
	}
	if row.Dimension != r.dimension {
		return fmt.Errorf("%w: collection %s has vector size %d, expected %d",
			ErrDimensionMismatch, r.collection, row.Dimension, r.dimension)
	}
	return nil
}

// Insert upserts the entry keyed by (collection, id).
func (r *SQLVectorRepository) Insert(ctx context.Context, entry *IndexEntry) error {
	if err := checkDimension(entry.Vector, r.dimension); err != nil {
		return err
	}
	md, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	row := indexEntryRow{
		Collection: r.collection,
		ID:         entry.ID,
		Embedding:  encodeVector(entry.Vector),
		Dimension:  len(entry.Vector),
		Document:   entry.Text,
		Metadata:   string(md),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"embedding", "dimension", "document", "metadata", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert index entry: %w", err)
	}
	return nil
}

// Fetch returns the entry for id, or nil when absent.
func (r *SQLVectorRepository) Fetch(ctx context.Context, id string) (*IndexEntry, error) {
	var row indexEntryRow
	err := r.db.WithContext(ctx).
		Where("collection = ? AND id = ?", r.collection, id).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index entry: %w", err)
	}
	return row.toEntry(true)
}

// Query scans the collection, keeps rows matching filter and returns the k
// closest by cosine distance.
func (r *SQLVectorRepository) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if err := checkDimension(vector, r.dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}

	var rows []indexEntryRow
	if err := r.db.WithContext(ctx).Where("collection = ?", r.collection).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load index entries: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toEntry(true)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(entry.Metadata) || len(entry.Vector) != len(vector) {
			continue
		}
		matches = append(matches, Match{
			ID:       entry.ID,
			Text:     entry.Text,
			Metadata: entry.Metadata,
			Distance: CosineDistance(cosineSimilarity(vector, entry.Vector)),
		})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Distance != matches[b].Distance {
			return matches[a].Distance < matches[b].Distance
		}
		return matches[a].ID < matches[b].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete removes id; unknown ids are not an error.
func (r *SQLVectorRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).
		Where("collection = ? AND id = ?", r.collection, id).
		Delete(&indexEntryRow{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete index entry: %w", err)
	}
	return nil
}

func (r *SQLVectorRepository) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&indexEntryRow{}).Where("collection = ?", r.collection).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count index entries: %w", err)
	}
	return int(n), nil
}

// Sample returns up to limit entries ordered by id, without vectors.
func (r *SQLVectorRepository) Sample(ctx context.Context, limit int) ([]IndexEntry, error) {
	if limit <= 0 {
		return []IndexEntry{}, nil
	}
	var rows []indexEntryRow
	err := r.db.WithContext(ctx).
		Select("collection", "id", "document", "metadata").
		Where("collection = ?", r.collection).
		Order("id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sample index entries: %w", err)
	}

	entries := make([]IndexEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toEntry(false)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (row *indexEntryRow) toEntry(withVector bool) (*IndexEntry, error) {
	entry := &IndexEntry{ID: row.ID, Text: row.Document, Metadata: Metadata{}}
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", row.ID, err)
		}
	}
	if withVector {
		vec, err := decodeVector(row.Embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to decode vector for %s: %w", row.ID, err)
		}
		entry.Vector = vec
	}
	return entry, nil
}
