package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// collection's configured dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// ErrInvalidFilter is returned for filters over unknown metadata keys.
var ErrInvalidFilter = errors.New("invalid filter")

// IndexEntry is one stored (vector, text, metadata) triple keyed by content id.
type IndexEntry struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata Metadata
}

// Match is a query hit. Distance is normalized cosine distance in [0, 1],
// smaller is closer.
type Match struct {
	ID       string
	Text     string
	Metadata Metadata
	Distance float64
}

// Filter restricts a query to entries whose metadata equals every value.
type Filter map[string]string

// filterableKeys are the scalar string metadata keys a Filter may name.
var filterableKeys = map[string]bool{
	MetaTitle:       true,
	MetaSourceName:  true,
	MetaContentType: true,
	MetaPublishedAt: true,
	MetaURL:         true,
}

// Validate rejects filters over keys that are not filterable.
func (f Filter) Validate() error {
	for key := range f {
		if !filterableKeys[key] {
			return fmt.Errorf("%w: unknown key %q", ErrInvalidFilter, key)
		}
	}
	return nil
}

// Matches reports whether md satisfies every constraint in f.
func (f Filter) Matches(md Metadata) bool {
	for key, want := range f {
		got, _ := md[key].(string)
		if got != want {
			return false
		}
	}
	return true
}

// sortedKeys returns f's keys in a stable order.
func (f Filter) sortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// VectorIndex is a persistent collection of IndexEntry values supporting
// nearest-neighbor queries. Implementations must be safe for concurrent use.
type VectorIndex interface {
	// EnsureCollection creates the collection if absent. Idempotent.
	EnsureCollection(ctx context.Context) error
	// Insert adds or overwrites the entry for entry.ID.
	Insert(ctx context.Context, entry *IndexEntry) error
	// Fetch returns the entry for id, or nil when absent.
	Fetch(ctx context.Context, id string) (*IndexEntry, error)
	// Query returns at most k matches ordered by ascending distance.
	Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Match, error)
	// Delete removes id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	// Sample returns up to limit entries without vectors.
	Sample(ctx context.Context, limit int) ([]IndexEntry, error)
	Dimension() int
	Close() error
}

func checkDimension(vector []float32, dim int) error {
	if len(vector) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), dim)
	}
	return nil
}
