package service

import (
	"context"
	"fmt"

	"github.com/timmy/newsagent/internal/domain"
	"github.com/timmy/newsagent/internal/repository"
)

const (
	defaultSearchLimit     = 10
	defaultSimilarLimit    = 5
	defaultStatsSampleSize = 100
	unknownBucket          = "unknown"
)

// ContentStore is implemented by components that accept content for
// indexing.
type ContentStore interface {
	Store(ctx context.Context, record *domain.ContentRecord) (string, error)
	Update(ctx context.Context, record *domain.ContentRecord) (string, error)
	Delete(ctx context.Context, id string) bool
}

// SimilarityFinder is implemented by components that can rank content
// against a record.
type SimilarityFinder interface {
	FindSimilar(ctx context.Context, record *domain.ContentRecord, k int, excludeSelf bool) ([]SearchResult, error)
}

// SearchResult is one ranked hit. Similarity is in [0, 1], higher is
// closer.
type SearchResult struct {
	ID         string              `json:"id"`
	Text       string              `json:"text"`
	Metadata   repository.Metadata `json:"metadata"`
	Similarity float64             `json:"similarity"`
}

// RetrievedContent is an index-backed partial view of a record. Warning is
// set when some snapshot fields could not be recovered.
type RetrievedContent struct {
	Record  *domain.ContentRecord
	Warning *domain.ReconstructionWarning
}

// IndexStats summarizes the index. The distributions are computed over a
// sample of at most SampleSize entries and do not sum to TotalCount when
// the index is larger than the sample.
type IndexStats struct {
	TotalCount              int            `json:"total_count"`
	ContentTypeDistribution map[string]int `json:"content_type_distribution"`
	SourceDistribution      map[string]int `json:"source_distribution"`
	EmbeddingDimension      int            `json:"embedding_dimension"`
	SampleSize              int            `json:"sample_size"`
}

// ContentIndexConfig tunes a ContentIndex.
type ContentIndexConfig struct {
	StatsSampleSize int
}

// ContentIndex turns content records into searchable vector index entries
// and answers similarity queries over them. It holds no locks; concurrent
// callers rely on the VectorIndex's own guarantees.
type ContentIndex struct {
	index      repository.VectorIndex
	embedder   EmbeddingProvider
	sampleSize int
}

var (
	_ ContentStore     = (*ContentIndex)(nil)
	_ SimilarityFinder = (*ContentIndex)(nil)
)

// NewContentIndex wires an embedder to a vector index. Their dimensions
// must agree.
func NewContentIndex(index repository.VectorIndex, embedder EmbeddingProvider, cfg ContentIndexConfig) (*ContentIndex, error) {
	if embedder.Dimensions() != index.Dimension() {
		return nil, fmt.Errorf("embedding dimension %d does not match index dimension %d",
			embedder.Dimensions(), index.Dimension())
	}
	sample := cfg.StatsSampleSize
	if sample <= 0 {
		sample = defaultStatsSampleSize
	}
	return &ContentIndex{index: index, embedder: embedder, sampleSize: sample}, nil
}

// Store projects, embeds and inserts record, returning its id.
func (c *ContentIndex) Store(ctx context.Context, record *domain.ContentRecord) (string, error) {
	return runOperation(ctx, "store", record.ID, domain.ErrIndexWrite, func(ctx context.Context) (string, error) {
		return c.store(ctx, "store", record)
	})
}

func (c *ContentIndex) store(ctx context.Context, op string, record *domain.ContentRecord) (string, error) {
	if err := record.Validate(); err != nil {
		return "", domain.NewIndexError(op, record.ID, err, domain.ErrIndexWrite)
	}

	text := ProjectText(record)
	vec, err := c.embed(ctx, text, false)
	if err != nil {
		return "", domain.NewIndexError(op, record.ID, err, domain.ErrEmbeddingFailure, domain.ErrIndexWrite)
	}

	err = c.index.Insert(ctx, &repository.IndexEntry{
		ID:       record.ID,
		Vector:   vec,
		Text:     text,
		Metadata: repository.SnapshotOf(record),
	})
	if err != nil {
		return "", domain.NewIndexError(op, record.ID, err, domain.ErrIndexWrite)
	}
	return record.ID, nil
}

func (c *ContentIndex) embed(ctx context.Context, text string, query bool) ([]float32, error) {
	var (
		vec []float32
		err error
	)
	if query {
		vec, err = c.embedder.EmbedQuery(ctx, text)
	} else {
		vec, err = c.embedder.Embed(ctx, text)
	}
	if err != nil {
		return nil, err
	}
	if len(vec) != c.index.Dimension() {
		return nil, fmt.Errorf("%w: provider returned %d dimensions, index expects %d",
			repository.ErrDimensionMismatch, len(vec), c.index.Dimension())
	}
	return vec, nil
}

// Retrieve rebuilds a partial record from the index entry for id. The body
// is the stored projected text; fields outside the metadata snapshot keep
// their zero values. Absent ids yield an error matching domain.ErrNotFound.
func (c *ContentIndex) Retrieve(ctx context.Context, id string) (*RetrievedContent, error) {
	return runOperation(ctx, "retrieve", id, domain.ErrIndexRead, func(ctx context.Context) (*RetrievedContent, error) {
		entry, err := c.index.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, domain.NewIndexError("retrieve", id, nil, domain.ErrNotFound)
		}

		record := &domain.ContentRecord{ID: entry.ID, Content: entry.Text}
		out := &RetrievedContent{Record: record}
		if missing := entry.Metadata.ApplyTo(record); len(missing) > 0 {
			out.Warning = &domain.ReconstructionWarning{ContentID: id, MissingFields: missing}
		}
		return out, nil
	})
}

// Search embeds query and returns up to k results, most similar first.
// k <= 0 means 10.
func (c *ContentIndex) Search(ctx context.Context, query string, k int, filter repository.Filter) ([]SearchResult, error) {
	if k <= 0 {
		k = defaultSearchLimit
	}
	return runOperation(ctx, "search", "", domain.ErrIndexRead, func(ctx context.Context) ([]SearchResult, error) {
		if err := filter.Validate(); err != nil {
			return nil, err
		}
		vec, err := c.embed(ctx, query, true)
		if err != nil {
			return nil, domain.NewIndexError("search", "", err, domain.ErrEmbeddingFailure)
		}
		matches, err := c.index.Query(ctx, vec, k, filter)
		if err != nil {
			return nil, err
		}
		return toResults(matches, "", k), nil
	})
}

// FindSimilar ranks indexed content against record's own projected text.
// With excludeSelf the record's id never appears in the result. k <= 0
// means 5.
func (c *ContentIndex) FindSimilar(ctx context.Context, record *domain.ContentRecord, k int, excludeSelf bool) ([]SearchResult, error) {
	if k <= 0 {
		k = defaultSimilarLimit
	}
	return runOperation(ctx, "find_similar", record.ID, domain.ErrIndexRead, func(ctx context.Context) ([]SearchResult, error) {
		vec, err := c.embed(ctx, ProjectText(record), false)
		if err != nil {
			return nil, domain.NewIndexError("find_similar", record.ID, err, domain.ErrEmbeddingFailure)
		}

		fetch, skip := k, ""
		if excludeSelf {
			fetch, skip = k+1, record.ID
		}
		matches, err := c.index.Query(ctx, vec, fetch, nil)
		if err != nil {
			return nil, err
		}
		return toResults(matches, skip, k), nil
	})
}

func toResults(matches []repository.Match, skipID string, limit int) []SearchResult {
	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		if skipID != "" && m.ID == skipID {
			continue
		}
		if len(results) == limit {
			break
		}
		results = append(results, SearchResult{
			ID:         m.ID,
			Text:       m.Text,
			Metadata:   m.Metadata,
			Similarity: similarity(m.Distance),
		})
	}
	return results
}

// similarity converts a normalized distance to a score in [0, 1].
func similarity(distance float64) float64 {
	s := 1 - distance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Update replaces the entry for record.ID by deleting it and storing
// record again. The two steps are not atomic: if the store fails after the
// delete, the entry is gone and the caller must store it again.
func (c *ContentIndex) Update(ctx context.Context, record *domain.ContentRecord) (string, error) {
	return runOperation(ctx, "update", record.ID, domain.ErrIndexWrite, func(ctx context.Context) (string, error) {
		if err := c.index.Delete(ctx, record.ID); err != nil {
			return "", err
		}
		return c.store(ctx, "update", record)
	})
}

// Delete removes id from the index. It reports false when id was not
// indexed or the removal failed; it never returns an error.
func (c *ContentIndex) Delete(ctx context.Context, id string) bool {
	deleted, _ := runOperation(ctx, "delete", id, domain.ErrIndexWrite, func(ctx context.Context) (bool, error) {
		entry, err := c.index.Fetch(ctx, id)
		if err != nil {
			return false, err
		}
		if entry == nil {
			return false, nil
		}
		if err := c.index.Delete(ctx, id); err != nil {
			return false, err
		}
		return true, nil
	})
	return deleted
}

// Count returns the number of indexed entries.
func (c *ContentIndex) Count(ctx context.Context) (int, error) {
	return runOperation(ctx, "count", "", domain.ErrIndexRead, func(ctx context.Context) (int, error) {
		return c.index.Count(ctx)
	})
}

// Stats reports the entry count and approximate content-type and source
// distributions over a sample of the index.
func (c *ContentIndex) Stats(ctx context.Context) (*IndexStats, error) {
	return runOperation(ctx, "stats", "", domain.ErrIndexRead, func(ctx context.Context) (*IndexStats, error) {
		total, err := c.index.Count(ctx)
		if err != nil {
			return nil, err
		}

		stats := &IndexStats{
			TotalCount:              total,
			ContentTypeDistribution: map[string]int{},
			SourceDistribution:      map[string]int{},
			EmbeddingDimension:      c.embedder.Dimensions(),
		}
		if total == 0 {
			return stats, nil
		}

		sample, err := c.index.Sample(ctx, min(c.sampleSize, total))
		if err != nil {
			return nil, err
		}
		stats.SampleSize = len(sample)
		for _, e := range sample {
			stats.ContentTypeDistribution[bucket(e.Metadata.String(repository.MetaContentType))]++
			stats.SourceDistribution[bucket(e.Metadata.String(repository.MetaSourceName))]++
		}
		return stats, nil
	})
}

func bucket(v string) string {
	if v == "" {
		return unknownBucket
	}
	return v
}
