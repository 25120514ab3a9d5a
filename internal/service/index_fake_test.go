package service

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/timmy/newsagent/internal/repository"
)

// memIndex is an in-memory VectorIndex with injectable failures.
type memIndex struct {
	mu      sync.Mutex
	dim     int
	entries map[string]repository.IndexEntry

	insertErr error
	fetchErr  error
	queryErr  error
	deleteErr error
}

func newMemIndex(dim int) *memIndex {
	return &memIndex{dim: dim, entries: map[string]repository.IndexEntry{}}
}

func (m *memIndex) EnsureCollection(context.Context) error { return nil }
func (m *memIndex) Dimension() int                        { return m.dim }
func (m *memIndex) Close() error                          { return nil }

func (m *memIndex) Insert(_ context.Context, e *repository.IndexEntry) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = *e
	return nil
}

func (m *memIndex) Fetch(_ context.Context, id string) (*repository.IndexEntry, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memIndex) Query(_ context.Context, vec []float32, k int, f repository.Filter) ([]repository.Match, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Match
	for _, e := range m.entries {
		if !f.Matches(e.Metadata) {
			continue
		}
		out = append(out, repository.Match{
			ID:       e.ID,
			Text:     e.Text,
			Metadata: e.Metadata,
			Distance: repository.CosineDistance(cosine(vec, e.Vector)),
		})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Distance != out[b].Distance {
			return out[a].Distance < out[b].Distance
		}
		return out[a].ID < out[b].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *memIndex) Delete(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *memIndex) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *memIndex) Sample(_ context.Context, limit int) ([]repository.IndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]repository.IndexEntry, 0, len(ids))
	for _, id := range ids {
		e := m.entries[id]
		e.Vector = nil
		out = append(out, e)
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
