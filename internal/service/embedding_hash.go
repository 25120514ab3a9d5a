package service

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedding is an offline provider that hashes word unigrams and
// bigrams into a fixed number of buckets and L2-normalizes the counts.
// Texts sharing vocabulary land close together under cosine similarity.
type HashEmbedding struct {
	model      string
	dimensions int
}

func NewHashEmbedding(model string, dimensions int) *HashEmbedding {
	if model == "" {
		model = "hash-bow"
	}
	return &HashEmbedding{model: model, dimensions: dimensions}
}

func (h *HashEmbedding) GetModel() string { return h.model }
func (h *HashEmbedding) Dimensions() int  { return h.dimensions }

func (h *HashEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return h.Embed(ctx, query)
}

func (h *HashEmbedding) Embed(_ context.Context, text string) ([]float32, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}

	vec := make([]float32, h.dimensions)
	add := func(feature string, weight float32) {
		hs := fnv.New64a()
		_, _ = hs.Write([]byte(feature))
		sum := hs.Sum64()
		bucket := int(sum % uint64(h.dimensions))
		// top bit selects the sign
		if sum>>63 == 1 {
			weight = -weight
		}
		vec[bucket] += weight
	}
	for i, tok := range tokens {
		add(tok, 1)
		if i > 0 {
			add(tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return nil, ErrEmptyText
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
