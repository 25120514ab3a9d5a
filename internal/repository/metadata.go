package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/timmy/newsagent/internal/domain"
)

// Metadata snapshot keys.
const (
	MetaTitle        = "title"
	MetaSourceName   = "source_name"
	MetaContentType  = "content_type"
	MetaPublishedAt  = "published_at"
	MetaQualityScore = "quality_score"
	MetaURL          = "url"
	MetaAuthors      = "authors"
	MetaCategories   = "categories"
	MetaTags         = "tags"
)

// snapshotKeys lists every key a complete snapshot carries.
var snapshotKeys = []string{
	MetaTitle, MetaSourceName, MetaContentType, MetaPublishedAt,
	MetaQualityScore, MetaURL, MetaAuthors, MetaCategories, MetaTags,
}

// Metadata is a flat map of scalar values (string or float64) stored next
// to a vector. List fields are JSON arrays encoded into strings.
type Metadata map[string]interface{}

// String returns the string value at key, or "".
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// SnapshotOf flattens the indexed subset of r into Metadata.
func SnapshotOf(r *domain.ContentRecord) Metadata {
	md := Metadata{
		MetaTitle:        r.Title,
		MetaSourceName:   r.SourceName,
		MetaContentType:  string(r.ContentType),
		MetaQualityScore: r.QualityScore,
		MetaURL:          r.URL,
		MetaAuthors:      encodeList(r.Authors),
		MetaCategories:   encodeList(r.Categories),
		MetaTags:         encodeList(r.Tags),
		MetaPublishedAt:  "",
	}
	if !r.PublishedAt.IsZero() {
		md[MetaPublishedAt] = r.PublishedAt.UTC().Format(time.RFC3339Nano)
	}
	return md
}

// ApplyTo writes the snapshot's fields onto r and returns the keys that were
// absent or could not be decoded.
func (m Metadata) ApplyTo(r *domain.ContentRecord) []string {
	var missing []string
	note := func(key string) { missing = append(missing, key) }

	for _, key := range snapshotKeys {
		raw, ok := m[key]
		if !ok {
			note(key)
			continue
		}
		switch key {
		case MetaTitle:
			r.Title, ok = raw.(string)
		case MetaSourceName:
			r.SourceName, ok = raw.(string)
		case MetaURL:
			r.URL, ok = raw.(string)
		case MetaContentType:
			var s string
			s, ok = raw.(string)
			r.ContentType = domain.ContentType(s)
		case MetaPublishedAt:
			ok = applyTime(raw, &r.PublishedAt)
		case MetaQualityScore:
			var f float64
			if f, ok = toFloat(raw); ok {
				r.SetQualityScore(f)
			}
		case MetaAuthors:
			ok = applyList(raw, (*[]string)(&r.Authors))
		case MetaCategories:
			ok = applyList(raw, (*[]string)(&r.Categories))
		case MetaTags:
			ok = applyList(raw, (*[]string)(&r.Tags))
		}
		if !ok {
			note(key)
		}
	}
	return missing
}

func encodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func decodeList(s string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode list %q: %w", s, err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func applyList(raw interface{}, dst *[]string) bool {
	s, ok := raw.(string)
	if !ok {
		return false
	}
	items, err := decodeList(s)
	if err != nil {
		return false
	}
	*dst = items
	return true
}

func applyTime(raw interface{}, dst *time.Time) bool {
	s, ok := raw.(string)
	if !ok {
		return false
	}
	if s == "" {
		*dst = time.Time{}
		return true
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return false
	}
	*dst = t
	return true
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
