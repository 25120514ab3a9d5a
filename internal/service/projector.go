package service

import (
	"strings"

	"github.com/timmy/newsagent/internal/domain"
)

// projectedBodyLimit bounds how much body text enters the embedding.
const projectedBodyLimit = 1000

// ProjectText reduces a record to the text blob that is embedded: title,
// summary, the first projectedBodyLimit characters of the body, then
// "authors:" and "tags:" lines, newline-joined. Blank parts are skipped.
func ProjectText(r *domain.ContentRecord) string {
	parts := make([]string, 0, 5)
	add := func(s string) {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}

	add(r.Title)
	add(r.Summary)
	add(truncateRunes(r.Content, projectedBodyLimit))
	if authors := nonBlank(r.Authors); len(authors) > 0 {
		parts = append(parts, "authors: "+strings.Join(authors, ", "))
	}
	if tags := nonBlank(r.Tags); len(tags) > 0 {
		parts = append(parts, "tags: "+strings.Join(tags, ", "))
	}
	return strings.Join(parts, "\n")
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func nonBlank(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			out = append(out, item)
		}
	}
	return out
}
