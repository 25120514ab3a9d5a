package staging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/timmy/newsagent/internal/domain"
	"github.com/timmy/newsagent/internal/logger"
	"github.com/timmy/newsagent/internal/source"
)

const (
	// ManifestFileName is the JSONL manifest file name in staging sources.
	ManifestFileName = "manifest.jsonl"
	// maxLineSize bounds a single manifest line; article bodies can be long.
	maxLineSize = 4 << 20
)

// ManifestItem represents one content item in the manifest.jsonl file.
type ManifestItem struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	Content      string                 `json:"content"`
	Summary      string                 `json:"summary"`
	URL          string                 `json:"url"`
	ContentType  string                 `json:"content_type"`
	SourceName   string                 `json:"source_name"`
	Authors      []string               `json:"authors"`
	Tags         []string               `json:"tags"`
	Categories   []string               `json:"categories"`
	Language     string                 `json:"language"`
	PublishedAt  string                 `json:"published_at"`
	QualityScore *float64               `json:"quality_score"`
	Metadata     map[string]interface{} `json:"metadata"`

	raw map[string]interface{}
}

// Adapter implements the Source interface for the staging directory.
// The manifest is read on first use and re-read whenever its modification
// time changes, so a long-running server sees newly staged items.
type Adapter struct {
	basePath string
	sourceID string

	mu      sync.Mutex
	items   []ManifestItem
	modTime time.Time
}

var _ source.Source = (*Adapter)(nil)

// NewAdapter creates a new staging adapter.
// Parameters:
//   - basePath: base path to the staging directory.
//   - sourceID: identifier for the staging source.
// Returns:
//   - *Adapter: initialized staging adapter.
func NewAdapter(basePath, sourceID string) *Adapter {
	return &Adapter{
		basePath: basePath,
		sourceID: sourceID,
	}
}

// GetSourceID returns the unique identifier for this source.
// Parameters: none.
// Returns:
//   - string: source identifier with "staging:" prefix.
func (a *Adapter) GetSourceID() string {
	return "staging:" + a.sourceID
}

// GetDisplayName returns a human-readable name for this source.
// Parameters: none.
// Returns:
//   - string: display name for the staging source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Staging (%s)", a.sourceID)
}

// SupportsIncremental returns true if this source supports incremental updates.
// Parameters: none.
// Returns:
//   - bool: false for staging sources.
func (a *Adapter) SupportsIncremental() bool {
	return false
}

// FetchBatch fetches a batch of content records from the staging directory.
// Each call returns fresh records that the caller may modify.
// Parameters:
//   - ctx: context for cancellation and deadlines (unused for local reads).
//   - cursor: pagination cursor as an index string.
//   - limit: maximum number of records to fetch.
// Returns:
//   - []*domain.ContentRecord: batch of content records.
//   - string: next cursor or empty if no more items.
//   - error: non-nil if loading or parsing fails.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]*domain.ContentRecord, string, error) {
	items, err := a.snapshot(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load staging items: %w", err)
	}

	startIndex := 0
	if cursor != "" {
		var err error
		startIndex, err = strconv.Atoi(cursor)
		if err != nil || startIndex < 0 {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
	}

	if startIndex >= len(items) {
		return []*domain.ContentRecord{}, "", nil
	}

	endIndex := min(startIndex+limit, len(items))

	batch := make([]*domain.ContentRecord, 0, endIndex-startIndex)
	for i := startIndex; i < endIndex; i++ {
		batch = append(batch, a.toRecord(&items[i]))
	}

	nextCursor := ""
	if endIndex < len(items) {
		nextCursor = strconv.Itoa(endIndex)
	}

	return batch, nextCursor, nil
}

func (a *Adapter) toRecord(item *ManifestItem) *domain.ContentRecord {
	sourceName := item.SourceName
	if sourceName == "" {
		sourceName = a.GetDisplayName()
	}

	rec := domain.NewContentRecord(item.Title, item.Content, domain.ContentType(item.ContentType), a.GetSourceID(), sourceName)
	rec.ID = fmt.Sprintf("%s_%s", a.sourceID, item.ID)
	rec.Summary = item.Summary
	rec.URL = item.URL
	rec.Authors = append(domain.StringArray{}, item.Authors...)
	rec.Tags = append(domain.StringArray{}, item.Tags...)
	rec.Categories = append(domain.StringArray{}, item.Categories...)
	if item.Language != "" {
		rec.Language = item.Language
	}
	if t, err := time.Parse(time.RFC3339, item.PublishedAt); err == nil {
		rec.PublishedAt = t.UTC()
	}
	if item.QualityScore != nil {
		rec.SetQualityScore(*item.QualityScore)
	}
	for k, v := range item.Metadata {
		rec.Metadata[k] = v
	}
	rec.RawData = domain.JSONMap(item.raw)
	return rec
}

func (a *Adapter) manifestPath() string {
	return filepath.Join(a.basePath, a.sourceID, ManifestFileName)
}

// snapshot returns the current manifest items, reloading them when the
// file changed since the last read. The returned slice is never mutated.
func (a *Adapter) snapshot(ctx context.Context) ([]ManifestItem, error) {
	info, err := os.Stat(a.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest file not found: %s", a.manifestPath())
		}
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.items != nil && info.ModTime().Equal(a.modTime) {
		return a.items, nil
	}

	items, err := readManifest(ctx, a.manifestPath(), a.sourceID)
	if err != nil {
		return nil, err
	}
	a.items, a.modTime = items, info.ModTime()
	return items, nil
}

// readManifest parses a JSONL manifest. Lines that are not JSON objects or
// lack an id are skipped and counted. Items are ordered by id.
func readManifest(ctx context.Context, path, sourceID string) ([]ManifestItem, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	items := []ManifestItem{}
	skipped := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var item ManifestItem
		if err := json.Unmarshal(line, &item); err != nil || item.ID == "" {
			skipped++
			continue
		}
		if err := json.Unmarshal(line, &item.raw); err != nil {
			skipped++
			continue
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}

	if skipped > 0 {
		logger.CtxWarn(ctx, "Skipped malformed manifest lines: source=%s, count=%d", sourceID, skipped)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// GetTotalCount returns the number of valid items in the manifest.
func (a *Adapter) GetTotalCount() (int, error) {
	items, err := a.snapshot(context.Background())
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// ListStagingSources lists all available staging sources.
// Parameters:
//   - basePath: base path to the staging directory.
// Returns:
//   - []string: list of staging source IDs.
//   - error: non-nil if reading the directory fails.
func ListStagingSources(basePath string) ([]string, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var sources []string
	for _, entry := range entries {
		if entry.IsDir() {
			manifestPath := filepath.Join(basePath, entry.Name(), ManifestFileName)
			if _, err := os.Stat(manifestPath); err == nil {
				sources = append(sources, entry.Name())
			}
		}
	}

	return sources, nil
}
