package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/timmy/newsagent/internal/domain"
	"github.com/timmy/newsagent/internal/logger"
	"github.com/timmy/newsagent/internal/repository"
	"github.com/timmy/newsagent/internal/source/staging"
	"github.com/timmy/newsagent/internal/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newIngestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

type ingestFixture struct {
	svc     *IngestService
	index   *ContentIndex
	mem     *memIndex
	db      *gorm.DB
	records *repository.ContentRepository
	archive *storage.LocalStorage
}

func newIngestFixture(t *testing.T, records RecordRepository) *ingestFixture {
	t.Helper()
	db := newIngestDB(t)
	mem := newMemIndex(testDim)
	ci, err := NewContentIndex(mem, NewHashEmbedding("", testDim), ContentIndexConfig{})
	if err != nil {
		t.Fatalf("NewContentIndex() error = %v", err)
	}
	archive, err := storage.NewLocalStorage(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	contentRepo := repository.NewContentRepository(db)
	if records == nil {
		records = contentRepo
	}
	svc := NewIngestService(ci, records,
		repository.NewJobRepository(db), repository.NewSourceRepository(db),
		archive, logger.NewDefault(),
		&IngestConfig{Workers: 1, BatchSize: 2, DuplicateThreshold: 0.85})
	return &ingestFixture{svc: svc, index: ci, mem: mem, db: db, records: contentRepo, archive: archive}
}

const paperBody = "We present a scalable approach to quantum error correction using surface codes and real-time decoding."

func writeStaging(t *testing.T, lines ...string) *staging.Adapter {
	t.Helper()
	base := t.TempDir()
	dir := filepath.Join(base, "feed")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, staging.ManifestFileName), []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}
	return staging.NewAdapter(base, "feed")
}

func TestIngestFromSourceDeduplicates(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, nil)
	src := writeStaging(t,
		`{"id":"a","title":"Surface codes","content":"`+paperBody+`","url":"https://example.com/a","content_type":"academic_paper"}`,
		`{"id":"b","title":"Lasagna","content":"Layer pasta with ragu and bechamel, then bake.","url":"https://example.com/b","content_type":"blog_post"}`,
		`{"id":"c","title":"Surface codes","content":"`+paperBody+`","url":"https://mirror.example.com/a","content_type":"news_article"}`,
		`{"id":"d","title":"Cycling","content":"Training plans for long rides.","url":"https://example.com/a"}`,
	)

	stats, err := f.svc.IngestFromSource(ctx, src, 10, &IngestOptions{ArchiveRaw: true})
	if err != nil {
		t.Fatalf("IngestFromSource() error = %v", err)
	}
	if stats.TotalItems != 4 || stats.ProcessedItems != 4 || stats.SkippedItems != 2 || stats.FailedItems != 0 {
		t.Errorf("stats = %+v", stats)
	}

	if n, _ := f.index.Count(ctx); n != 2 {
		t.Errorf("index Count() = %d, want 2", n)
	}

	a, err := f.records.GetByID(ctx, "feed_a")
	if err != nil {
		t.Fatalf("GetByID(a) error = %v", err)
	}
	if a.Status != domain.StatusCompleted || a.ProcessedAt == nil {
		t.Errorf("a status = %s", a.Status)
	}
	if url, _ := a.Metadata["raw_archive_url"].(string); url == "" {
		t.Error("a has no raw_archive_url")
	}
	if ok, _ := f.archive.Exists(ctx, storage.RawArchiveKey("staging:feed", "feed_a")); !ok {
		t.Error("raw payload for a not archived")
	}

	c, err := f.records.GetByID(ctx, "feed_c")
	if err != nil {
		t.Fatalf("GetByID(c) error = %v", err)
	}
	if c.Status != domain.StatusSkipped || !strings.Contains(c.ErrorMessage, "near duplicate of feed_a") {
		t.Errorf("c = %s / %q", c.Status, c.ErrorMessage)
	}

	d, err := f.records.GetByID(ctx, "feed_d")
	if err != nil {
		t.Fatalf("GetByID(d) error = %v", err)
	}
	if d.Status != domain.StatusSkipped || !strings.Contains(d.ErrorMessage, "url") {
		t.Errorf("d = %s / %q", d.Status, d.ErrorMessage)
	}

	jobs, err := f.svc.RecentJobs(ctx, 5)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("RecentJobs() = %v, %v", jobs, err)
	}
	if jobs[0].ID != stats.JobID || jobs[0].Status != domain.JobStatusCompleted || jobs[0].SkippedItems != 2 {
		t.Errorf("job = %+v", jobs[0])
	}

	var srcRow domain.DataSource
	if err := f.db.First(&srcRow, "id = ?", "staging:feed").Error; err != nil {
		t.Errorf("source not registered: %v", err)
	} else if srcRow.Type != domain.SourceTypeStaging {
		t.Errorf("source type = %s", srcRow.Type)
	}
}

func TestIngestForceSkipsDuplicateChecks(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, nil)
	src := writeStaging(t,
		`{"id":"a","title":"Surface codes","content":"`+paperBody+`"}`,
		`{"id":"b","title":"Surface codes","content":"`+paperBody+`"}`,
	)

	stats, err := f.svc.IngestFromSource(ctx, src, 10, &IngestOptions{Force: true})
	if err != nil {
		t.Fatalf("IngestFromSource() error = %v", err)
	}
	if stats.SkippedItems != 0 {
		t.Errorf("SkippedItems = %d, want 0", stats.SkippedItems)
	}
	if n, _ := f.index.Count(ctx); n != 2 {
		t.Errorf("index Count() = %d, want 2", n)
	}
}

func TestIngestRespectsLimit(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, nil)
	src := writeStaging(t,
		`{"id":"1","title":"One","content":"first entry about rockets"}`,
		`{"id":"2","title":"Two","content":"second entry about gardens"}`,
		`{"id":"3","title":"Three","content":"third entry about violins"}`,
	)

	stats, err := f.svc.IngestFromSource(ctx, src, 2, nil)
	if err != nil {
		t.Fatalf("IngestFromSource() error = %v", err)
	}
	if stats.TotalItems != 2 {
		t.Errorf("TotalItems = %d, want 2", stats.TotalItems)
	}
}

func TestIngestRecordsEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, nil)

	rec := domain.NewContentRecord("", "", domain.ContentTypeBlogPost, "api:test", "Test")
	err := f.svc.ProcessRecord(ctx, rec, nil)
	if !errors.Is(err, domain.ErrEmbeddingFailure) {
		t.Fatalf("ProcessRecord() error = %v, want ErrEmbeddingFailure", err)
	}

	saved, err := f.records.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if saved.Status != domain.StatusFailed || saved.ErrorMessage == "" {
		t.Errorf("saved = %s / %q", saved.Status, saved.ErrorMessage)
	}
}

func TestRetryFailed(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, nil)

	f.mem.insertErr = errors.New("index offline")
	rec := domain.NewContentRecord("Retry me", "content that failed to index", domain.ContentTypeBlogPost, "api:test", "Test")
	if err := f.svc.ProcessRecord(ctx, rec, nil); !errors.Is(err, domain.ErrIndexWrite) {
		t.Fatalf("ProcessRecord() error = %v, want ErrIndexWrite", err)
	}

	f.mem.insertErr = nil
	stats, err := f.svc.RetryFailed(ctx, 10, nil)
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	if stats.TotalItems != 1 || stats.FailedItems != 0 {
		t.Errorf("stats = %+v", stats)
	}

	saved, err := f.records.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if saved.Status != domain.StatusCompleted || saved.ErrorMessage != "" {
		t.Errorf("saved = %s / %q", saved.Status, saved.ErrorMessage)
	}
	if n, _ := f.index.Count(ctx); n != 1 {
		t.Errorf("index Count() = %d, want 1", n)
	}
}

type failingRecords struct{}

func (failingRecords) Save(context.Context, *domain.ContentRecord) error {
	return errors.New("database is locked")
}

func (failingRecords) ExistsByURL(context.Context, string) (bool, error) { return false, nil }

func (failingRecords) ListByStatus(context.Context, domain.ProcessingStatus, int, int) ([]domain.ContentRecord, error) {
	return nil, nil
}

func TestIngestRollsBackWhenRecordSaveFails(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, failingRecords{})

	rec := domain.NewContentRecord("Title", "some body text", domain.ContentTypeBlogPost, "api:test", "Test")
	err := f.svc.ProcessRecord(ctx, rec, &IngestOptions{ArchiveRaw: true})
	if err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("ProcessRecord() error = %v", err)
	}

	if n, _ := f.index.Count(ctx); n != 0 {
		t.Errorf("index Count() = %d after rollback, want 0", n)
	}
	if ok, _ := f.archive.Exists(ctx, storage.RawArchiveKey("api:test", rec.ID)); ok {
		t.Error("raw archive left behind after rollback")
	}
}

func TestIngestRejectsInvalidRecord(t *testing.T) {
	f := newIngestFixture(t, nil)
	rec := domain.NewContentRecord("Title", "body", "podcast", "api:test", "Test")
	if err := f.svc.ProcessRecord(context.Background(), rec, nil); !errors.Is(err, domain.ErrInvalidContent) {
		t.Errorf("ProcessRecord() error = %v, want ErrInvalidContent", err)
	}
}
