package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/timmy/newsagent/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newTestIndex(t *testing.T, dim int) *SQLVectorRepository {
	t.Helper()
	idx, err := NewSQLVectorRepository(newTestDB(t), "news_content", dim)
	if err != nil {
		t.Fatalf("NewSQLVectorRepository() error = %v", err)
	}
	if err := idx.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	return idx
}

func TestSQLVectorRepository_InsertFetchDelete(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 3)

	entry := &IndexEntry{
		ID:       "a",
		Vector:   []float32{1, 0, 0},
		Text:     "alpha",
		Metadata: Metadata{MetaTitle: "Alpha", MetaQualityScore: 0.9},
	}
	if err := idx.Insert(ctx, entry); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	// overwrite keeps a single entry
	entry.Text = "alpha v2"
	if err := idx.Insert(ctx, entry); err != nil {
		t.Fatalf("Insert() overwrite error = %v", err)
	}
	if n, _ := idx.Count(ctx); n != 1 {
		t.Fatalf("Count() = %d, want 1", n)
	}

	got, err := idx.Fetch(ctx, "a")
	if err != nil || got == nil {
		t.Fatalf("Fetch() = %v, %v", got, err)
	}
	if got.Text != "alpha v2" || got.Metadata.String(MetaTitle) != "Alpha" {
		t.Errorf("Fetch() = %+v", got)
	}
	if q, ok := got.Metadata[MetaQualityScore].(float64); !ok || q != 0.9 {
		t.Errorf("quality_score = %v", got.Metadata[MetaQualityScore])
	}
	if len(got.Vector) != 3 {
		t.Errorf("vector len = %d", len(got.Vector))
	}

	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if got, err := idx.Fetch(ctx, "a"); err != nil || got != nil {
		t.Errorf("Fetch() after delete = %v, %v", got, err)
	}
}

func TestSQLVectorRepository_Query(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 2)

	entries := []IndexEntry{
		{ID: "x", Vector: []float32{1, 0}, Metadata: Metadata{MetaContentType: "blog_post"}},
		{ID: "y", Vector: []float32{0.8, 0.6}, Metadata: Metadata{MetaContentType: "news_article"}},
		{ID: "z", Vector: []float32{0.6, 0.8}, Metadata: Metadata{MetaContentType: "blog_post"}},
		{ID: "w", Vector: []float32{-1, 0}, Metadata: Metadata{MetaContentType: "blog_post"}},
	}
	for i := range entries {
		if err := idx.Insert(ctx, &entries[i]); err != nil {
			t.Fatalf("Insert(%s) error = %v", entries[i].ID, err)
		}
	}

	matches, err := idx.Query(ctx, []float32{1, 0}, 3, nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	wantOrder := []string{"x", "y", "z"}
	if len(matches) != len(wantOrder) {
		t.Fatalf("Query() returned %d matches, want %d", len(matches), len(wantOrder))
	}
	for i, id := range wantOrder {
		if matches[i].ID != id {
			t.Errorf("matches[%d] = %s, want %s", i, matches[i].ID, id)
		}
		if matches[i].Distance < 0 || matches[i].Distance > 1 {
			t.Errorf("distance %v out of range", matches[i].Distance)
		}
		if i > 0 && matches[i].Distance < matches[i-1].Distance {
			t.Errorf("distances not ascending at %d", i)
		}
	}
	if matches[0].Distance > 1e-6 {
		t.Errorf("self distance = %v, want 0", matches[0].Distance)
	}

	filtered, err := idx.Query(ctx, []float32{1, 0}, 10, Filter{MetaContentType: "blog_post"})
	if err != nil {
		t.Fatalf("Query() filtered error = %v", err)
	}
	if len(filtered) != 3 {
		t.Errorf("filtered len = %d, want 3", len(filtered))
	}
	for _, m := range filtered {
		if m.ID == "y" {
			t.Error("filter let news_article through")
		}
	}

	none, err := idx.Query(ctx, []float32{1, 0}, 5, Filter{MetaContentType: "social_post"})
	if err != nil || len(none) != 0 {
		t.Errorf("Query() no match = %v, %v", none, err)
	}

	if _, err := idx.Query(ctx, []float32{1, 0}, 5, Filter{"nope": "x"}); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("Query() bad filter error = %v, want ErrInvalidFilter", err)
	}
}

func TestSQLVectorRepository_DimensionChecks(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	idx, _ := NewSQLVectorRepository(db, "news_content", 2)
	if err := idx.EnsureCollection(ctx); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	if err := idx.Insert(ctx, &IndexEntry{ID: "a", Vector: []float32{1, 2, 3}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Insert() error = %v, want ErrDimensionMismatch", err)
	}
	if err := idx.Insert(ctx, &IndexEntry{ID: "a", Vector: []float32{1, 2}}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	reopened, _ := NewSQLVectorRepository(db, "news_content", 4)
	if err := reopened.EnsureCollection(ctx); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("EnsureCollection() error = %v, want ErrDimensionMismatch", err)
	}
	// other namespaces are independent
	other, _ := NewSQLVectorRepository(db, "other", 4)
	if err := other.EnsureCollection(ctx); err != nil {
		t.Errorf("EnsureCollection(other) error = %v", err)
	}
	if n, _ := other.Count(ctx); n != 0 {
		t.Errorf("other.Count() = %d, want 0", n)
	}
}

func TestSQLVectorRepository_Sample(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 2)

	for i := 0; i < 5; i++ {
		e := &IndexEntry{ID: fmt.Sprintf("id-%d", i), Vector: []float32{1, float32(i)}, Metadata: Metadata{MetaSourceName: "s"}}
		if err := idx.Insert(ctx, e); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	sample, err := idx.Sample(ctx, 3)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if len(sample) != 3 {
		t.Fatalf("Sample() len = %d, want 3", len(sample))
	}
	if sample[0].Metadata.String(MetaSourceName) != "s" || sample[0].Vector != nil {
		t.Errorf("Sample()[0] = %+v", sample[0])
	}
}

func TestContentRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := NewContentRepository(db)

	rec := domain.NewContentRecord("Title", "Body", domain.ContentTypeBlogPost, "hn", "Hacker News")
	rec.URL = "https://example.com/a"
	rec.Tags = domain.StringArray{"go", "db"}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rec.Title = "Title v2"
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save() upsert error = %v", err)
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Title != "Title v2" || len(got.Tags) != 2 {
		t.Errorf("GetByID() = %+v", got)
	}
	if ok, _ := repo.ExistsByURL(ctx, rec.URL); ok {
		t.Error("ExistsByURL() = true for a pending record")
	}
	if n, _ := repo.CountByStatus(ctx, domain.StatusPending); n != 1 {
		t.Errorf("CountByStatus() = %d, want 1", n)
	}
	rec.MarkProcessed(domain.StatusCompleted, "")
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save() completed error = %v", err)
	}
	if ok, _ := repo.ExistsByURL(ctx, rec.URL); !ok {
		t.Error("ExistsByURL() = false for a completed record")
	}
	if err := repo.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, rec.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}
}
