package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/timmy/newsagent/internal/config"
	"github.com/timmy/newsagent/internal/logger"
	"github.com/timmy/newsagent/internal/repository"
	"github.com/timmy/newsagent/internal/service"
	"github.com/timmy/newsagent/internal/source"
	"github.com/timmy/newsagent/internal/source/staging"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testDim = 128

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	vectors, err := repository.NewSQLVectorRepository(db, "news_content", testDim)
	if err != nil {
		t.Fatalf("NewSQLVectorRepository() error = %v", err)
	}
	if err := vectors.EnsureCollection(ctx); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	index, err := service.NewContentIndex(vectors, service.NewHashEmbedding("", testDim), service.ContentIndexConfig{})
	if err != nil {
		t.Fatalf("NewContentIndex() error = %v", err)
	}

	records := repository.NewContentRepository(db)
	log := logger.NewDefault()
	ingest := service.NewIngestService(index, records,
		repository.NewJobRepository(db), repository.NewSourceRepository(db), nil, log,
		&service.IngestConfig{Workers: 1, BatchSize: 10, DuplicateThreshold: 0.85})

	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "feed"), 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := `{"id":"1","title":"Rust async runtimes","content":"A comparison of tokio and async-std schedulers.","content_type":"blog_post"}` + "\n" +
		`{"id":"2","title":"Protein folding","content":"Diffusion models predict protein structures.","content_type":"academic_paper"}` + "\n"
	if err := os.WriteFile(filepath.Join(base, "feed", staging.ManifestFileName), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	return SetupRouter(Dependencies{
		Index:   index,
		Records: records,
		Ingest:  ingest,
		Sources: map[string]source.Source{"feed": staging.NewAdapter(base, "feed")},
		Logger:  log,
	}, config.ServerConfig{Mode: "test", CORS: config.CORSConfig{AllowAllOrigins: true}})
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestContentLifecycle(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}

	w = do(t, r, http.MethodPost, "/api/v1/contents", map[string]interface{}{
		"id":           "post-1",
		"title":        "Vector databases explained",
		"content":      "How approximate nearest neighbour indexes trade recall for speed.",
		"content_type": "blog_post",
		"source_name":  "Eng Blog",
		"tags":         []string{"ann", "search"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /contents = %d %s", w.Code, w.Body)
	}

	w = do(t, r, http.MethodPost, "/api/v1/contents", map[string]interface{}{
		"id":           "post-2",
		"title":        "Sourdough basics",
		"content":      "Feed the starter and proof the dough overnight.",
		"content_type": "blog_post",
		"source_name":  "Food Blog",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /contents = %d %s", w.Code, w.Body)
	}

	var got struct {
		Record struct {
			ID    string   `json:"id"`
			Title string   `json:"title"`
			Tags  []string `json:"tags"`
		} `json:"record"`
		MissingFields []string `json:"missing_fields"`
	}
	w = do(t, r, http.MethodGet, "/api/v1/contents/post-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /contents/post-1 = %d", w.Code)
	}
	decode(t, w, &got)
	if got.Record.Title != "Vector databases explained" || len(got.Record.Tags) != 2 || len(got.MissingFields) != 0 {
		t.Errorf("GET /contents/post-1 = %+v", got)
	}

	var search struct {
		Results []service.SearchResult `json:"results"`
		Total   int                    `json:"total"`
	}
	w = do(t, r, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "nearest neighbour indexes", "top_k": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /search = %d %s", w.Code, w.Body)
	}
	decode(t, w, &search)
	if search.Total != 2 || search.Results[0].ID != "post-1" {
		t.Errorf("search = %+v", search)
	}

	w = do(t, r, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "bread", "filter": map[string]string{"source_name": "Food Blog"}})
	decode(t, w, &search)
	if w.Code != http.StatusOK || search.Total != 1 || search.Results[0].ID != "post-2" {
		t.Errorf("filtered search = %d %+v", w.Code, search)
	}

	w = do(t, r, http.MethodGet, "/api/v1/contents/post-1/similar?top_k=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET similar = %d %s", w.Code, w.Body)
	}
	decode(t, w, &search)
	for _, res := range search.Results {
		if res.ID == "post-1" {
			t.Error("similar results include the query record")
		}
	}

	w = do(t, r, http.MethodPut, "/api/v1/contents/post-1", map[string]interface{}{
		"title":        "Vector databases, revisited",
		"content":      "HNSW graphs in practice.",
		"content_type": "blog_post",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /contents/post-1 = %d %s", w.Code, w.Body)
	}

	var stats service.IndexStats
	w = do(t, r, http.MethodGet, "/api/v1/stats", nil)
	decode(t, w, &stats)
	if w.Code != http.StatusOK || stats.TotalCount != 2 || stats.SourceDistribution["Food Blog"] != 1 {
		t.Errorf("stats = %d %+v", w.Code, stats)
	}

	var del struct {
		Deleted bool `json:"deleted"`
	}
	decode(t, do(t, r, http.MethodDelete, "/api/v1/contents/post-1", nil), &del)
	if !del.Deleted {
		t.Error("first DELETE reported deleted=false")
	}
	decode(t, do(t, r, http.MethodDelete, "/api/v1/contents/post-1", nil), &del)
	if del.Deleted {
		t.Error("second DELETE reported deleted=true")
	}
	if w := do(t, r, http.MethodGet, "/api/v1/contents/post-1", nil); w.Code != http.StatusNotFound {
		t.Errorf("GET deleted = %d, want 404", w.Code)
	}
}

func TestErrorStatuses(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"missing query", http.MethodPost, "/api/v1/search", map[string]interface{}{}, http.StatusBadRequest},
		{"unknown filter key", http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "x", "filter": map[string]string{"color": "red"}}, http.StatusBadRequest},
		{"blank content", http.MethodPost, "/api/v1/contents", map[string]interface{}{"title": "", "content": ""}, http.StatusUnprocessableEntity},
		{"bad content type", http.MethodPost, "/api/v1/contents", map[string]interface{}{"title": "t", "content_type": "podcast"}, http.StatusBadRequest},
		{"unknown id", http.MethodGet, "/api/v1/contents/nope", nil, http.StatusNotFound},
		{"similar unknown id", http.MethodGet, "/api/v1/contents/nope/similar", nil, http.StatusNotFound},
		{"bad top_k", http.MethodGet, "/api/v1/contents/nope/similar?top_k=abc", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, r, tt.method, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestAdminIngest(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/api/v1/admin/ingest", map[string]interface{}{"source": "unknown", "limit": 5})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown source = %d", w.Code)
	}

	var resp struct {
		Stats service.IngestStats `json:"stats"`
	}
	w = do(t, r, http.MethodPost, "/api/v1/admin/ingest", map[string]interface{}{"source": "feed", "limit": 10})
	if w.Code != http.StatusOK {
		t.Fatalf("ingest = %d %s", w.Code, w.Body)
	}
	decode(t, w, &resp)
	if resp.Stats.TotalItems != 2 || resp.Stats.FailedItems != 0 {
		t.Errorf("stats = %+v", resp.Stats)
	}

	var status struct {
		IsRunning   bool           `json:"is_running"`
		Sources     []string       `json:"sources"`
		SourceItems map[string]int `json:"source_items"`
		RecentJobs  []struct {
			Status string `json:"status"`
		} `json:"recent_jobs"`
	}
	w = do(t, r, http.MethodGet, "/api/v1/admin/ingest/status", nil)
	decode(t, w, &status)
	if status.IsRunning || len(status.Sources) != 1 || len(status.RecentJobs) != 1 || status.RecentJobs[0].Status != "completed" {
		t.Errorf("status = %+v", status)
	}
	if status.SourceItems["feed"] != 2 {
		t.Errorf("source_items = %v, want feed=2", status.SourceItems)
	}

	// ingested records are searchable and seed similarity from the record store
	w = do(t, r, http.MethodGet, "/api/v1/contents/feed_1/similar", nil)
	if w.Code != http.StatusOK {
		t.Errorf("similar for ingested record = %d %s", w.Code, w.Body)
	}
}

func TestMiddleware(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d, origin %q", w.Code, w.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}
