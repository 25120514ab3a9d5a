package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/timmy/newsagent/internal/config"
)

func TestDetectStorageType(t *testing.T) {
	tests := []struct {
		endpoint string
		want     StorageType
	}{
		{"https://abc.r2.cloudflarestorage.com", StorageTypeR2},
		{"s3.us-west-2.amazonaws.com", StorageTypeS3},
		{"localhost:9000", StorageTypeS3Compatible},
	}
	for _, tt := range tests {
		if got := detectStorageType(tt.endpoint); got != tt.want {
			t.Errorf("detectStorageType(%q) = %s, want %s", tt.endpoint, got, tt.want)
		}
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"https://minio.local:9000/":       "minio.local:9000",
		"http://minio.local:9000/bucket/": "minio.local:9000",
		"minio.local":                     "minio.local",
	}
	for in, want := range tests {
		if got := normalizeEndpoint(in); got != want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRawArchiveKey(t *testing.T) {
	if got := RawArchiveKey("staging:arxiv", "arxiv_1"); got != "raw/staging/arxiv/arxiv_1.json" {
		t.Errorf("RawArchiveKey() = %q", got)
	}
	if got := RawArchiveKey("", "x"); got != "raw/unknown/x.json" {
		t.Errorf("RawArchiveKey(empty source) = %q", got)
	}
}

func TestS3StorageURL(t *testing.T) {
	s, err := NewS3Storage(&S3Config{Type: StorageTypeS3Compatible, Endpoint: "http://localhost:9000", Bucket: "raw", AccessKey: "a", SecretKey: "b"})
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}
	if got := s.GetURL("raw/x.json"); got != "http://localhost:9000/raw/raw/x.json" {
		t.Errorf("GetURL() = %q", got)
	}

	if _, err := NewS3Storage(&S3Config{Type: StorageTypeS3}); err == nil {
		t.Error("expected error without endpoint")
	}
	if _, err := NewS3Storage(&S3Config{Type: StorageTypeS3, Endpoint: "s3.amazonaws.com"}); err == nil {
		t.Error("expected error without bucket")
	}
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	store, err := NewStorage(&config.StorageConfig{Type: "local", LocalPath: t.TempDir(), PublicURL: "https://cdn.example.com/"})
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}

	key := RawArchiveKey("staging:blog", "post-1")
	if ok, err := store.Exists(ctx, key); err != nil || ok {
		t.Fatalf("Exists() before upload = %v, %v", ok, err)
	}

	body := `{"title":"hello"}`
	if err := store.Upload(ctx, key, strings.NewReader(body), int64(len(body)), "application/json"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if ok, _ := store.Exists(ctx, key); !ok {
		t.Fatal("Exists() after upload = false")
	}

	rc, err := store.Download(ctx, key)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != body {
		t.Errorf("Download() = %q", got)
	}

	if url := store.GetURL(key); url != "https://cdn.example.com/"+key {
		t.Errorf("GetURL() = %q", url)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
	if ok, _ := store.Exists(ctx, key); ok {
		t.Error("Exists() after delete = true")
	}
	if _, err := store.Download(ctx, key); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Download() after delete error = %v, want ErrObjectNotFound", err)
	}
}

func TestLocalStorageConfinesKeys(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStorage(root, "")
	if err != nil {
		t.Fatal(err)
	}
	p, err := store.path("../../etc/passwd")
	if err != nil {
		t.Fatalf("path() error = %v", err)
	}
	if !strings.HasPrefix(p, root) {
		t.Errorf("path() = %q escapes root %q", p, root)
	}
}
