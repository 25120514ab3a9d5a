package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrObjectNotFound is returned by Download when the key holds no object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage archives raw source payloads next to the index. Keys are
// slash-separated paths as produced by RawArchiveKey.
type ObjectStorage interface {
	// Upload writes the object at key, replacing any previous one.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// GetURL returns where the object can be read from. It does not check
	// that the object exists.
	GetURL(key string) string
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// RawArchiveKey returns the object key for a record's raw source payload.
// Source ids such as "staging:arxiv" become path segments.
func RawArchiveKey(sourceID, contentID string) string {
	src := strings.NewReplacer(":", "/", " ", "_").Replace(sourceID)
	if src == "" {
		src = "unknown"
	}
	return fmt.Sprintf("raw/%s/%s.json", src, contentID)
}
