package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmbeddingFailure = errors.New("embedding failure")
	ErrIndexWrite       = errors.New("index write error")
	ErrIndexRead        = errors.New("index read error")
	ErrNotFound         = errors.New("content not found")
	ErrInvalidContent   = errors.New("invalid content")
)

// IndexError is a failed content index operation. Kinds holds the
// sentinel(s) classifying the failure; Err is the collaborator's error.
type IndexError struct {
	Op        string
	ContentID string
	Kinds     []error
	Err       error
}

// NewIndexError builds an IndexError of the given kinds.
func NewIndexError(op, contentID string, err error, kinds ...error) *IndexError {
	return &IndexError{Op: op, ContentID: contentID, Kinds: kinds, Err: err}
}

func (e *IndexError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.ContentID != "" {
		fmt.Fprintf(&b, " [content_id=%s]", e.ContentID)
	}
	if len(e.Kinds) > 0 {
		fmt.Fprintf(&b, ": %s", e.Kinds[0])
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err)
	}
	return b.String()
}

// Unwrap exposes the kinds and the cause to errors.Is and errors.As.
func (e *IndexError) Unwrap() []error {
	out := make([]error, 0, len(e.Kinds)+1)
	out = append(out, e.Kinds...)
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// ReconstructionWarning accompanies a record rebuilt from the index when
// some fields could not be recovered. It is not a failure.
type ReconstructionWarning struct {
	ContentID     string
	MissingFields []string
}

func (w *ReconstructionWarning) Error() string {
	return fmt.Sprintf("content %s reconstructed without: %s", w.ContentID, strings.Join(w.MissingFields, ", "))
}
