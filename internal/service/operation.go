package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/newsagent/internal/domain"
	"github.com/timmy/newsagent/internal/logger"
)

// runOperation executes fn as a named index operation. It tags the context
// logger with the operation and content id, logs start and outcome with the
// elapsed time, recovers panics, and classifies any error that is not
// already an *domain.IndexError under kind.
func runOperation[T any](ctx context.Context, op, contentID string, kind error, fn func(ctx context.Context) (T, error)) (result T, err error) {
	fields := logger.Fields{logger.FieldOperation: op}
	if contentID != "" {
		fields[logger.FieldContentID] = contentID
	}
	ctx = logger.WithFields(ctx, fields)

	start := time.Now()
	logger.CtxDebug(ctx, "Index operation started")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			var ie *domain.IndexError
			if !errors.As(err, &ie) {
				err = domain.NewIndexError(op, contentID, err, kind)
			}
		}

		entry := logger.With(logger.Fields{logger.FieldDurationMs: time.Since(start).Milliseconds()})
		switch {
		case err == nil:
			entry.WithStatus("ok").Info(ctx, "Index operation completed")
		case errors.Is(err, domain.ErrNotFound):
			entry.WithStatus("not_found").Info(ctx, "Index operation found nothing")
		default:
			entry.WithStatus("error").Error(ctx, "Index operation failed: %v", err)
		}
	}()

	return fn(ctx)
}
