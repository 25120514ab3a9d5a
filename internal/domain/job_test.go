package domain

import (
	"errors"
	"testing"
)

func TestIngestJobFinish(t *testing.T) {
	job := NewIngestJob("job-1", "staging:arxiv")
	if job.Status != JobStatusRunning || job.StartedAt == nil {
		t.Fatalf("NewIngestJob() = %+v", job)
	}
	if job.Duration() != 0 {
		t.Errorf("Duration() of running job = %v, want 0", job.Duration())
	}

	job.Finish(10, 10, 2, 1, nil)
	if job.Status != JobStatusCompleted || job.ErrorLog != "" {
		t.Errorf("Finish(nil) status = %s, error_log = %q", job.Status, job.ErrorLog)
	}
	if job.TotalItems != 10 || job.SkippedItems != 2 || job.FailedItems != 1 {
		t.Errorf("Finish() counters = %+v", job)
	}
	if job.CompletedAt == nil || job.Duration() < 0 {
		t.Errorf("Finish() completed_at = %v", job.CompletedAt)
	}

	job.Finish(3, 3, 0, 0, errors.New("fetch failed"))
	if job.Status != JobStatusFailed || job.ErrorLog != "fetch failed" {
		t.Errorf("Finish(err) status = %s, error_log = %q", job.Status, job.ErrorLog)
	}
}
