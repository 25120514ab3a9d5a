package domain

import "time"

// JobStatus is the state of an ingest job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IngestJob tracks one ingestion run over a source.
type IngestJob struct {
	ID             string     `gorm:"type:text;primaryKey" json:"id"`
	SourceID       string     `gorm:"type:text;not null;index" json:"source_id"`
	Status         JobStatus  `gorm:"type:text;default:pending" json:"status"`
	TotalItems     int        `gorm:"default:0" json:"total_items"`
	ProcessedItems int        `gorm:"default:0" json:"processed_items"`
	SkippedItems   int        `gorm:"default:0" json:"skipped_items"`
	FailedItems    int        `gorm:"default:0" json:"failed_items"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorLog       string     `gorm:"type:text" json:"error_log,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (IngestJob) TableName() string {
	return "ingest_jobs"
}

// NewIngestJob returns a job for sourceID already in the running state.
func NewIngestJob(id, sourceID string) *IngestJob {
	now := time.Now().UTC()
	return &IngestJob{
		ID:        id,
		SourceID:  sourceID,
		Status:    JobStatusRunning,
		StartedAt: &now,
	}
}

// Finish records the final counters. A non-nil runErr marks the job failed
// even when some items were processed.
func (j *IngestJob) Finish(total, processed, skipped, failed int, runErr error) {
	now := time.Now().UTC()
	j.CompletedAt = &now
	j.TotalItems = total
	j.ProcessedItems = processed
	j.SkippedItems = skipped
	j.FailedItems = failed
	j.Status = JobStatusCompleted
	j.ErrorLog = ""
	if runErr != nil {
		j.Status = JobStatusFailed
		j.ErrorLog = runErr.Error()
	}
}

// Duration is the wall time of a finished job, or zero while it runs.
func (j *IngestJob) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}
