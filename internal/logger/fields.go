package logger

// Fields is a set of structured log fields.
type Fields map[string]interface{}

// Tracing fields carried on context loggers.
const (
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldComponent = "component"
	FieldSource    = "source"
	FieldContentID = "content_id"
	FieldOperation = "operation"
)

// Metric fields attached per entry.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
	FieldSize       = "size"
)
