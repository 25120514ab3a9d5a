package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentType tags the kind of a content item.
type ContentType string

const (
	ContentTypeAcademicPaper   ContentType = "academic_paper"
	ContentTypeBlogPost        ContentType = "blog_post"
	ContentTypeNewsArticle     ContentType = "news_article"
	ContentTypeSocialPost      ContentType = "social_post"
	ContentTypeTechnicalReport ContentType = "technical_report"
	ContentTypeConferencePaper ContentType = "conference_paper"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeAcademicPaper, ContentTypeBlogPost, ContentTypeNewsArticle,
		ContentTypeSocialPost, ContentTypeTechnicalReport, ContentTypeConferencePaper:
		return true
	}
	return false
}

// ProcessingStatus is the pipeline stage of a content record.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
	StatusSkipped    ProcessingStatus = "skipped"
)

// QualityLevel is a coarse bucket over the quality score.
type QualityLevel string

const (
	QualityHigh    QualityLevel = "high"
	QualityMedium  QualityLevel = "medium"
	QualityLow     QualityLevel = "low"
	QualityVeryLow QualityLevel = "very_low"
)

// QualityLevelFor maps a quality score to its level.
func QualityLevelFor(score float64) QualityLevel {
	switch {
	case score >= 0.8:
		return QualityHigh
	case score >= 0.6:
		return QualityMedium
	case score >= 0.3:
		return QualityLow
	default:
		return QualityVeryLow
	}
}

// StringArray stores a string slice as a JSON array column.
type StringArray []string

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value interface{}) error {
	raw, err := scanBytes(value)
	if err != nil {
		return fmt.Errorf("failed to scan StringArray: %w", err)
	}
	if raw == nil {
		*a = StringArray{}
		return nil
	}
	return json.Unmarshal(raw, a)
}

// JSONMap stores free-form metadata as a JSON object column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value interface{}) error {
	raw, err := scanBytes(value)
	if err != nil {
		return fmt.Errorf("failed to scan JSONMap: %w", err)
	}
	if raw == nil {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("unexpected column type")
	}
}

// ContentRecord is one ingested unit of text content with its metadata
// and scores.
type ContentRecord struct {
	ID          string      `gorm:"type:text;primaryKey" json:"id"`
	Title       string      `gorm:"type:text;not null" json:"title"`
	Content     string      `gorm:"type:text" json:"content"`
	Summary     string      `gorm:"type:text" json:"summary,omitempty"`
	URL         string      `gorm:"type:text;index:idx_contents_url" json:"url"`
	ContentType ContentType `gorm:"type:text;index:idx_contents_type" json:"content_type"`
	SourceID    string      `gorm:"type:text;index:idx_contents_source" json:"source_id"`
	SourceName  string      `gorm:"type:text" json:"source_name"`
	Authors     StringArray `gorm:"type:text" json:"authors"`
	Tags        StringArray `gorm:"type:text" json:"tags"`
	Categories  StringArray `gorm:"type:text" json:"categories"`
	Language    string      `gorm:"type:text;default:en" json:"language"`

	PublishedAt time.Time  `json:"published_at"`
	CollectedAt time.Time  `json:"collected_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	QualityScore    float64      `json:"quality_score"`
	QualityLevel    QualityLevel `gorm:"type:text" json:"quality_level"`
	RelevanceScore  float64      `json:"relevance_score"`
	ImportanceScore float64      `json:"importance_score"`

	Status       ProcessingStatus `gorm:"type:text;index:idx_contents_status;default:pending" json:"processing_status"`
	ErrorMessage string           `gorm:"type:text" json:"error_message,omitempty"`

	Metadata JSONMap `gorm:"type:text" json:"metadata,omitempty"`
	RawData  JSONMap `gorm:"type:text" json:"raw_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName maps ContentRecord to its table.
func (ContentRecord) TableName() string {
	return "contents"
}

// NewContentRecord creates a pending record with a fresh id.
func NewContentRecord(title, content string, contentType ContentType, sourceID, sourceName string) *ContentRecord {
	return &ContentRecord{
		ID:           uuid.NewString(),
		Title:        title,
		Content:      content,
		ContentType:  contentType,
		SourceID:     sourceID,
		SourceName:   sourceName,
		Language:     "en",
		CollectedAt:  time.Now().UTC(),
		QualityLevel: QualityVeryLow,
		Status:       StatusPending,
		Metadata:     JSONMap{},
	}
}

// SetQualityScore clamps score to [0,1] and recomputes the quality level.
func (r *ContentRecord) SetQualityScore(score float64) {
	r.QualityScore = clampUnit(score)
	r.QualityLevel = QualityLevelFor(r.QualityScore)
}

// SetQualityScoreWithLevel sets the score and an explicit level override.
func (r *ContentRecord) SetQualityScoreWithLevel(score float64, level QualityLevel) {
	r.QualityScore = clampUnit(score)
	r.QualityLevel = level
}

// MarkProcessed moves the record to status and stamps ProcessedAt.
func (r *ContentRecord) MarkProcessed(status ProcessingStatus, errText string) {
	now := time.Now().UTC()
	r.Status = status
	r.ErrorMessage = errText
	r.ProcessedAt = &now
}

// Normalize fills defaults on records decoded from external input.
func (r *ContentRecord) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.Language == "" {
		r.Language = "en"
	}
	if r.CollectedAt.IsZero() {
		r.CollectedAt = time.Now().UTC()
	}
	if r.QualityLevel == "" {
		r.QualityLevel = QualityLevelFor(r.QualityScore)
	}
	if r.Metadata == nil {
		r.Metadata = JSONMap{}
	}
}

// Validate checks the fields required before a record enters the index.
func (r *ContentRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidContent)
	}
	if r.ContentType != "" && !r.ContentType.Valid() {
		return fmt.Errorf("%w: unknown content type %q", ErrInvalidContent, r.ContentType)
	}
	scores := map[string]float64{
		"quality_score":    r.QualityScore,
		"relevance_score":  r.RelevanceScore,
		"importance_score": r.ImportanceScore,
	}
	for name, v := range scores {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s %v outside [0, 1]", ErrInvalidContent, name, v)
		}
	}
	return nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
