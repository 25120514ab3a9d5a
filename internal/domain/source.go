package domain

import "time"

// SourceType is how a data source delivers content.
type SourceType string

const (
	SourceTypeStaging SourceType = "staging"
	SourceTypeAPI     SourceType = "api"
	SourceTypeRSS     SourceType = "rss"
)

// DataSource is a registered content source and its sync state.
type DataSource struct {
	ID             string     `gorm:"type:text;primaryKey" json:"id"`
	Name           string     `gorm:"type:text;not null" json:"name"`
	Type           SourceType `gorm:"type:text;not null" json:"type"`
	URL            string     `gorm:"type:text" json:"url,omitempty"`
	Weight         float64    `gorm:"default:1" json:"weight"`
	Config         JSONMap    `gorm:"type:text" json:"config,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncCursor string     `gorm:"type:text" json:"last_sync_cursor,omitempty"`
	IsEnabled      bool       `gorm:"default:true" json:"is_enabled"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (DataSource) TableName() string {
	return "data_sources"
}
