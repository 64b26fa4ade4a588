package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// LegislationSource is the immutable record of a statute's original text.
// Rows are created on ingestion and never updated; deleting a source
// cascades to every digest and rule derived from it.
type LegislationSource struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	StateCode           string         `gorm:"column:state_code;size:2;not null;index;uniqueIndex:idx_source_state_statute" json:"state_code"`
	StatuteNumber       string         `gorm:"column:statute_number;not null;uniqueIndex:idx_source_state_statute" json:"statute_number"`
	Title               string         `gorm:"column:title" json:"title"`
	FullText            string         `gorm:"column:full_text;not null" json:"full_text"`
	SourceURL           string         `gorm:"column:source_url" json:"source_url"`
	EffectiveDate       *time.Time     `gorm:"column:effective_date" json:"effective_date,omitempty"`
	SunsetDate          *time.Time     `gorm:"column:sunset_date" json:"sunset_date,omitempty"`
	AppliesToPageTypes  datatypes.JSON `gorm:"type:jsonb;column:applies_to_page_types" json:"applies_to_page_types"`
	CreatedAt           time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (LegislationSource) TableName() string {
	return "legislation_source"
}
