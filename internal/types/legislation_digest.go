package types

import (
	"time"

	"github.com/google/uuid"
)

// LegislationDigest is one versioned interpretation of a source. At most one
// digest per source is active; the swap is enforced transactionally in the
// digest service and backed by a partial unique index created in migration.
// Retired versions are kept forever for lineage.
type LegislationDigest struct {
	ID                      uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	LegislationSourceID     uuid.UUID          `gorm:"type:uuid;column:legislation_source_id;not null;index" json:"legislation_source_id"`
	LegislationSource       *LegislationSource `gorm:"constraint:OnDelete:CASCADE;foreignKey:LegislationSourceID;references:ID" json:"legislation_source,omitempty"`
	Version                 int                `gorm:"column:version;not null" json:"version"`
	Active                  bool               `gorm:"column:active;not null;default:false;index" json:"active"`
	InterpretedRequirements string             `gorm:"column:interpreted_requirements;not null" json:"interpreted_requirements"`
	CreatedBy               string             `gorm:"column:created_by" json:"created_by"`
	ReviewedBy              string             `gorm:"column:reviewed_by" json:"reviewed_by"`
	LastReviewDate          *time.Time         `gorm:"column:last_review_date" json:"last_review_date,omitempty"`
	Approved                bool               `gorm:"column:approved;not null;default:false" json:"approved"`
	CreatedAt               time.Time          `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt               time.Time          `gorm:"not null;default:now()" json:"updated_at"`
}

func (LegislationDigest) TableName() string {
	return "legislation_digest"
}
