package types

import (
	"time"

	"github.com/google/uuid"
)

type CacheStatus string

const (
	CacheCompliant    CacheStatus = "compliant"
	CacheNonCompliant CacheStatus = "non_compliant"
)

func (s CacheStatus) Valid() bool {
	switch s {
	case CacheCompliant, CacheNonCompliant:
		return true
	}
	return false
}

type VerificationMethod string

const (
	VerificationText   VerificationMethod = "text"
	VerificationVisual VerificationMethod = "visual"
	VerificationHuman  VerificationMethod = "human"
)

func (m VerificationMethod) Valid() bool {
	switch m {
	case VerificationText, VerificationVisual, VerificationHuman:
		return true
	}
	return false
}

// TemplateRuleCache holds a verified compliance decision for one rule on one
// page template. Written only by the visual tier or a human override; there
// is no expiry, an entry stays authoritative until explicitly overwritten.
type TemplateRuleCache struct {
	ID                 uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	TemplateID         string             `gorm:"column:template_id;not null;uniqueIndex:idx_template_rule" json:"template_id"`
	RuleKey            string             `gorm:"column:rule_key;not null;uniqueIndex:idx_template_rule" json:"rule_key"`
	Status             CacheStatus        `gorm:"column:status;not null" json:"status"`
	Confidence         float64            `gorm:"column:confidence;not null" json:"confidence"`
	VerificationMethod VerificationMethod `gorm:"column:verification_method;not null" json:"verification_method"`
	Notes              string             `gorm:"column:notes" json:"notes"`
	VerifiedAt         time.Time          `gorm:"column:verified_at;not null" json:"verified_at"`
}

func (TemplateRuleCache) TableName() string {
	return "template_rule_cache"
}
