package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type RuleStatus string

const (
	RuleStatusActive        RuleStatus = "active"
	RuleStatusPendingReview RuleStatus = "pending_review"
	RuleStatusSuperseded    RuleStatus = "superseded"
	RuleStatusMerged        RuleStatus = "merged"
)

func (s RuleStatus) Valid() bool {
	switch s {
	case RuleStatusActive, RuleStatusPendingReview, RuleStatusSuperseded, RuleStatusMerged:
		return true
	}
	return false
}

// Rule is an atomic, testable compliance requirement derived from a digest.
// The digest reference is kept even after that digest is superseded so the
// lineage back to the interpretation that produced the rule is never lost.
type Rule struct {
	ID                   uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	StateCode            string             `gorm:"column:state_code;size:2;not null;index" json:"state_code"`
	LegislationSourceID  uuid.UUID          `gorm:"type:uuid;column:legislation_source_id;not null;index" json:"legislation_source_id"`
	LegislationSource    *LegislationSource `gorm:"constraint:OnDelete:CASCADE;foreignKey:LegislationSourceID;references:ID" json:"legislation_source,omitempty"`
	LegislationDigestID  uuid.UUID          `gorm:"type:uuid;column:legislation_digest_id;not null;index" json:"legislation_digest_id"`
	RuleText             string             `gorm:"column:rule_text;not null" json:"rule_text"`
	RuleKey              string             `gorm:"column:rule_key;not null;index" json:"rule_key"`
	AppliesToPageTypes   datatypes.JSON     `gorm:"type:jsonb;column:applies_to_page_types" json:"applies_to_page_types"`
	Active               bool               `gorm:"column:active;not null;default:true;index" json:"active"`
	Approved             bool               `gorm:"column:approved;not null;default:false;index" json:"approved"`
	IsManuallyModified   bool               `gorm:"column:is_manually_modified;not null;default:false" json:"is_manually_modified"`
	OriginalRuleText     string             `gorm:"column:original_rule_text" json:"original_rule_text"`
	NeedsVisualJudgment  bool               `gorm:"column:needs_visual_judgment;not null;default:false" json:"needs_visual_judgment"`
	Status               RuleStatus         `gorm:"column:status;not null;default:'active';index" json:"status"`
	SupersedesRuleID     *uuid.UUID         `gorm:"type:uuid;column:supersedes_rule_id" json:"supersedes_rule_id,omitempty"`
	CreatedAt            time.Time          `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt            time.Time          `gorm:"not null;default:now()" json:"updated_at"`
}

func (Rule) TableName() string {
	return "rule"
}

// Protected reports whether the rule is exempt from re-derivation deletion.
// Approval and manual modification are the only exemption criteria.
func (r *Rule) Protected() bool {
	return r.Approved || r.IsManuallyModified
}
