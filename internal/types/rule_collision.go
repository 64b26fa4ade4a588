package types

import (
	"time"

	"github.com/google/uuid"
)

type CollisionType string

const (
	CollisionDuplicate  CollisionType = "duplicate"
	CollisionSemantic   CollisionType = "semantic"
	CollisionConflict   CollisionType = "conflict"
	CollisionOverlap    CollisionType = "overlap"
	CollisionSupersedes CollisionType = "supersedes"
)

func (t CollisionType) Valid() bool {
	switch t {
	case CollisionDuplicate, CollisionSemantic, CollisionConflict, CollisionOverlap, CollisionSupersedes:
		return true
	}
	return false
}

type CollisionResolution string

const (
	ResolutionKeepBoth     CollisionResolution = "keep_both"
	ResolutionKeepExisting CollisionResolution = "keep_existing"
	ResolutionKeepNew      CollisionResolution = "keep_new"
	ResolutionMerge        CollisionResolution = "merge"
)

func (r CollisionResolution) Valid() bool {
	switch r {
	case ResolutionKeepBoth, ResolutionKeepExisting, ResolutionKeepNew, ResolutionMerge:
		return true
	}
	return false
}

// RuleCollision relates a newly generated rule to an existing active rule it
// overlaps with. Created only during re-derivation; a nil Resolution means
// the collision is still pending human review.
type RuleCollision struct {
	ID                 uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	RuleID             uuid.UUID            `gorm:"type:uuid;column:rule_id;not null;index" json:"rule_id"`
	Rule               *Rule                `gorm:"constraint:OnDelete:CASCADE;foreignKey:RuleID;references:ID" json:"rule,omitempty"`
	CollidesWithRuleID uuid.UUID            `gorm:"type:uuid;column:collides_with_rule_id;not null;index" json:"collides_with_rule_id"`
	CollidesWithRule   *Rule                `gorm:"constraint:OnDelete:CASCADE;foreignKey:CollidesWithRuleID;references:ID" json:"collides_with_rule,omitempty"`
	CollisionType      CollisionType        `gorm:"column:collision_type;not null" json:"collision_type"`
	Confidence         float64              `gorm:"column:confidence" json:"confidence"`
	AIExplanation      string               `gorm:"column:ai_explanation" json:"ai_explanation"`
	Resolution         *CollisionResolution `gorm:"column:resolution;index" json:"resolution,omitempty"`
	ResolvedBy         string               `gorm:"column:resolved_by" json:"resolved_by"`
	ResolvedAt         *time.Time           `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	CreatedAt          time.Time            `gorm:"not null;default:now()" json:"created_at"`
}

func (RuleCollision) TableName() string {
	return "rule_collision"
}

func (c *RuleCollision) Pending() bool {
	return c.Resolution == nil
}
