package types

import (
	"time"

	"github.com/google/uuid"
)

type CheckStatus string

const (
	CheckPending          CheckStatus = "pending"
	CheckTextAnalyzed     CheckStatus = "text_analyzed"
	CheckEscalationNeeded CheckStatus = "escalation_needed"
	CheckVisualAnalyzed   CheckStatus = "visual_analyzed"
	CheckFinalized        CheckStatus = "finalized"
	CheckFailed           CheckStatus = "failed"
)

type ComplianceStatus string

const (
	StatusCompliant    ComplianceStatus = "compliant"
	StatusNeedsReview  ComplianceStatus = "needs_review"
	StatusNonCompliant ComplianceStatus = "non_compliant"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// ComplianceCheck is one tiered analysis of one URL at one point in time.
type ComplianceCheck struct {
	ID                  uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	URL                 string               `gorm:"column:url;not null;index" json:"url"`
	StateCode           string               `gorm:"column:state_code;size:2;not null;index" json:"state_code"`
	PageType            string               `gorm:"column:page_type;not null" json:"page_type"`
	TemplateID          string               `gorm:"column:template_id;index" json:"template_id"`
	Status              CheckStatus          `gorm:"column:status;not null;index" json:"status"`
	ComplianceStatus    ComplianceStatus     `gorm:"column:compliance_status" json:"compliance_status"`
	OverallScore        int                  `gorm:"column:overall_score" json:"overall_score"`
	Summary             string               `gorm:"column:summary" json:"summary"`
	Error               string               `gorm:"column:error" json:"error"`
	Violations          []Violation          `gorm:"constraint:OnDelete:CASCADE;foreignKey:CheckID;references:ID" json:"violations,omitempty"`
	VisualVerifications []VisualVerification `gorm:"constraint:OnDelete:CASCADE;foreignKey:CheckID;references:ID" json:"visual_verifications,omitempty"`
	CreatedAt           time.Time            `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt           time.Time            `gorm:"not null;default:now()" json:"updated_at"`
}

func (ComplianceCheck) TableName() string {
	return "compliance_check"
}

type Violation struct {
	ID                       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CheckID                  uuid.UUID `gorm:"type:uuid;column:check_id;not null;index" json:"check_id"`
	Category                 string    `gorm:"column:category" json:"category"`
	Severity                 Severity  `gorm:"column:severity;not null" json:"severity"`
	RuleKey                  string    `gorm:"column:rule_key;not null;index" json:"rule_key"`
	RuleViolated             string    `gorm:"column:rule_violated" json:"rule_violated"`
	Confidence               float64   `gorm:"column:confidence;not null" json:"confidence"`
	NeedsVisualVerification  bool      `gorm:"column:needs_visual_verification;not null;default:false" json:"needs_visual_verification"`
	Description              string    `gorm:"column:description" json:"description"`
	Evidence                 string    `gorm:"column:evidence" json:"evidence"`
	Recommendation           string    `gorm:"column:recommendation" json:"recommendation"`
	CreatedAt                time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Violation) TableName() string {
	return "violation"
}

// VisualVerification records the outcome of one escalated rule, whether the
// decision came from a fresh visual-tier call or the template cache.
type VisualVerification struct {
	ID                 uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	CheckID            uuid.UUID          `gorm:"type:uuid;column:check_id;not null;index" json:"check_id"`
	RuleKey            string             `gorm:"column:rule_key;not null" json:"rule_key"`
	RuleText           string             `gorm:"column:rule_text" json:"rule_text"`
	IsCompliant        bool               `gorm:"column:is_compliant;not null" json:"is_compliant"`
	Confidence         float64            `gorm:"column:confidence;not null" json:"confidence"`
	VerificationMethod VerificationMethod `gorm:"column:verification_method;not null" json:"verification_method"`
	VisualEvidence     string             `gorm:"column:visual_evidence" json:"visual_evidence"`
	ScreenshotRef      string             `gorm:"column:screenshot_ref" json:"screenshot_ref"`
	Cached             bool               `gorm:"column:cached;not null;default:false" json:"cached"`
	CreatedAt          time.Time          `gorm:"not null;default:now()" json:"created_at"`
}

func (VisualVerification) TableName() string {
	return "visual_verification"
}
