package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/repos"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

type RedigestInput struct {
	SourceID                uuid.UUID
	InterpretedRequirements string
	CreatedBy               string
}

type RedigestResult struct {
	DigestVersion  int                    `json:"digest_version"`
	RulesCreated   int                    `json:"rules_created"`
	RulesDeleted   int64                  `json:"rules_deleted"`
	RulesProtected int64                  `json:"rules_protected"`
	Collisions     []*types.RuleCollision `json:"collisions"`
}

type EditRuleInput struct {
	RuleID   uuid.UUID
	RuleText string
	EditedBy string
}

// RuleService owns the rule lifecycle: generation from a digest, the
// re-derivation cycle when an interpretation changes, manual edits, and
// deletion. Approved or manually modified rules are protected from
// re-derivation deletion; nothing is protected from source deletion.
type RuleService interface {
	GenerateRules(ctx context.Context, sourceID uuid.UUID) ([]*types.Rule, error)
	Redigest(ctx context.Context, in RedigestInput) (*RedigestResult, error)
	DeleteRulesForSource(ctx context.Context, sourceID uuid.UUID) (int64, error)
	EditRule(ctx context.Context, in EditRuleInput) (*types.Rule, error)
	ApproveRule(ctx context.Context, ruleID uuid.UUID, approvedBy string) (*types.Rule, error)
	GetRule(ctx context.Context, ruleID uuid.UUID) (*types.Rule, error)
	ListRules(ctx context.Context, filter repos.RuleFilter) ([]*types.Rule, error)
}

type ruleService struct {
	runner     repos.TxRunner
	log        *logger.Logger
	deriver    RuleDeriver
	detector   CollisionDetector
	digests    DigestService
	sourceRepo repos.LegislationSourceRepo
	digestRepo repos.LegislationDigestRepo
	ruleRepo   repos.RuleRepo
}

func NewRuleService(
	runner repos.TxRunner,
	log *logger.Logger,
	deriver RuleDeriver,
	detector CollisionDetector,
	digests DigestService,
	sourceRepo repos.LegislationSourceRepo,
	digestRepo repos.LegislationDigestRepo,
	ruleRepo repos.RuleRepo,
) RuleService {
	return &ruleService{
		runner:     runner,
		log:        log.With("service", "RuleService"),
		deriver:    deriver,
		detector:   detector,
		digests:    digests,
		sourceRepo: sourceRepo,
		digestRepo: digestRepo,
		ruleRepo:   ruleRepo,
	}
}

// GenerateRules derives rules from the source's active digest and persists
// them. Generation is additive: existing rules are never touched. Replacing
// the rule set is what Redigest is for; duplicates against older rules
// surface through collision detection on the next redigest.
func (s *ruleService) GenerateRules(ctx context.Context, sourceID uuid.UUID) ([]*types.Rule, error) {
	source, err := s.getSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	digest, err := s.digestRepo.GetActiveBySource(ctx, nil, sourceID)
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch active digest: %w", err)
	}
	if digest == nil {
		return nil, ErrDigestNotFound
	}

	derived, err := s.deriver.Derive(ctx, source, digest)
	if err != nil {
		return nil, err
	}
	rules, err := buildRules(source, digest, derived)
	if err != nil {
		return nil, err
	}

	created, err := s.ruleRepo.Create(ctx, nil, rules)
	if err != nil {
		return nil, fmt.Errorf("Failed to create rules: %w", err)
	}
	s.log.Info("Generated rules", "source_id", sourceID, "digest_version", digest.Version, "count", len(created))
	return created, nil
}

// Redigest activates a new digest version and re-derives the rule set from
// it. Unprotected rules are deleted and replaced; approved or manually
// modified rules survive with their original digest reference intact. After
// the swap commits, the new rules are checked for collisions against the
// protected survivors.
func (s *ruleService) Redigest(ctx context.Context, in RedigestInput) (*RedigestResult, error) {
	source, err := s.getSource(ctx, in.SourceID)
	if err != nil {
		return nil, err
	}

	// Derive from the incoming interpretation before touching the DB. If the
	// judgment model is down the old digest and rules stay fully intact.
	pending := &types.LegislationDigest{InterpretedRequirements: in.InterpretedRequirements}
	derived, err := s.deriver.Derive(ctx, source, pending)
	if err != nil {
		return nil, err
	}

	result := &RedigestResult{}
	var created []*types.Rule
	var protectedRules []*types.Rule
	err = s.runner.InTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.sourceRepo.LockByID(ctx, tx, in.SourceID)
		if err != nil {
			if err == repos.ErrLockNotAvailable {
				return ErrActivationConflict
			}
			return err
		}
		if locked == nil {
			return ErrSourceNotFound
		}

		digest, err := s.digests.CreateDigestTx(ctx, tx, CreateDigestInput{
			SourceID:                in.SourceID,
			InterpretedRequirements: in.InterpretedRequirements,
			CreatedBy:               in.CreatedBy,
		})
		if err != nil {
			return err
		}

		deleted, err := s.ruleRepo.DeleteUnprotectedBySource(ctx, tx, in.SourceID)
		if err != nil {
			return fmt.Errorf("Failed to delete unprotected rules: %w", err)
		}
		protectedCount, err := s.ruleRepo.CountProtectedBySource(ctx, tx, in.SourceID)
		if err != nil {
			return fmt.Errorf("Failed to count protected rules: %w", err)
		}
		protectedRules, err = s.ruleRepo.GetActiveBySource(ctx, tx, in.SourceID)
		if err != nil {
			return fmt.Errorf("Failed to load surviving rules: %w", err)
		}

		rules, err := buildRules(source, digest, derived)
		if err != nil {
			return err
		}
		created, err = s.ruleRepo.Create(ctx, tx, rules)
		if err != nil {
			return fmt.Errorf("Failed to create rules: %w", err)
		}

		result.DigestVersion = digest.Version
		result.RulesDeleted = deleted
		result.RulesProtected = protectedCount
		result.RulesCreated = len(created)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Collision detection is advisory and happens after the swap committed.
	// A failure here leaves the new rule set live and collision-free rather
	// than rolling back the redigest.
	collisions, err := s.detector.DetectCollisions(ctx, created, protectedRules)
	if err != nil {
		s.log.Warn("Collision detection failed after redigest", "source_id", in.SourceID, "error", err.Error())
		collisions = []*types.RuleCollision{}
	}
	result.Collisions = collisions

	s.log.Info("Redigested source",
		"source_id", in.SourceID,
		"digest_version", result.DigestVersion,
		"created", result.RulesCreated,
		"deleted", result.RulesDeleted,
		"protected", result.RulesProtected,
		"collisions", len(result.Collisions),
	)
	return result, nil
}

// DeleteRulesForSource removes every rule of the source, protection
// notwithstanding. Digests and the source itself are untouched.
func (s *ruleService) DeleteRulesForSource(ctx context.Context, sourceID uuid.UUID) (int64, error) {
	if _, err := s.getSource(ctx, sourceID); err != nil {
		return 0, err
	}
	deleted, err := s.ruleRepo.DeleteBySource(ctx, nil, sourceID)
	if err != nil {
		return 0, fmt.Errorf("Failed to delete rules: %w", err)
	}
	s.log.Info("Deleted all rules for source", "source_id", sourceID, "count", deleted)
	return deleted, nil
}

// EditRule replaces the rule text and marks the rule manually modified. The
// pre-edit text is captured into OriginalRuleText on the first edit only, so
// later edits never overwrite the derived original.
func (s *ruleService) EditRule(ctx context.Context, in EditRuleInput) (*types.Rule, error) {
	if strings.TrimSpace(in.RuleText) == "" {
		return nil, fmt.Errorf("rule text required")
	}
	rule, err := s.GetRule(ctx, in.RuleID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"rule_text":            strings.TrimSpace(in.RuleText),
		"is_manually_modified": true,
	}
	if !rule.IsManuallyModified {
		updates["original_rule_text"] = rule.RuleText
		rule.OriginalRuleText = rule.RuleText
	}
	if err := s.ruleRepo.UpdateFields(ctx, nil, in.RuleID, updates); err != nil {
		return nil, fmt.Errorf("Failed to edit rule: %w", err)
	}
	rule.RuleText = strings.TrimSpace(in.RuleText)
	rule.IsManuallyModified = true
	s.log.Info("Edited rule", "rule_id", in.RuleID, "edited_by", in.EditedBy)
	return rule, nil
}

func (s *ruleService) ApproveRule(ctx context.Context, ruleID uuid.UUID, approvedBy string) (*types.Rule, error) {
	rule, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if err := s.ruleRepo.UpdateFields(ctx, nil, ruleID, map[string]any{"approved": true}); err != nil {
		return nil, fmt.Errorf("Failed to approve rule: %w", err)
	}
	rule.Approved = true
	s.log.Info("Approved rule", "rule_id", ruleID, "approved_by", approvedBy)
	return rule, nil
}

func (s *ruleService) GetRule(ctx context.Context, ruleID uuid.UUID) (*types.Rule, error) {
	found, err := s.ruleRepo.GetByIDs(ctx, nil, []uuid.UUID{ruleID})
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch rule: %w", err)
	}
	if len(found) == 0 || found[0] == nil {
		return nil, ErrRuleNotFound
	}
	return found[0], nil
}

func (s *ruleService) ListRules(ctx context.Context, filter repos.RuleFilter) ([]*types.Rule, error) {
	return s.ruleRepo.List(ctx, nil, filter)
}

func (s *ruleService) getSource(ctx context.Context, sourceID uuid.UUID) (*types.LegislationSource, error) {
	found, err := s.sourceRepo.GetByIDs(ctx, nil, []uuid.UUID{sourceID})
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch legislation source: %w", err)
	}
	if len(found) == 0 || found[0] == nil {
		return nil, ErrSourceNotFound
	}
	return found[0], nil
}

func buildRules(source *types.LegislationSource, digest *types.LegislationDigest, derived []DerivedRule) ([]*types.Rule, error) {
	rules := make([]*types.Rule, 0, len(derived))
	for _, d := range derived {
		rule := &types.Rule{
			ID:                  uuid.New(),
			StateCode:           source.StateCode,
			LegislationSourceID: source.ID,
			LegislationDigestID: digest.ID,
			RuleText:            d.RuleText,
			RuleKey:             d.RuleKey,
			Active:              true,
			Status:              types.RuleStatusActive,
			NeedsVisualJudgment: d.NeedsVisualJudgment,
		}
		if len(d.AppliesToPageTypes) > 0 {
			raw, err := jsonMarshalPageTypes(d.AppliesToPageTypes)
			if err != nil {
				return nil, err
			}
			rule.AppliesToPageTypes = raw
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
