package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/repos"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

type ResolveCollisionInput struct {
	CollisionID uuid.UUID
	Resolution  types.CollisionResolution
	ResolvedBy  string
	// MergedText is required when the resolution is merge and ignored
	// otherwise.
	MergedText string
}

// CollisionDetector classifies how newly generated rules relate to rules that
// survived re-derivation. Detections are advisory: both sides of every
// collision stay active until a human resolves it.
type CollisionDetector interface {
	DetectCollisions(ctx context.Context, newRules []*types.Rule, existingRules []*types.Rule) ([]*types.RuleCollision, error)
}

type CollisionService interface {
	CollisionDetector
	ListCollisions(ctx context.Context, pendingOnly bool) ([]*types.RuleCollision, error)
	Resolve(ctx context.Context, in ResolveCollisionInput) (*types.RuleCollision, error)
}

type collisionService struct {
	runner        repos.TxRunner
	log           *logger.Logger
	llm           LLMClient
	collisionRepo repos.RuleCollisionRepo
	ruleRepo      repos.RuleRepo
}

func NewCollisionService(runner repos.TxRunner, log *logger.Logger, llm LLMClient, collisionRepo repos.RuleCollisionRepo, ruleRepo repos.RuleRepo) CollisionService {
	return &collisionService{
		runner:        runner,
		log:           log.With("service", "CollisionService"),
		llm:           llm,
		collisionRepo: collisionRepo,
		ruleRepo:      ruleRepo,
	}
}

const collisionSystemPrompt = `You compare compliance rules for automotive dealership advertising.
Given one new rule and a list of existing rules, report every existing rule the
new one collides with. Collision types:
  duplicate  - same requirement, same wording or trivially rephrased
  semantic   - same requirement expressed differently
  conflict   - the two requirements cannot both be satisfied
  overlap    - partially covers the same ground
  supersedes - the new rule fully covers and extends the existing one
Respond with a JSON object of the shape:
{"collisions": [{"existing_rule_id": "<uuid>",
                 "collision_type": "duplicate|semantic|conflict|overlap|supersedes",
                 "confidence": 0.0-1.0,
                 "explanation": "one sentence"}]}
Return {"collisions": []} when the new rule is independent of all existing rules.`

func (s *collisionService) DetectCollisions(ctx context.Context, newRules []*types.Rule, existingRules []*types.Rule) ([]*types.RuleCollision, error) {
	if len(newRules) == 0 || len(existingRules) == 0 {
		return []*types.RuleCollision{}, nil
	}

	existingByID := make(map[uuid.UUID]*types.Rule, len(existingRules))
	var existingDesc strings.Builder
	for _, rule := range existingRules {
		existingByID[rule.ID] = rule
		fmt.Fprintf(&existingDesc, "- id=%s key=%s text=%s\n", rule.ID, rule.RuleKey, rule.RuleText)
	}

	var detected []*types.RuleCollision
	for _, newRule := range newRules {
		user := fmt.Sprintf("New rule:\nkey=%s\ntext=%s\n\nExisting rules:\n%s",
			newRule.RuleKey, newRule.RuleText, existingDesc.String())

		raw, err := s.llm.GenerateJSON(ctx, collisionSystemPrompt, user)
		if err != nil {
			return nil, fmt.Errorf("%w: collision detection: %v", ErrJudgmentUnavailable, err)
		}

		entries, ok := raw["collisions"].([]any)
		if !ok {
			s.log.Warn("Malformed collision response, skipping rule", "rule_id", newRule.ID)
			continue
		}
		for i, entry := range entries {
			collision, err := s.parseCollision(newRule, existingByID, entry)
			if err != nil {
				s.log.Warn("Skipping malformed collision entry", "rule_id", newRule.ID, "index", i, "error", err.Error())
				continue
			}
			detected = append(detected, collision)
		}
	}

	if len(detected) == 0 {
		return []*types.RuleCollision{}, nil
	}
	created, err := s.collisionRepo.Create(ctx, nil, detected)
	if err != nil {
		return nil, fmt.Errorf("Failed to persist collisions: %w", err)
	}
	s.log.Info("Detected rule collisions", "count", len(created))
	return created, nil
}

func (s *collisionService) parseCollision(newRule *types.Rule, existingByID map[uuid.UUID]*types.Rule, entry any) (*types.RuleCollision, error) {
	obj, ok := entry.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("entry is not an object")
	}
	rawID, _ := obj["existing_rule_id"].(string)
	existingID, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return nil, fmt.Errorf("bad existing_rule_id %q", rawID)
	}
	if _, known := existingByID[existingID]; !known {
		return nil, fmt.Errorf("existing_rule_id %s is not in the candidate set", existingID)
	}
	rawType, _ := obj["collision_type"].(string)
	collisionType := types.CollisionType(strings.TrimSpace(rawType))
	if !collisionType.Valid() {
		return nil, fmt.Errorf("bad collision_type %q", rawType)
	}
	confidence, _ := obj["confidence"].(float64)
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range", confidence)
	}
	explanation, _ := obj["explanation"].(string)

	return &types.RuleCollision{
		ID:                 uuid.New(),
		RuleID:             newRule.ID,
		CollidesWithRuleID: existingID,
		CollisionType:      collisionType,
		Confidence:         confidence,
		AIExplanation:      explanation,
	}, nil
}

func (s *collisionService) ListCollisions(ctx context.Context, pendingOnly bool) ([]*types.RuleCollision, error) {
	if pendingOnly {
		return s.collisionRepo.ListPending(ctx, nil)
	}
	return s.collisionRepo.List(ctx, nil)
}

// Resolve applies a human decision to a pending collision. Rule state changes
// happen in the same transaction as the resolution record.
func (s *collisionService) Resolve(ctx context.Context, in ResolveCollisionInput) (*types.RuleCollision, error) {
	if !in.Resolution.Valid() {
		return nil, fmt.Errorf("invalid resolution %q", in.Resolution)
	}
	if in.Resolution == types.ResolutionMerge && strings.TrimSpace(in.MergedText) == "" {
		return nil, fmt.Errorf("merge resolution requires merged text")
	}

	var resolved *types.RuleCollision
	err := s.runner.InTx(ctx, func(tx *gorm.DB) error {
		found, err := s.collisionRepo.GetByIDs(ctx, tx, []uuid.UUID{in.CollisionID})
		if err != nil {
			return err
		}
		if len(found) == 0 || found[0] == nil {
			return ErrCollisionNotFound
		}
		collision := found[0]
		if !collision.Pending() {
			return ErrCollisionResolved
		}

		rules, err := s.ruleRepo.GetByIDs(ctx, tx, []uuid.UUID{collision.RuleID, collision.CollidesWithRuleID})
		if err != nil {
			return err
		}
		var newRule, existingRule *types.Rule
		for _, rule := range rules {
			switch rule.ID {
			case collision.RuleID:
				newRule = rule
			case collision.CollidesWithRuleID:
				existingRule = rule
			}
		}
		if newRule == nil || existingRule == nil {
			return ErrRuleNotFound
		}

		switch in.Resolution {
		case types.ResolutionKeepBoth:
			// Both rules stay active as they are.
		case types.ResolutionKeepExisting:
			if err := s.ruleRepo.UpdateFields(ctx, tx, newRule.ID, map[string]any{
				"active": false,
				"status": types.RuleStatusSuperseded,
			}); err != nil {
				return err
			}
		case types.ResolutionKeepNew:
			// The retired rule points forward at the rule that replaced it.
			if err := s.ruleRepo.UpdateFields(ctx, tx, existingRule.ID, map[string]any{
				"active":             false,
				"status":             types.RuleStatusSuperseded,
				"supersedes_rule_id": newRule.ID,
			}); err != nil {
				return err
			}
		case types.ResolutionMerge:
			merged := &types.Rule{
				ID:                  uuid.New(),
				StateCode:           newRule.StateCode,
				LegislationSourceID: newRule.LegislationSourceID,
				LegislationDigestID: newRule.LegislationDigestID,
				RuleText:            strings.TrimSpace(in.MergedText),
				RuleKey:             newRule.RuleKey,
				AppliesToPageTypes:  newRule.AppliesToPageTypes,
				Active:              true,
				Status:              types.RuleStatusActive,
				NeedsVisualJudgment: newRule.NeedsVisualJudgment || existingRule.NeedsVisualJudgment,
				IsManuallyModified:  true,
			}
			if _, err := s.ruleRepo.Create(ctx, tx, []*types.Rule{merged}); err != nil {
				return err
			}
			// Both retired inputs point forward at the merged rule.
			for _, id := range []uuid.UUID{newRule.ID, existingRule.ID} {
				if err := s.ruleRepo.UpdateFields(ctx, tx, id, map[string]any{
					"active":             false,
					"status":             types.RuleStatusMerged,
					"supersedes_rule_id": merged.ID,
				}); err != nil {
					return err
				}
			}
		}

		if err := s.collisionRepo.Resolve(ctx, tx, collision.ID, in.Resolution, in.ResolvedBy); err != nil {
			return err
		}

		now := time.Now()
		resolution := in.Resolution
		collision.Resolution = &resolution
		collision.ResolvedBy = in.ResolvedBy
		collision.ResolvedAt = &now
		resolved = collision
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Resolved collision", "collision_id", resolved.ID, "resolution", in.Resolution, "resolved_by", in.ResolvedBy)
	return resolved, nil
}
