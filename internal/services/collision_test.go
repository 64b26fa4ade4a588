package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/lotsentry/lotsentry-backend/internal/types"
)

type collisionFixture struct {
	llm           *fakeLLM
	ruleRepo      *fakeRuleRepo
	collisionRepo *fakeCollisionRepo
	svc           CollisionService
	newRule       *types.Rule
	existing      *types.Rule
}

func newCollisionFixture() *collisionFixture {
	f := &collisionFixture{
		llm:           &fakeLLM{},
		ruleRepo:      newFakeRuleRepo(),
		collisionRepo: newFakeCollisionRepo(),
	}
	sourceID := uuid.New()
	f.newRule = &types.Rule{
		ID:                  uuid.New(),
		StateCode:           "CA",
		LegislationSourceID: sourceID,
		RuleKey:             "price_includes_fees_v2",
		RuleText:            "Advertised price must include all mandatory fees.",
		Active:              true,
		Status:              types.RuleStatusActive,
	}
	f.existing = &types.Rule{
		ID:                  uuid.New(),
		StateCode:           "CA",
		LegislationSourceID: sourceID,
		RuleKey:             "price_includes_fees",
		RuleText:            "Advertised price must include all fees.",
		Active:              true,
		Status:              types.RuleStatusActive,
		Approved:            true,
	}
	f.ruleRepo.rules[f.newRule.ID] = f.newRule
	f.ruleRepo.rules[f.existing.ID] = f.existing
	f.svc = NewCollisionService(fakeTxRunner{}, testLogger(), f.llm, f.collisionRepo, f.ruleRepo)
	return f
}

func (f *collisionFixture) detect(t *testing.T) *types.RuleCollision {
	t.Helper()
	collisions, err := f.svc.DetectCollisions(context.Background(), []*types.Rule{f.newRule}, []*types.Rule{f.existing})
	if err != nil {
		t.Fatalf("detect collisions: %v", err)
	}
	if len(collisions) != 1 {
		t.Fatalf("collision count: want=1 got=%d", len(collisions))
	}
	return collisions[0]
}

func TestDetectCollisionsClassifiesPair(t *testing.T) {
	f := newCollisionFixture()
	f.llm.responses = []map[string]any{
		{"collisions": []any{map[string]any{
			"existing_rule_id": f.existing.ID.String(),
			"collision_type":   "semantic",
			"confidence":       0.92,
			"explanation":      "Both require full-fee pricing.",
		}}},
	}

	collision := f.detect(t)
	if collision.CollisionType != types.CollisionSemantic {
		t.Fatalf("collision type: want=semantic got=%s", collision.CollisionType)
	}
	if !collision.Pending() {
		t.Fatalf("fresh collision must be pending")
	}
	if collision.RuleID != f.newRule.ID || collision.CollidesWithRuleID != f.existing.ID {
		t.Fatalf("collision sides wrong: %+v", collision)
	}

	// Detection is advisory: both rules are still active.
	for _, id := range []uuid.UUID{f.newRule.ID, f.existing.ID} {
		if !f.ruleRepo.rules[id].Active {
			t.Fatalf("rule %s deactivated by detection", id)
		}
	}
}

func TestDetectCollisionsSkipsMalformedEntries(t *testing.T) {
	f := newCollisionFixture()
	f.llm.responses = []map[string]any{
		{"collisions": []any{
			map[string]any{"existing_rule_id": "not-a-uuid", "collision_type": "duplicate", "confidence": 0.9},
			map[string]any{"existing_rule_id": f.existing.ID.String(), "collision_type": "banana", "confidence": 0.9},
			map[string]any{"existing_rule_id": f.existing.ID.String(), "collision_type": "duplicate", "confidence": 1.7},
			map[string]any{"existing_rule_id": f.existing.ID.String(), "collision_type": "duplicate", "confidence": 0.95},
		}},
	}

	collision := f.detect(t)
	if collision.CollisionType != types.CollisionDuplicate || collision.Confidence != 0.95 {
		t.Fatalf("surviving collision wrong: %+v", collision)
	}
}

func TestDetectCollisionsNoCandidates(t *testing.T) {
	f := newCollisionFixture()
	collisions, err := f.svc.DetectCollisions(context.Background(), []*types.Rule{f.newRule}, nil)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(collisions) != 0 {
		t.Fatalf("collisions without existing rules: want=0 got=%d", len(collisions))
	}
	if f.llm.calls != 0 {
		t.Fatalf("llm calls without existing rules: want=0 got=%d", f.llm.calls)
	}
}

func TestResolveKeepExisting(t *testing.T) {
	f := newCollisionFixture()
	f.llm.responses = []map[string]any{{"collisions": []any{map[string]any{
		"existing_rule_id": f.existing.ID.String(),
		"collision_type":   "conflict",
		"confidence":       0.8,
	}}}}
	collision := f.detect(t)

	resolved, err := f.svc.Resolve(context.Background(), ResolveCollisionInput{
		CollisionID: collision.ID,
		Resolution:  types.ResolutionKeepExisting,
		ResolvedBy:  "reviewer",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Pending() {
		t.Fatalf("collision still pending after resolve")
	}
	if f.ruleRepo.rules[f.newRule.ID].Active {
		t.Fatalf("keep_existing left the new rule active")
	}
	if f.ruleRepo.rules[f.newRule.ID].Status != types.RuleStatusSuperseded {
		t.Fatalf("new rule status: want=superseded got=%s", f.ruleRepo.rules[f.newRule.ID].Status)
	}
	if !f.ruleRepo.rules[f.existing.ID].Active {
		t.Fatalf("keep_existing deactivated the existing rule")
	}
}

func TestResolveKeepNew(t *testing.T) {
	f := newCollisionFixture()
	f.llm.responses = []map[string]any{{"collisions": []any{map[string]any{
		"existing_rule_id": f.existing.ID.String(),
		"collision_type":   "supersedes",
		"confidence":       0.9,
	}}}}
	collision := f.detect(t)

	if _, err := f.svc.Resolve(context.Background(), ResolveCollisionInput{
		CollisionID: collision.ID,
		Resolution:  types.ResolutionKeepNew,
		ResolvedBy:  "reviewer",
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	existing := f.ruleRepo.rules[f.existing.ID]
	if existing.Active {
		t.Fatalf("keep_new left the existing rule active")
	}
	if existing.Status != types.RuleStatusSuperseded {
		t.Fatalf("existing rule status: want=superseded got=%s", existing.Status)
	}
	// The retired rule points forward at its replacement.
	if existing.SupersedesRuleID == nil || *existing.SupersedesRuleID != f.newRule.ID {
		t.Fatalf("supersedes lineage not recorded on retired rule: %+v", existing.SupersedesRuleID)
	}
	newRule := f.ruleRepo.rules[f.newRule.ID]
	if !newRule.Active {
		t.Fatalf("keep_new deactivated the new rule")
	}
	if newRule.SupersedesRuleID != nil {
		t.Fatalf("new rule must not carry a supersedes pointer: %+v", newRule.SupersedesRuleID)
	}
}

func TestResolveKeepBoth(t *testing.T) {
	f := newCollisionFixture()
	f.llm.responses = []map[string]any{{"collisions": []any{map[string]any{
		"existing_rule_id": f.existing.ID.String(),
		"collision_type":   "overlap",
		"confidence":       0.7,
	}}}}
	collision := f.detect(t)

	if _, err := f.svc.Resolve(context.Background(), ResolveCollisionInput{
		CollisionID: collision.ID,
		Resolution:  types.ResolutionKeepBoth,
		ResolvedBy:  "reviewer",
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !f.ruleRepo.rules[f.newRule.ID].Active || !f.ruleRepo.rules[f.existing.ID].Active {
		t.Fatalf("keep_both deactivated a rule")
	}
}

func TestResolveMerge(t *testing.T) {
	f := newCollisionFixture()
	f.llm.responses = []map[string]any{{"collisions": []any{map[string]any{
		"existing_rule_id": f.existing.ID.String(),
		"collision_type":   "semantic",
		"confidence":       0.85,
	}}}}
	collision := f.detect(t)

	// Merge without text is rejected.
	if _, err := f.svc.Resolve(context.Background(), ResolveCollisionInput{
		CollisionID: collision.ID,
		Resolution:  types.ResolutionMerge,
		ResolvedBy:  "reviewer",
	}); err == nil {
		t.Fatalf("merge without merged text must fail")
	}

	if _, err := f.svc.Resolve(context.Background(), ResolveCollisionInput{
		CollisionID: collision.ID,
		Resolution:  types.ResolutionMerge,
		ResolvedBy:  "reviewer",
		MergedText:  "Advertised price must include every mandatory fee and charge.",
	}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	if f.ruleRepo.rules[f.newRule.ID].Status != types.RuleStatusMerged {
		t.Fatalf("new rule status: want=merged got=%s", f.ruleRepo.rules[f.newRule.ID].Status)
	}
	if f.ruleRepo.rules[f.existing.ID].Status != types.RuleStatusMerged {
		t.Fatalf("existing rule status: want=merged got=%s", f.ruleRepo.rules[f.existing.ID].Status)
	}

	var merged *types.Rule
	for id, rule := range f.ruleRepo.rules {
		if id != f.newRule.ID && id != f.existing.ID {
			merged = rule
		}
	}
	if merged == nil {
		t.Fatalf("merge created no rule")
	}
	if !merged.Active || !merged.IsManuallyModified {
		t.Fatalf("merged rule state wrong: %+v", merged)
	}
	for _, input := range []*types.Rule{f.ruleRepo.rules[f.newRule.ID], f.ruleRepo.rules[f.existing.ID]} {
		if input.SupersedesRuleID == nil || *input.SupersedesRuleID != merged.ID {
			t.Fatalf("retired input does not point at the merged rule: %+v", input.SupersedesRuleID)
		}
	}
}

func TestResolveTwiceFails(t *testing.T) {
	f := newCollisionFixture()
	f.llm.responses = []map[string]any{{"collisions": []any{map[string]any{
		"existing_rule_id": f.existing.ID.String(),
		"collision_type":   "duplicate",
		"confidence":       0.99,
	}}}}
	collision := f.detect(t)

	if _, err := f.svc.Resolve(context.Background(), ResolveCollisionInput{
		CollisionID: collision.ID,
		Resolution:  types.ResolutionKeepBoth,
		ResolvedBy:  "reviewer",
	}); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	_, err := f.svc.Resolve(context.Background(), ResolveCollisionInput{
		CollisionID: collision.ID,
		Resolution:  types.ResolutionKeepNew,
		ResolvedBy:  "reviewer",
	})
	if !errors.Is(err, ErrCollisionResolved) {
		t.Fatalf("want ErrCollisionResolved, got %v", err)
	}
}

func TestResolveUnknownCollision(t *testing.T) {
	f := newCollisionFixture()
	_, err := f.svc.Resolve(context.Background(), ResolveCollisionInput{
		CollisionID: uuid.New(),
		Resolution:  types.ResolutionKeepBoth,
		ResolvedBy:  "reviewer",
	})
	if !errors.Is(err, ErrCollisionNotFound) {
		t.Fatalf("want ErrCollisionNotFound, got %v", err)
	}
}
