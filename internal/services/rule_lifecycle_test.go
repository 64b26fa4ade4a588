package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/lotsentry/lotsentry-backend/internal/types"
)

type ruleFixture struct {
	sourceRepo *fakeSourceRepo
	digestRepo *fakeDigestRepo
	ruleRepo   *fakeRuleRepo
	deriver    *fakeDeriver
	detector   *fakeDetector
	digests    DigestService
	svc        RuleService
	source     *types.LegislationSource
}

func newRuleFixture() *ruleFixture {
	f := &ruleFixture{
		sourceRepo: newFakeSourceRepo(),
		digestRepo: newFakeDigestRepo(),
		ruleRepo:   newFakeRuleRepo(),
		deriver:    &fakeDeriver{},
		detector:   &fakeDetector{},
	}
	f.source = &types.LegislationSource{
		ID:            uuid.New(),
		StateCode:     "CA",
		StatuteNumber: "11713.1",
		FullText:      "full statute text",
	}
	f.sourceRepo.sources[f.source.ID] = f.source
	log := testLogger()
	f.digests = NewDigestService(fakeTxRunner{}, log, f.sourceRepo, f.digestRepo)
	f.svc = NewRuleService(fakeTxRunner{}, log, f.deriver, f.detector, f.digests, f.sourceRepo, f.digestRepo, f.ruleRepo)
	return f
}

func (f *ruleFixture) activateDigest(t *testing.T, text string) *types.LegislationDigest {
	t.Helper()
	digest, err := f.digests.CreateDigest(context.Background(), CreateDigestInput{
		SourceID:                f.source.ID,
		InterpretedRequirements: text,
	})
	if err != nil {
		t.Fatalf("activate digest: %v", err)
	}
	return digest
}

func TestGenerateRulesRequiresActiveDigest(t *testing.T) {
	f := newRuleFixture()
	_, err := f.svc.GenerateRules(context.Background(), f.source.ID)
	if !errors.Is(err, ErrDigestNotFound) {
		t.Fatalf("want ErrDigestNotFound, got %v", err)
	}
}

func TestGenerateRulesPersistsDerivedRules(t *testing.T) {
	f := newRuleFixture()
	digest := f.activateDigest(t, "v1 requirements")
	f.deriver.rules = []DerivedRule{
		{RuleKey: "price_includes_fees", RuleText: "Advertised price must include all fees."},
		{RuleKey: "apr_disclosure", RuleText: "APR must accompany any monthly payment.", NeedsVisualJudgment: true},
	}

	rules, err := f.svc.GenerateRules(context.Background(), f.source.ID)
	if err != nil {
		t.Fatalf("generate rules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rule count: want=2 got=%d", len(rules))
	}
	for _, rule := range rules {
		if rule.LegislationDigestID != digest.ID {
			t.Fatalf("rule digest ref: want=%s got=%s", digest.ID, rule.LegislationDigestID)
		}
		if rule.StateCode != "CA" || !rule.Active || rule.Status != types.RuleStatusActive {
			t.Fatalf("rule defaults wrong: %+v", rule)
		}
	}
}

func TestGenerateRulesIsAdditive(t *testing.T) {
	f := newRuleFixture()
	f.activateDigest(t, "v1 requirements")
	f.deriver.rules = []DerivedRule{{RuleKey: "price_includes_fees", RuleText: "Advertised price must include all fees."}}
	first, err := f.svc.GenerateRules(context.Background(), f.source.ID)
	if err != nil {
		t.Fatalf("first generation: %v", err)
	}

	// A second generation adds rules without removing the earlier unprotected
	// batch. Only redigest replaces the rule set.
	f.deriver.rules = []DerivedRule{{RuleKey: "apr_disclosure", RuleText: "APR must accompany any monthly payment."}}
	if _, err := f.svc.GenerateRules(context.Background(), f.source.ID); err != nil {
		t.Fatalf("second generation: %v", err)
	}

	remaining, err := f.ruleRepo.GetActiveBySource(context.Background(), nil, f.source.ID)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("rules after two generations: want=2 got=%d", len(remaining))
	}
	if _, err := f.svc.GetRule(context.Background(), first[0].ID); err != nil {
		t.Fatalf("first batch rule removed by second generation: %v", err)
	}
}

func TestRedigestPreservesProtectedRules(t *testing.T) {
	f := newRuleFixture()
	v1 := f.activateDigest(t, "v1 requirements")

	f.deriver.rules = []DerivedRule{
		{RuleKey: "price_includes_fees", RuleText: "Advertised price must include all fees."},
		{RuleKey: "stock_number", RuleText: "Ads must show the stock number."},
	}
	firstGen, err := f.svc.GenerateRules(context.Background(), f.source.ID)
	if err != nil {
		t.Fatalf("first generation: %v", err)
	}

	// A reviewer approves one rule; the other stays unprotected.
	approved, err := f.svc.ApproveRule(context.Background(), firstGen[0].ID, "reviewer@example.com")
	if err != nil {
		t.Fatalf("approve rule: %v", err)
	}

	f.deriver.rules = []DerivedRule{
		{RuleKey: "doc_fee_disclosure", RuleText: "Document fees must be disclosed."},
	}
	result, err := f.svc.Redigest(context.Background(), RedigestInput{
		SourceID:                f.source.ID,
		InterpretedRequirements: "v2 requirements",
	})
	if err != nil {
		t.Fatalf("redigest: %v", err)
	}

	if result.DigestVersion != 2 {
		t.Fatalf("digest version: want=2 got=%d", result.DigestVersion)
	}
	if result.RulesDeleted != 1 {
		t.Fatalf("rules deleted: want=1 got=%d", result.RulesDeleted)
	}
	if result.RulesProtected != 1 {
		t.Fatalf("rules protected: want=1 got=%d", result.RulesProtected)
	}
	if result.RulesCreated != 1 {
		t.Fatalf("rules created: want=1 got=%d", result.RulesCreated)
	}

	// The approved rule survives with its original digest reference; it is
	// never re-pointed at v2.
	survivor, err := f.svc.GetRule(context.Background(), approved.ID)
	if err != nil {
		t.Fatalf("fetch survivor: %v", err)
	}
	if survivor.LegislationDigestID != v1.ID {
		t.Fatalf("survivor digest ref: want=%s got=%s", v1.ID, survivor.LegislationDigestID)
	}
	if !survivor.Approved {
		t.Fatalf("survivor lost approval")
	}

	// Collision detection ran against the protected survivor only.
	if len(f.detector.gotNew) != 1 || len(f.detector.gotOld) != 1 {
		t.Fatalf("collision inputs: want 1 new and 1 existing, got %d and %d", len(f.detector.gotNew), len(f.detector.gotOld))
	}
	if f.detector.gotOld[0].ID != approved.ID {
		t.Fatalf("collision existing side: want=%s got=%s", approved.ID, f.detector.gotOld[0].ID)
	}
}

func TestRedigestLeavesStateIntactWhenDerivationFails(t *testing.T) {
	f := newRuleFixture()
	f.activateDigest(t, "v1 requirements")
	f.deriver.rules = []DerivedRule{{RuleKey: "k", RuleText: "t"}}
	if _, err := f.svc.GenerateRules(context.Background(), f.source.ID); err != nil {
		t.Fatalf("first generation: %v", err)
	}

	f.deriver.err = ErrJudgmentUnavailable
	_, err := f.svc.Redigest(context.Background(), RedigestInput{
		SourceID:                f.source.ID,
		InterpretedRequirements: "v2 requirements",
	})
	if !errors.Is(err, ErrJudgmentUnavailable) {
		t.Fatalf("want ErrJudgmentUnavailable, got %v", err)
	}

	// Old digest is still active at version 1 and the old rules are intact.
	digest, err := f.digests.GetActiveDigest(context.Background(), f.source.ID)
	if err != nil {
		t.Fatalf("active digest: %v", err)
	}
	if digest.Version != 1 {
		t.Fatalf("active digest version after failed redigest: want=1 got=%d", digest.Version)
	}
	rules, err := f.ruleRepo.GetActiveBySource(context.Background(), nil, f.source.ID)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("rules after failed redigest: want=1 got=%d", len(rules))
	}
}

func TestRedigestFailsFastOnLockContention(t *testing.T) {
	f := newRuleFixture()
	f.activateDigest(t, "v1 requirements")
	f.deriver.rules = []DerivedRule{{RuleKey: "k", RuleText: "t"}}
	f.sourceRepo.locked[f.source.ID] = true

	_, err := f.svc.Redigest(context.Background(), RedigestInput{
		SourceID:                f.source.ID,
		InterpretedRequirements: "contended",
	})
	if !errors.Is(err, ErrActivationConflict) {
		t.Fatalf("want ErrActivationConflict, got %v", err)
	}
}

func TestDeleteRulesForSourceIgnoresProtection(t *testing.T) {
	f := newRuleFixture()
	f.activateDigest(t, "v1 requirements")
	f.deriver.rules = []DerivedRule{
		{RuleKey: "a", RuleText: "rule a"},
		{RuleKey: "b", RuleText: "rule b"},
	}
	rules, err := f.svc.GenerateRules(context.Background(), f.source.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := f.svc.ApproveRule(context.Background(), rules[0].ID, "reviewer"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	deleted, err := f.svc.DeleteRulesForSource(context.Background(), f.source.ID)
	if err != nil {
		t.Fatalf("delete rules: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted: want=2 got=%d", deleted)
	}
	remaining, _ := f.ruleRepo.GetActiveBySource(context.Background(), nil, f.source.ID)
	if len(remaining) != 0 {
		t.Fatalf("remaining rules: want=0 got=%d", len(remaining))
	}
}

func TestEditRuleCapturesOriginalTextOnce(t *testing.T) {
	f := newRuleFixture()
	f.activateDigest(t, "v1 requirements")
	f.deriver.rules = []DerivedRule{{RuleKey: "k", RuleText: "derived text"}}
	rules, err := f.svc.GenerateRules(context.Background(), f.source.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	edited, err := f.svc.EditRule(context.Background(), EditRuleInput{
		RuleID:   rules[0].ID,
		RuleText: "first manual text",
		EditedBy: "editor",
	})
	if err != nil {
		t.Fatalf("first edit: %v", err)
	}
	if edited.OriginalRuleText != "derived text" {
		t.Fatalf("original text after first edit: want=%q got=%q", "derived text", edited.OriginalRuleText)
	}
	if !edited.IsManuallyModified {
		t.Fatalf("edit did not mark rule manually modified")
	}

	edited, err = f.svc.EditRule(context.Background(), EditRuleInput{
		RuleID:   rules[0].ID,
		RuleText: "second manual text",
		EditedBy: "editor",
	})
	if err != nil {
		t.Fatalf("second edit: %v", err)
	}
	// The derived original survives any number of later edits.
	if edited.OriginalRuleText != "derived text" {
		t.Fatalf("original text after second edit: want=%q got=%q", "derived text", edited.OriginalRuleText)
	}
	if edited.RuleText != "second manual text" {
		t.Fatalf("rule text: want=%q got=%q", "second manual text", edited.RuleText)
	}
}
