package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/lotsentry/lotsentry-backend/internal/types"
)

func derivationFixture() (*types.LegislationSource, *types.LegislationDigest) {
	source := &types.LegislationSource{
		ID:            uuid.New(),
		StateCode:     "CA",
		StatuteNumber: "11713.1",
	}
	digest := &types.LegislationDigest{
		ID:                      uuid.New(),
		LegislationSourceID:     source.ID,
		InterpretedRequirements: "requirements",
	}
	return source, digest
}

func TestDeriveParsesRules(t *testing.T) {
	source, digest := derivationFixture()
	llm := &fakeLLM{responses: []map[string]any{{
		"rules": []any{
			map[string]any{
				"rule_key":              "Price Includes-Fees!",
				"rule_text":             "Advertised price must include all fees.",
				"applies_to_page_types": []any{"VDP", "Inventory"},
				"needs_visual_judgment": false,
			},
			map[string]any{
				"rule_key":              "disclaimer_placement",
				"rule_text":             "Disclaimer must be adjacent to price.",
				"needs_visual_judgment": true,
			},
		},
	}}}
	deriver := NewLLMRuleDeriver(llm, testLogger())

	derived, err := deriver.Derive(context.Background(), source, digest)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(derived) != 2 {
		t.Fatalf("derived count: want=2 got=%d", len(derived))
	}
	if derived[0].RuleKey != "price_includes_fees" {
		t.Fatalf("rule key normalization: want=price_includes_fees got=%q", derived[0].RuleKey)
	}
	if len(derived[0].AppliesToPageTypes) != 2 || derived[0].AppliesToPageTypes[0] != "vdp" {
		t.Fatalf("page types: %+v", derived[0].AppliesToPageTypes)
	}
	if !derived[1].NeedsVisualJudgment {
		t.Fatalf("visual judgment flag dropped")
	}
}

func TestDeriveSkipsMalformedEntries(t *testing.T) {
	source, digest := derivationFixture()
	llm := &fakeLLM{responses: []map[string]any{{
		"rules": []any{
			"not an object",
			map[string]any{"rule_key": "", "rule_text": "t"},
			map[string]any{"rule_key": "k", "rule_text": ""},
			map[string]any{"rule_key": "good_rule", "rule_text": "good text"},
		},
	}}}
	deriver := NewLLMRuleDeriver(llm, testLogger())

	derived, err := deriver.Derive(context.Background(), source, digest)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(derived) != 1 || derived[0].RuleKey != "good_rule" {
		t.Fatalf("malformed entries not skipped: %+v", derived)
	}
}

func TestDeriveAllMalformed(t *testing.T) {
	source, digest := derivationFixture()
	llm := &fakeLLM{responses: []map[string]any{{
		"rules": []any{"junk", "more junk"},
	}}}
	deriver := NewLLMRuleDeriver(llm, testLogger())

	_, err := deriver.Derive(context.Background(), source, digest)
	if !errors.Is(err, ErrMalformedJudgment) {
		t.Fatalf("want ErrMalformedJudgment, got %v", err)
	}
}

func TestDeriveTransportFailure(t *testing.T) {
	source, digest := derivationFixture()
	llm := &fakeLLM{errs: []error{errors.New("timeout")}}
	deriver := NewLLMRuleDeriver(llm, testLogger())

	_, err := deriver.Derive(context.Background(), source, digest)
	if !errors.Is(err, ErrJudgmentUnavailable) {
		t.Fatalf("want ErrJudgmentUnavailable, got %v", err)
	}
}
