package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

// DerivedRule is one atomic requirement extracted from a digest by the
// judgment model, before persistence.
type DerivedRule struct {
	RuleKey             string
	RuleText            string
	AppliesToPageTypes  []string
	NeedsVisualJudgment bool
}

// RuleDeriver turns the active digest of a source into a set of atomic,
// independently checkable rules.
type RuleDeriver interface {
	Derive(ctx context.Context, source *types.LegislationSource, digest *types.LegislationDigest) ([]DerivedRule, error)
}

type llmRuleDeriver struct {
	llm LLMClient
	log *logger.Logger
}

func NewLLMRuleDeriver(llm LLMClient, log *logger.Logger) RuleDeriver {
	return &llmRuleDeriver{llm: llm, log: log.With("service", "RuleDeriver")}
}

const ruleDerivationSystemPrompt = `You are a compliance analyst for automotive dealership advertising.
Given interpreted legal requirements, extract atomic, independently testable rules.
Each rule checks exactly one thing on a dealership web page.
Respond with a JSON object of the shape:
{"rules": [{"rule_key": "snake_case_identifier",
            "rule_text": "imperative requirement the page must satisfy",
            "applies_to_page_types": ["vdp","inventory","homepage"] or null for all,
            "needs_visual_judgment": true|false}]}
Set needs_visual_judgment true only when the requirement concerns layout,
proximity, font size, or other presentation that cannot be checked from text alone.`

func (d *llmRuleDeriver) Derive(ctx context.Context, source *types.LegislationSource, digest *types.LegislationDigest) ([]DerivedRule, error) {
	user := fmt.Sprintf("State: %s\nStatute: %s\nTitle: %s\n\nInterpreted requirements:\n%s",
		source.StateCode, source.StatuteNumber, source.Title, digest.InterpretedRequirements)

	raw, err := d.llm.GenerateJSON(ctx, ruleDerivationSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("%w: rule derivation: %v", ErrJudgmentUnavailable, err)
	}

	entries, ok := raw["rules"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing rules array", ErrMalformedJudgment)
	}

	derived := make([]DerivedRule, 0, len(entries))
	for i, entry := range entries {
		rule, err := parseDerivedRule(entry)
		if err != nil {
			// A malformed entry never aborts the batch; the rest still land.
			d.log.Warn("Skipping malformed derived rule", "source_id", source.ID, "index", i, "error", err.Error())
			continue
		}
		derived = append(derived, rule)
	}
	if len(derived) == 0 && len(entries) > 0 {
		return nil, fmt.Errorf("%w: every derived rule was malformed", ErrMalformedJudgment)
	}
	return derived, nil
}

func parseDerivedRule(entry any) (DerivedRule, error) {
	obj, ok := entry.(map[string]any)
	if !ok {
		return DerivedRule{}, errors.New("entry is not an object")
	}
	key, _ := obj["rule_key"].(string)
	key = strings.TrimSpace(key)
	if key == "" {
		return DerivedRule{}, errors.New("missing rule_key")
	}
	text, _ := obj["rule_text"].(string)
	text = strings.TrimSpace(text)
	if text == "" {
		return DerivedRule{}, errors.New("missing rule_text")
	}

	var pageTypes []string
	if rawTypes, ok := obj["applies_to_page_types"].([]any); ok {
		for _, pt := range rawTypes {
			if s, ok := pt.(string); ok && strings.TrimSpace(s) != "" {
				pageTypes = append(pageTypes, strings.ToLower(strings.TrimSpace(s)))
			}
		}
	}

	needsVisual, _ := obj["needs_visual_judgment"].(bool)

	return DerivedRule{
		RuleKey:             normalizeRuleKey(key),
		RuleText:            text,
		AppliesToPageTypes:  pageTypes,
		NeedsVisualJudgment: needsVisual,
	}, nil
}

func normalizeRuleKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
