package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

// ViolationCandidate is one text-tier finding before persistence. Candidates
// below the confidence threshold on visual-judgment rules get escalated to
// the visual tier instead of being recorded as final.
type ViolationCandidate struct {
	RuleKey                 string
	RuleViolated            string
	Category                string
	Severity                types.Severity
	Confidence              float64
	NeedsVisualVerification bool
	Description             string
	Evidence                string
	Recommendation          string
}

type TextAnalysis struct {
	Violations   []ViolationCandidate
	OverallScore int
	Summary      string
}

// TextJudge runs the cheap text tier of a compliance check against the
// extracted page text.
type TextJudge interface {
	Analyze(ctx context.Context, page *Page, rules []*types.Rule) (*TextAnalysis, error)
}

type llmTextJudge struct {
	llm LLMClient
	log *logger.Logger
}

func NewLLMTextJudge(llm LLMClient, log *logger.Logger) TextJudge {
	return &llmTextJudge{llm: llm, log: log.With("service", "TextJudge")}
}

const textJudgmentSystemPrompt = `You audit automotive dealership web pages for advertising compliance.
You receive the page text and a list of rules. Report every rule the page
violates, based only on the text. Respond with a JSON object of the shape:
{"violations": [{"rule_key": "<key from the rule list>",
                 "category": "pricing|disclosure|financing|other",
                 "severity": "critical|high|medium|low",
                 "confidence": 0.0-1.0,
                 "needs_visual_verification": true|false,
                 "description": "what is wrong",
                 "evidence": "the offending text, quoted",
                 "recommendation": "how to fix it"}],
 "overall_score": 0-100,
 "summary": "one or two sentences"}
Set needs_visual_verification true when the finding depends on presentation
(placement, prominence, proximity) that the text alone cannot settle.`

func (j *llmTextJudge) Analyze(ctx context.Context, page *Page, rules []*types.Rule) (*TextAnalysis, error) {
	ruleByKey := make(map[string]*types.Rule, len(rules))
	var ruleDesc strings.Builder
	for _, rule := range rules {
		ruleByKey[rule.RuleKey] = rule
		fmt.Fprintf(&ruleDesc, "- key=%s text=%s\n", rule.RuleKey, rule.RuleText)
	}

	user := fmt.Sprintf("URL: %s\n\nRules:\n%s\nPage text:\n%s", page.URL, ruleDesc.String(), page.Text)
	raw, err := j.llm.GenerateJSON(ctx, textJudgmentSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("%w: text analysis: %v", ErrJudgmentUnavailable, err)
	}

	entries, ok := raw["violations"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing violations array", ErrMalformedJudgment)
	}

	analysis := &TextAnalysis{}
	for i, entry := range entries {
		candidate, err := parseViolationCandidate(ruleByKey, entry)
		if err != nil {
			j.log.Warn("Skipping malformed violation", "url", page.URL, "index", i, "error", err.Error())
			continue
		}
		analysis.Violations = append(analysis.Violations, candidate)
	}

	if score, ok := raw["overall_score"].(float64); ok && score >= 0 && score <= 100 {
		analysis.OverallScore = int(score)
	}
	if summary, ok := raw["summary"].(string); ok {
		analysis.Summary = summary
	}
	return analysis, nil
}

func parseViolationCandidate(ruleByKey map[string]*types.Rule, entry any) (ViolationCandidate, error) {
	obj, ok := entry.(map[string]any)
	if !ok {
		return ViolationCandidate{}, fmt.Errorf("entry is not an object")
	}
	key, _ := obj["rule_key"].(string)
	key = strings.TrimSpace(key)
	rule, known := ruleByKey[key]
	if !known {
		return ViolationCandidate{}, fmt.Errorf("unknown rule_key %q", key)
	}
	rawSeverity, _ := obj["severity"].(string)
	severity := types.Severity(strings.TrimSpace(rawSeverity))
	if !severity.Valid() {
		return ViolationCandidate{}, fmt.Errorf("bad severity %q", rawSeverity)
	}
	confidence, ok := obj["confidence"].(float64)
	if !ok || confidence < 0 || confidence > 1 {
		return ViolationCandidate{}, fmt.Errorf("confidence out of range")
	}

	needsVisual, _ := obj["needs_visual_verification"].(bool)
	category, _ := obj["category"].(string)
	description, _ := obj["description"].(string)
	evidence, _ := obj["evidence"].(string)
	recommendation, _ := obj["recommendation"].(string)

	return ViolationCandidate{
		RuleKey:      key,
		RuleViolated: rule.RuleText,
		Category:     category,
		Severity:     severity,
		Confidence:   confidence,
		// The rule itself can demand visual judgment even when the model
		// does not flag the finding.
		NeedsVisualVerification: needsVisual || rule.NeedsVisualJudgment,
		Description:             description,
		Evidence:                evidence,
		Recommendation:          recommendation,
	}, nil
}
