package services

import (
	"context"
	"fmt"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

// VisualVerdict is the visual tier's answer for one escalated rule.
type VisualVerdict struct {
	RuleKey        string
	IsCompliant    bool
	Confidence     float64
	VisualEvidence string
}

// VisualJudge settles one escalated rule against a rendered screenshot of the
// page. Its verdict is authoritative over the text tier.
type VisualJudge interface {
	Verify(ctx context.Context, screenshotURL string, rule *types.Rule, evidence string) (*VisualVerdict, error)
}

type llmVisualJudge struct {
	llm LLMClient
	log *logger.Logger
}

func NewLLMVisualJudge(llm LLMClient, log *logger.Logger) VisualJudge {
	return &llmVisualJudge{llm: llm, log: log.With("service", "VisualJudge")}
}

const visualJudgmentPrompt = `You audit a screenshot of an automotive dealership web page for one
compliance rule. Judge placement, prominence, proximity, and legibility as
actually rendered.

Rule: %s

Text-tier context: %s

Respond with a JSON object of the shape:
{"is_compliant": true|false,
 "confidence": 0.0-1.0,
 "visual_evidence": "what you see in the screenshot that supports the verdict"}`

func (j *llmVisualJudge) Verify(ctx context.Context, screenshotURL string, rule *types.Rule, evidence string) (*VisualVerdict, error) {
	prompt := fmt.Sprintf(visualJudgmentPrompt, rule.RuleText, evidence)
	raw, err := j.llm.GenerateVisionJSON(ctx, prompt, screenshotURL)
	if err != nil {
		return nil, fmt.Errorf("%w: visual verification: %v", ErrJudgmentUnavailable, err)
	}

	isCompliant, ok := raw["is_compliant"].(bool)
	if !ok {
		return nil, fmt.Errorf("%w: missing is_compliant", ErrMalformedJudgment)
	}
	confidence, ok := raw["confidence"].(float64)
	if !ok || confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence out of range", ErrMalformedJudgment)
	}
	visualEvidence, _ := raw["visual_evidence"].(string)

	return &VisualVerdict{
		RuleKey:        rule.RuleKey,
		IsCompliant:    isCompliant,
		Confidence:     confidence,
		VisualEvidence: visualEvidence,
	}, nil
}
