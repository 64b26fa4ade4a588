package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/repos"
	"github.com/lotsentry/lotsentry-backend/internal/types"
	"github.com/lotsentry/lotsentry-backend/internal/utils"
)

type RunCheckInput struct {
	URL          string
	StateCode    string
	PageType     string
	PlatformHint string
}

// CheckService runs the tiered compliance check: text tier on every rule, a
// confidence gate on the findings, the template cache for already-settled
// escalations, and the visual tier only for what remains. Visual verdicts
// are authoritative over text findings for the same rule.
type CheckService interface {
	RunCheck(ctx context.Context, in RunCheckInput) (*types.ComplianceCheck, error)
	GetCheck(ctx context.Context, id uuid.UUID) (*types.ComplianceCheck, error)
	ListChecks(ctx context.Context, url string, limit int) ([]*types.ComplianceCheck, error)
}

type checkService struct {
	runner      repos.TxRunner
	log         *logger.Logger
	fetcher     PageFetcher
	templates   TemplateService
	textJudge   TextJudge
	visualJudge VisualJudge
	screenshots ScreenshotService
	cache       DecisionCache
	ruleRepo    repos.RuleRepo
	checkRepo   repos.ComplianceCheckRepo

	confidenceThreshold float64
	visualConcurrency   int
}

func NewCheckService(
	runner repos.TxRunner,
	log *logger.Logger,
	fetcher PageFetcher,
	templates TemplateService,
	textJudge TextJudge,
	visualJudge VisualJudge,
	screenshots ScreenshotService,
	cache DecisionCache,
	ruleRepo repos.RuleRepo,
	checkRepo repos.ComplianceCheckRepo,
) CheckService {
	serviceLog := log.With("service", "CheckService")
	return &checkService{
		runner:              runner,
		log:                 serviceLog,
		fetcher:             fetcher,
		templates:           templates,
		textJudge:           textJudge,
		visualJudge:         visualJudge,
		screenshots:         screenshots,
		cache:               cache,
		ruleRepo:            ruleRepo,
		checkRepo:           checkRepo,
		confidenceThreshold: utils.GetEnvAsFloat("VISUAL_CONFIDENCE_THRESHOLD", 0.85, serviceLog),
		visualConcurrency:   utils.GetEnvAsInt("VISUAL_CONCURRENCY", 4, serviceLog),
	}
}

var checkTracer = otel.Tracer("lotsentry/checks")

// escalation pairs a below-threshold text finding with the rule it flagged.
type escalation struct {
	candidate ViolationCandidate
	rule      *types.Rule
}

func (s *checkService) RunCheck(ctx context.Context, in RunCheckInput) (*types.ComplianceCheck, error) {
	stateCode := strings.ToUpper(strings.TrimSpace(in.StateCode))
	if len(stateCode) != 2 {
		return nil, fmt.Errorf("state code must be 2 letters, got %q", in.StateCode)
	}
	if strings.TrimSpace(in.URL) == "" {
		return nil, fmt.Errorf("url required")
	}

	page, err := s.fetcher.Fetch(ctx, in.URL)
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch page: %w", err)
	}

	pageType := normalizePageType(in.PageType)
	templateID := s.templates.Detect(in.URL, in.PlatformHint, page.Markup, pageType)

	rules, err := s.ruleRepo.GetActiveForPage(ctx, nil, stateCode, pageType)
	if err != nil {
		return nil, fmt.Errorf("Failed to load rules: %w", err)
	}

	check := &types.ComplianceCheck{
		ID:         uuid.New(),
		URL:        in.URL,
		StateCode:  stateCode,
		PageType:   pageType,
		TemplateID: templateID,
		Status:     types.CheckPending,
	}
	if check, err = s.checkRepo.Create(ctx, nil, check); err != nil {
		return nil, fmt.Errorf("Failed to create check: %w", err)
	}
	log := s.log.With("check_id", check.ID, "url", in.URL, "template_id", templateID)

	if len(rules) == 0 {
		log.Info("No active rules for page, finalizing compliant")
		return s.finalize(ctx, check, &TextAnalysis{OverallScore: 100, Summary: "No active rules apply to this page."}, nil, nil)
	}

	textCtx, textSpan := checkTracer.Start(ctx, "check.text_tier")
	textSpan.SetAttributes(attribute.Int("rules", len(rules)))
	analysis, err := s.textJudge.Analyze(textCtx, page, rules)
	textSpan.End()
	if err != nil {
		return nil, s.fail(ctx, check, err)
	}
	s.transition(ctx, check, types.CheckTextAnalyzed)

	ruleByKey := make(map[string]*types.Rule, len(rules))
	for _, rule := range rules {
		ruleByKey[rule.RuleKey] = rule
	}

	// The gate: a finding that needs visual judgment and sits below the
	// confidence threshold escalates. Confident findings stand as text
	// verdicts even when flagged for visual verification.
	var escalations []escalation
	for _, candidate := range analysis.Violations {
		if candidate.NeedsVisualVerification && candidate.Confidence < s.confidenceThreshold {
			escalations = append(escalations, escalation{candidate: candidate, rule: ruleByKey[candidate.RuleKey]})
		}
	}

	if len(escalations) == 0 {
		return s.finalize(ctx, check, analysis, nil, nil)
	}
	s.transition(ctx, check, types.CheckEscalationNeeded)

	cachedVerifications, misses, err := s.consultCache(ctx, log, templateID, escalations)
	if err != nil {
		return nil, s.fail(ctx, check, err)
	}

	// A full set of cache hits means the visual tier never ran, so the check
	// goes straight from escalation_needed to finalized.
	var freshVerifications []*types.VisualVerification
	if len(misses) > 0 {
		visualCtx, visualSpan := checkTracer.Start(ctx, "check.visual_tier")
		visualSpan.SetAttributes(attribute.Int("escalations", len(misses)))
		freshVerifications, err = s.runVisualTier(visualCtx, log, templateID, in.URL, misses)
		visualSpan.End()
		if err != nil {
			return nil, s.fail(ctx, check, err)
		}
		s.transition(ctx, check, types.CheckVisualAnalyzed)
	}

	return s.finalize(ctx, check, analysis, cachedVerifications, freshVerifications)
}

// consultCache resolves escalations that an earlier visual run or a human
// already settled for this template. A full set of hits means the visual
// tier is skipped entirely, screenshot included.
func (s *checkService) consultCache(ctx context.Context, log *logger.Logger, templateID string, escalations []escalation) ([]*types.VisualVerification, []escalation, error) {
	var cached []*types.VisualVerification
	var misses []escalation
	for _, esc := range escalations {
		entry, err := s.cache.Get(ctx, templateID, esc.candidate.RuleKey)
		if err != nil {
			return nil, nil, fmt.Errorf("Failed to consult decision cache: %w", err)
		}
		if entry == nil {
			misses = append(misses, esc)
			continue
		}
		cached = append(cached, &types.VisualVerification{
			ID:                 uuid.New(),
			RuleKey:            esc.candidate.RuleKey,
			RuleText:           esc.candidate.RuleViolated,
			IsCompliant:        entry.Status == types.CacheCompliant,
			Confidence:         entry.Confidence,
			VerificationMethod: entry.VerificationMethod,
			VisualEvidence:     entry.Notes,
			Cached:             true,
		})
	}
	log.Info("Decision cache consulted", "hits", len(cached), "misses", len(misses))
	return cached, misses, nil
}

// runVisualTier captures one screenshot and fans the remaining escalations
// out to the visual judge. Fresh verdicts are written back to the decision
// cache; a malformed verdict skips the write and leaves the text finding in
// place.
func (s *checkService) runVisualTier(ctx context.Context, log *logger.Logger, templateID, url string, misses []escalation) ([]*types.VisualVerification, error) {
	screenshotRef, err := s.screenshots.Capture(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: screenshot capture: %v", ErrJudgmentUnavailable, err)
	}

	verifications := make([]*types.VisualVerification, 0, len(misses))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.visualConcurrency)
	for _, esc := range misses {
		esc := esc
		g.Go(func() error {
			verdict, err := s.visualJudge.Verify(gctx, screenshotRef, esc.rule, esc.candidate.Evidence)
			if err != nil {
				if isMalformed(err) {
					log.Warn("Skipping malformed visual verdict", "rule_key", esc.candidate.RuleKey, "error", err.Error())
					return nil
				}
				return err
			}
			mu.Lock()
			verifications = append(verifications, &types.VisualVerification{
				ID:                 uuid.New(),
				RuleKey:            verdict.RuleKey,
				RuleText:           esc.candidate.RuleViolated,
				IsCompliant:        verdict.IsCompliant,
				Confidence:         verdict.Confidence,
				VerificationMethod: types.VerificationVisual,
				VisualEvidence:     verdict.VisualEvidence,
				ScreenshotRef:      screenshotRef,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Cache writes survive caller cancellation; a lost write only costs a
	// repeat visual call on the next check of this template.
	writeCtx := context.WithoutCancel(ctx)
	for _, v := range verifications {
		status := types.CacheNonCompliant
		if v.IsCompliant {
			status = types.CacheCompliant
		}
		entry := &types.TemplateRuleCache{
			ID:                 uuid.New(),
			TemplateID:         templateID,
			RuleKey:            v.RuleKey,
			Status:             status,
			Confidence:         v.Confidence,
			VerificationMethod: types.VerificationVisual,
			Notes:              v.VisualEvidence,
			VerifiedAt:         time.Now().UTC(),
		}
		if err := s.cache.Put(writeCtx, entry); err != nil {
			log.Warn("Decision cache write failed", "rule_key", v.RuleKey, "error", err.Error())
		}
	}
	return verifications, nil
}

// finalize reconciles the tiers and persists the outcome in one transaction.
// For every escalated rule with a verdict the verdict wins: a compliant
// verdict drops the text finding, a non-compliant one keeps it.
func (s *checkService) finalize(ctx context.Context, check *types.ComplianceCheck, analysis *TextAnalysis, cached, fresh []*types.VisualVerification) (*types.ComplianceCheck, error) {
	verdictByRule := make(map[string]*types.VisualVerification)
	allVerifications := append(append([]*types.VisualVerification{}, cached...), fresh...)
	for _, v := range allVerifications {
		v.CheckID = check.ID
		verdictByRule[v.RuleKey] = v
	}

	var surviving []*types.Violation
	for _, candidate := range analysis.Violations {
		if verdict, ok := verdictByRule[candidate.RuleKey]; ok && verdict.IsCompliant {
			continue
		}
		violation := &types.Violation{
			ID:                      uuid.New(),
			CheckID:                 check.ID,
			Category:                candidate.Category,
			Severity:                candidate.Severity,
			RuleKey:                 candidate.RuleKey,
			RuleViolated:            candidate.RuleViolated,
			Confidence:              candidate.Confidence,
			NeedsVisualVerification: candidate.NeedsVisualVerification,
			Description:             candidate.Description,
			Evidence:                candidate.Evidence,
			Recommendation:          candidate.Recommendation,
		}
		if verdict, ok := verdictByRule[candidate.RuleKey]; ok {
			// Visually confirmed; the verdict's confidence replaces the
			// below-threshold text confidence.
			violation.Confidence = verdict.Confidence
			violation.NeedsVisualVerification = false
		}
		surviving = append(surviving, violation)
	}

	complianceStatus := deriveComplianceStatus(surviving)

	err := s.runner.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.checkRepo.CreateViolations(ctx, tx, surviving); err != nil {
			return err
		}
		if err := s.checkRepo.CreateVisualVerifications(ctx, tx, allVerifications); err != nil {
			return err
		}
		return s.checkRepo.UpdateFields(ctx, tx, check.ID, map[string]any{
			"status":            types.CheckFinalized,
			"compliance_status": complianceStatus,
			"overall_score":     analysis.OverallScore,
			"summary":           analysis.Summary,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to finalize check: %w", err)
	}

	s.log.Info("Check finalized",
		"check_id", check.ID,
		"compliance_status", complianceStatus,
		"violations", len(surviving),
		"visual_verifications", len(allVerifications),
	)
	return s.checkRepo.GetByID(ctx, nil, check.ID)
}

func (s *checkService) fail(ctx context.Context, check *types.ComplianceCheck, cause error) error {
	updateErr := s.checkRepo.UpdateFields(ctx, nil, check.ID, map[string]any{
		"status": types.CheckFailed,
		"error":  cause.Error(),
	})
	if updateErr != nil {
		s.log.Error("Failed to mark check failed", "check_id", check.ID, "error", updateErr.Error())
	}
	return cause
}

func (s *checkService) transition(ctx context.Context, check *types.ComplianceCheck, status types.CheckStatus) {
	check.Status = status
	if err := s.checkRepo.UpdateFields(ctx, nil, check.ID, map[string]any{"status": status}); err != nil {
		s.log.Warn("Failed to record check transition", "check_id", check.ID, "status", status, "error", err.Error())
	}
}

func deriveComplianceStatus(violations []*types.Violation) types.ComplianceStatus {
	if len(violations) == 0 {
		return types.StatusCompliant
	}
	for _, v := range violations {
		if v.Severity == types.SeverityCritical || v.Severity == types.SeverityHigh {
			return types.StatusNonCompliant
		}
	}
	return types.StatusNeedsReview
}

func (s *checkService) GetCheck(ctx context.Context, id uuid.UUID) (*types.ComplianceCheck, error) {
	check, err := s.checkRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch check: %w", err)
	}
	if check == nil {
		return nil, ErrCheckNotFound
	}
	return check, nil
}

func (s *checkService) ListChecks(ctx context.Context, url string, limit int) ([]*types.ComplianceCheck, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.checkRepo.ListByURL(ctx, nil, url, limit)
}
