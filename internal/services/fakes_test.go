package services

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/repos"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

func testLogger() *logger.Logger {
	log, err := logger.New("development")
	if err != nil {
		panic(err)
	}
	return log
}

// fakeTxRunner executes the closure directly. The fake repos below are not
// transactional, so rollback semantics are not exercised here.
type fakeTxRunner struct{}

func (fakeTxRunner) InTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeSourceRepo struct {
	mu      sync.Mutex
	sources map[uuid.UUID]*types.LegislationSource
	// locked simulates another transaction holding the row lock.
	locked map[uuid.UUID]bool
}

func newFakeSourceRepo() *fakeSourceRepo {
	return &fakeSourceRepo{
		sources: map[uuid.UUID]*types.LegislationSource{},
		locked:  map[uuid.UUID]bool{},
	}
}

func (r *fakeSourceRepo) Create(_ context.Context, _ *gorm.DB, sources []*types.LegislationSource) ([]*types.LegislationSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range sources {
		r.sources[s.ID] = s
	}
	return sources, nil
}

func (r *fakeSourceRepo) GetByIDs(_ context.Context, _ *gorm.DB, ids []uuid.UUID) ([]*types.LegislationSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.LegislationSource
	for _, id := range ids {
		if s, ok := r.sources[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSourceRepo) List(_ context.Context, _ *gorm.DB, stateCode string) ([]*types.LegislationSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.LegislationSource
	for _, s := range r.sources {
		if stateCode == "" || s.StateCode == stateCode {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSourceRepo) LockByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.LegislationSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked[id] {
		return nil, repos.ErrLockNotAvailable
	}
	return r.sources[id], nil
}

func (r *fakeSourceRepo) Delete(_ context.Context, _ *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, id)
	return nil
}

type fakeDigestRepo struct {
	mu      sync.Mutex
	digests map[uuid.UUID]*types.LegislationDigest
}

func newFakeDigestRepo() *fakeDigestRepo {
	return &fakeDigestRepo{digests: map[uuid.UUID]*types.LegislationDigest{}}
}

func (r *fakeDigestRepo) Create(_ context.Context, _ *gorm.DB, digests []*types.LegislationDigest) ([]*types.LegislationDigest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range digests {
		r.digests[d.ID] = d
	}
	return digests, nil
}

func (r *fakeDigestRepo) GetByIDs(_ context.Context, _ *gorm.DB, ids []uuid.UUID) ([]*types.LegislationDigest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.LegislationDigest
	for _, id := range ids {
		if d, ok := r.digests[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeDigestRepo) GetActiveBySource(_ context.Context, _ *gorm.DB, sourceID uuid.UUID) (*types.LegislationDigest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.digests {
		if d.LegislationSourceID == sourceID && d.Active {
			return d, nil
		}
	}
	return nil, nil
}

func (r *fakeDigestRepo) ListBySource(_ context.Context, _ *gorm.DB, sourceID uuid.UUID) ([]*types.LegislationDigest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.LegislationDigest
	for _, d := range r.digests {
		if d.LegislationSourceID == sourceID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (r *fakeDigestRepo) MaxVersion(_ context.Context, _ *gorm.DB, sourceID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, d := range r.digests {
		if d.LegislationSourceID == sourceID && d.Version > max {
			max = d.Version
		}
	}
	return max, nil
}

func (r *fakeDigestRepo) DeactivateActiveBySource(_ context.Context, _ *gorm.DB, sourceID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.digests {
		if d.LegislationSourceID == sourceID {
			d.Active = false
		}
	}
	return nil
}

func (r *fakeDigestRepo) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.digests[id]
	if !ok {
		return nil
	}
	if v, ok := updates["approved"].(bool); ok {
		d.Approved = v
	}
	if v, ok := updates["reviewed_by"].(string); ok {
		d.ReviewedBy = v
	}
	return nil
}

func (r *fakeDigestRepo) activeFor(sourceID uuid.UUID) []*types.LegislationDigest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.LegislationDigest
	for _, d := range r.digests {
		if d.LegislationSourceID == sourceID && d.Active {
			out = append(out, d)
		}
	}
	return out
}

type fakeRuleRepo struct {
	mu    sync.Mutex
	rules map[uuid.UUID]*types.Rule
}

func newFakeRuleRepo() *fakeRuleRepo {
	return &fakeRuleRepo{rules: map[uuid.UUID]*types.Rule{}}
}

func (r *fakeRuleRepo) Create(_ context.Context, _ *gorm.DB, rules []*types.Rule) ([]*types.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range rules {
		r.rules[rule.ID] = rule
	}
	return rules, nil
}

func (r *fakeRuleRepo) GetByIDs(_ context.Context, _ *gorm.DB, ids []uuid.UUID) ([]*types.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Rule
	for _, id := range ids {
		if rule, ok := r.rules[id]; ok {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *fakeRuleRepo) List(_ context.Context, _ *gorm.DB, filter repos.RuleFilter) ([]*types.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Rule
	for _, rule := range r.rules {
		if filter.StateCode != "" && rule.StateCode != filter.StateCode {
			continue
		}
		if filter.ActiveOnly && !rule.Active {
			continue
		}
		if filter.ApprovedOnly && !rule.Approved {
			continue
		}
		if filter.SourceID != uuid.Nil && rule.LegislationSourceID != filter.SourceID {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func (r *fakeRuleRepo) GetActiveBySource(_ context.Context, _ *gorm.DB, sourceID uuid.UUID) ([]*types.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Rule
	for _, rule := range r.rules {
		if rule.LegislationSourceID == sourceID && rule.Active && rule.Status == types.RuleStatusActive {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *fakeRuleRepo) GetActiveForPage(_ context.Context, _ *gorm.DB, stateCode, _ string) ([]*types.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Rule
	for _, rule := range r.rules {
		if rule.StateCode == stateCode && rule.Active && rule.Status == types.RuleStatusActive {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleKey < out[j].RuleKey })
	return out, nil
}

func (r *fakeRuleRepo) DeleteUnprotectedBySource(_ context.Context, _ *gorm.DB, sourceID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, rule := range r.rules {
		if rule.LegislationSourceID == sourceID && !rule.Approved && !rule.IsManuallyModified {
			delete(r.rules, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *fakeRuleRepo) CountProtectedBySource(_ context.Context, _ *gorm.DB, sourceID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, rule := range r.rules {
		if rule.LegislationSourceID == sourceID && (rule.Approved || rule.IsManuallyModified) {
			count++
		}
	}
	return count, nil
}

func (r *fakeRuleRepo) DeleteBySource(_ context.Context, _ *gorm.DB, sourceID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, rule := range r.rules {
		if rule.LegislationSourceID == sourceID {
			delete(r.rules, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *fakeRuleRepo) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil
	}
	if v, ok := updates["rule_text"].(string); ok {
		rule.RuleText = v
	}
	if v, ok := updates["original_rule_text"].(string); ok {
		rule.OriginalRuleText = v
	}
	if v, ok := updates["is_manually_modified"].(bool); ok {
		rule.IsManuallyModified = v
	}
	if v, ok := updates["approved"].(bool); ok {
		rule.Approved = v
	}
	if v, ok := updates["active"].(bool); ok {
		rule.Active = v
	}
	if v, ok := updates["status"].(types.RuleStatus); ok {
		rule.Status = v
	}
	if v, ok := updates["supersedes_rule_id"].(uuid.UUID); ok {
		rule.SupersedesRuleID = &v
	}
	return nil
}

type fakeCollisionRepo struct {
	mu         sync.Mutex
	collisions map[uuid.UUID]*types.RuleCollision
}

func newFakeCollisionRepo() *fakeCollisionRepo {
	return &fakeCollisionRepo{collisions: map[uuid.UUID]*types.RuleCollision{}}
}

func (r *fakeCollisionRepo) Create(_ context.Context, _ *gorm.DB, collisions []*types.RuleCollision) ([]*types.RuleCollision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range collisions {
		r.collisions[c.ID] = c
	}
	return collisions, nil
}

func (r *fakeCollisionRepo) GetByIDs(_ context.Context, _ *gorm.DB, ids []uuid.UUID) ([]*types.RuleCollision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.RuleCollision
	for _, id := range ids {
		if c, ok := r.collisions[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCollisionRepo) ListPending(_ context.Context, _ *gorm.DB) ([]*types.RuleCollision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.RuleCollision
	for _, c := range r.collisions {
		if c.Pending() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCollisionRepo) List(_ context.Context, _ *gorm.DB) ([]*types.RuleCollision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.RuleCollision
	for _, c := range r.collisions {
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeCollisionRepo) Resolve(_ context.Context, _ *gorm.DB, id uuid.UUID, resolution types.CollisionResolution, resolvedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.collisions[id]; ok {
		res := resolution
		c.Resolution = &res
		c.ResolvedBy = resolvedBy
	}
	return nil
}

type fakeCheckRepo struct {
	mu            sync.Mutex
	checks        map[uuid.UUID]*types.ComplianceCheck
	violations    map[uuid.UUID][]*types.Violation
	verifications map[uuid.UUID][]*types.VisualVerification
	// statusHistory records every status a check passed through, in order.
	statusHistory []types.CheckStatus
}

func newFakeCheckRepo() *fakeCheckRepo {
	return &fakeCheckRepo{
		checks:        map[uuid.UUID]*types.ComplianceCheck{},
		violations:    map[uuid.UUID][]*types.Violation{},
		verifications: map[uuid.UUID][]*types.VisualVerification{},
	}
}

func (r *fakeCheckRepo) Create(_ context.Context, _ *gorm.DB, check *types.ComplianceCheck) (*types.ComplianceCheck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[check.ID] = check
	r.statusHistory = append(r.statusHistory, check.Status)
	return check, nil
}

func (r *fakeCheckRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.ComplianceCheck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	check, ok := r.checks[id]
	if !ok {
		return nil, nil
	}
	check.Violations = nil
	for _, v := range r.violations[id] {
		check.Violations = append(check.Violations, *v)
	}
	check.VisualVerifications = nil
	for _, v := range r.verifications[id] {
		check.VisualVerifications = append(check.VisualVerifications, *v)
	}
	return check, nil
}

func (r *fakeCheckRepo) ListByURL(_ context.Context, _ *gorm.DB, url string, _ int) ([]*types.ComplianceCheck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.ComplianceCheck
	for _, c := range r.checks {
		if c.URL == url {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCheckRepo) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	check, ok := r.checks[id]
	if !ok {
		return nil
	}
	if v, ok := updates["status"].(types.CheckStatus); ok {
		check.Status = v
		r.statusHistory = append(r.statusHistory, v)
	}
	if v, ok := updates["compliance_status"].(types.ComplianceStatus); ok {
		check.ComplianceStatus = v
	}
	if v, ok := updates["overall_score"].(int); ok {
		check.OverallScore = v
	}
	if v, ok := updates["summary"].(string); ok {
		check.Summary = v
	}
	if v, ok := updates["error"].(string); ok {
		check.Error = v
	}
	return nil
}

func (r *fakeCheckRepo) CreateViolations(_ context.Context, _ *gorm.DB, violations []*types.Violation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range violations {
		r.violations[v.CheckID] = append(r.violations[v.CheckID], v)
	}
	return nil
}

func (r *fakeCheckRepo) CreateVisualVerifications(_ context.Context, _ *gorm.DB, verifications []*types.VisualVerification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range verifications {
		r.verifications[v.CheckID] = append(r.verifications[v.CheckID], v)
	}
	return nil
}

// fakeLLM returns scripted responses in call order and records prompts.
type fakeLLM struct {
	mu        sync.Mutex
	responses []map[string]any
	errs      []error
	calls     int
}

func (f *fakeLLM) next() (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return map[string]any{}, nil
}

func (f *fakeLLM) GenerateJSON(_ context.Context, _, _ string) (map[string]any, error) {
	return f.next()
}

func (f *fakeLLM) GenerateVisionJSON(_ context.Context, _, _ string) (map[string]any, error) {
	return f.next()
}

type fakeDeriver struct {
	rules []DerivedRule
	err   error
	calls int
}

func (f *fakeDeriver) Derive(_ context.Context, _ *types.LegislationSource, _ *types.LegislationDigest) ([]DerivedRule, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rules, nil
}

type fakeDetector struct {
	collisions []*types.RuleCollision
	err        error
	gotNew     []*types.Rule
	gotOld     []*types.Rule
}

func (f *fakeDetector) DetectCollisions(_ context.Context, newRules, existingRules []*types.Rule) ([]*types.RuleCollision, error) {
	f.gotNew = newRules
	f.gotOld = existingRules
	if f.err != nil {
		return nil, f.err
	}
	return f.collisions, nil
}

type fakeFetcher struct {
	page *Page
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.page != nil {
		return f.page, nil
	}
	return &Page{URL: url, Markup: "<html></html>", Text: "page text"}, nil
}

type fakeTemplates struct {
	templateID string
}

func (f *fakeTemplates) Detect(_, _, _, _ string) string {
	return f.templateID
}

type fakeTextJudge struct {
	analysis *TextAnalysis
	err      error
}

func (f *fakeTextJudge) Analyze(_ context.Context, _ *Page, _ []*types.Rule) (*TextAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

type fakeVisualJudge struct {
	mu       sync.Mutex
	verdicts map[string]*VisualVerdict
	errs     map[string]error
	calls    int
	// onVerify runs on every call, before the scripted result is returned.
	onVerify func()
}

func (f *fakeVisualJudge) Verify(_ context.Context, _ string, rule *types.Rule, _ string) (*VisualVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onVerify != nil {
		f.onVerify()
	}
	if err, ok := f.errs[rule.RuleKey]; ok {
		return nil, err
	}
	if v, ok := f.verdicts[rule.RuleKey]; ok {
		return v, nil
	}
	return &VisualVerdict{RuleKey: rule.RuleKey, IsCompliant: true, Confidence: 0.9}, nil
}

type fakeScreenshots struct {
	ref   string
	err   error
	calls int
}

func (f *fakeScreenshots) Capture(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.ref == "" {
		return "https://cdn.example.com/shot.png", nil
	}
	return f.ref, nil
}
