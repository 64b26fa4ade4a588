package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

type TemplateRuleCacheRepo interface {
	// Get returns nil (not an error) on a cache miss.
	Get(ctx context.Context, tx *gorm.DB, templateID, ruleKey string) (*types.TemplateRuleCache, error)
	// Upsert is last-write-wins on (template_id, rule_key). Concurrent
	// writers racing on the same key is expected and harmless.
	Upsert(ctx context.Context, tx *gorm.DB, entry *types.TemplateRuleCache) error
	ListByTemplate(ctx context.Context, tx *gorm.DB, templateID string) ([]*types.TemplateRuleCache, error)
}

type templateRuleCacheRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTemplateRuleCacheRepo(db *gorm.DB, baseLog *logger.Logger) TemplateRuleCacheRepo {
	repoLog := baseLog.With("repo", "TemplateRuleCacheRepo")
	return &templateRuleCacheRepo{db: db, log: repoLog}
}

func (r *templateRuleCacheRepo) Get(ctx context.Context, tx *gorm.DB, templateID, ruleKey string) (*types.TemplateRuleCache, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var entry types.TemplateRuleCache
	err := transaction.WithContext(ctx).
		Where("template_id = ? AND rule_key = ?", templateID, ruleKey).
		Limit(1).
		Find(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == uuid.Nil {
		return nil, nil
	}
	return &entry, nil
}

func (r *templateRuleCacheRepo) Upsert(ctx context.Context, tx *gorm.DB, entry *types.TemplateRuleCache) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "template_id"}, {Name: "rule_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "confidence", "verification_method", "notes", "verified_at",
			}),
		}).
		Create(entry).Error
}

func (r *templateRuleCacheRepo) ListByTemplate(ctx context.Context, tx *gorm.DB, templateID string) ([]*types.TemplateRuleCache, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.TemplateRuleCache
	if err := transaction.WithContext(ctx).
		Where("template_id = ?", templateID).
		Order("rule_key ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
