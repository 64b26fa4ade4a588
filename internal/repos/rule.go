package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

type RuleFilter struct {
	StateCode    string
	ActiveOnly   bool
	ApprovedOnly bool
	SourceID     uuid.UUID
}

type RuleRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rules []*types.Rule) ([]*types.Rule, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Rule, error)
	List(ctx context.Context, tx *gorm.DB, filter RuleFilter) ([]*types.Rule, error)
	// GetActiveBySource returns every currently active rule for the source,
	// across all of its digests, including protected rules orphaned from the
	// active digest.
	GetActiveBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) ([]*types.Rule, error)
	GetActiveForPage(ctx context.Context, tx *gorm.DB, stateCode, pageType string) ([]*types.Rule, error)
	// DeleteUnprotectedBySource removes every rule of the source that is
	// neither approved nor manually modified. Protected rules keep their
	// digest reference untouched.
	DeleteUnprotectedBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (int64, error)
	CountProtectedBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (int64, error)
	// DeleteBySource removes ALL rules of the source, protected or not.
	DeleteBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (int64, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type ruleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRuleRepo(db *gorm.DB, baseLog *logger.Logger) RuleRepo {
	repoLog := baseLog.With("repo", "RuleRepo")
	return &ruleRepo{db: db, log: repoLog}
}

func (r *ruleRepo) Create(ctx context.Context, tx *gorm.DB, rules []*types.Rule) ([]*types.Rule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rules) == 0 {
		return []*types.Rule{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *ruleRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Rule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Rule
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *ruleRepo) List(ctx context.Context, tx *gorm.DB, filter RuleFilter) ([]*types.Rule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx)
	if filter.StateCode != "" {
		q = q.Where("state_code = ?", filter.StateCode)
	}
	if filter.ActiveOnly {
		q = q.Where("active")
	}
	if filter.ApprovedOnly {
		q = q.Where("approved")
	}
	if filter.SourceID != uuid.Nil {
		q = q.Where("legislation_source_id = ?", filter.SourceID)
	}
	var results []*types.Rule
	if err := q.Order("state_code, created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *ruleRepo) GetActiveBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) ([]*types.Rule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Rule
	if err := transaction.WithContext(ctx).
		Where("legislation_source_id = ? AND active AND status = ?", sourceID, types.RuleStatusActive).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *ruleRepo) GetActiveForPage(ctx context.Context, tx *gorm.DB, stateCode, pageType string) ([]*types.Rule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Rule
	q := transaction.WithContext(ctx).
		Where("state_code = ? AND active AND status = ?", stateCode, types.RuleStatusActive)
	if pageType != "" {
		// NULL scope means the rule applies to every page type.
		q = q.Where("applies_to_page_types IS NULL OR applies_to_page_types @> ?", `"`+pageType+`"`)
	}
	if err := q.Order("created_at ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *ruleRepo) DeleteUnprotectedBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Where("legislation_source_id = ? AND NOT approved AND NOT is_manually_modified", sourceID).
		Delete(&types.Rule{})
	return res.RowsAffected, res.Error
}

func (r *ruleRepo) CountProtectedBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Rule{}).
		Where("legislation_source_id = ? AND (approved OR is_manually_modified)", sourceID).
		Count(&count).Error
	return count, err
}

func (r *ruleRepo) DeleteBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Where("legislation_source_id = ?", sourceID).
		Delete(&types.Rule{})
	return res.RowsAffected, res.Error
}

func (r *ruleRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return transaction.WithContext(ctx).
		Model(&types.Rule{}).
		Where("id = ?", id).
		Updates(updates).Error
}
