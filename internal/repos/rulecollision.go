package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

type RuleCollisionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, collisions []*types.RuleCollision) ([]*types.RuleCollision, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.RuleCollision, error)
	ListPending(ctx context.Context, tx *gorm.DB) ([]*types.RuleCollision, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.RuleCollision, error)
	Resolve(ctx context.Context, tx *gorm.DB, id uuid.UUID, resolution types.CollisionResolution, resolvedBy string) error
}

type ruleCollisionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRuleCollisionRepo(db *gorm.DB, baseLog *logger.Logger) RuleCollisionRepo {
	repoLog := baseLog.With("repo", "RuleCollisionRepo")
	return &ruleCollisionRepo{db: db, log: repoLog}
}

func (r *ruleCollisionRepo) Create(ctx context.Context, tx *gorm.DB, collisions []*types.RuleCollision) ([]*types.RuleCollision, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(collisions) == 0 {
		return []*types.RuleCollision{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&collisions).Error; err != nil {
		return nil, err
	}
	return collisions, nil
}

func (r *ruleCollisionRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.RuleCollision, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.RuleCollision
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

func (r *ruleCollisionRepo) ListPending(ctx context.Context, tx *gorm.DB) ([]*types.RuleCollision, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.RuleCollision
	if err := transaction.WithContext(ctx).
		Where("resolution IS NULL").
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *ruleCollisionRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.RuleCollision, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.RuleCollision
	if err := transaction.WithContext(ctx).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *ruleCollisionRepo) Resolve(ctx context.Context, tx *gorm.DB, id uuid.UUID, resolution types.CollisionResolution, resolvedBy string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.RuleCollision{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"resolution":  resolution,
			"resolved_by": resolvedBy,
			"resolved_at": now,
		}).Error
}
