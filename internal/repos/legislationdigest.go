package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

type LegislationDigestRepo interface {
	Create(ctx context.Context, tx *gorm.DB, digests []*types.LegislationDigest) ([]*types.LegislationDigest, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.LegislationDigest, error)
	GetActiveBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (*types.LegislationDigest, error)
	ListBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) ([]*types.LegislationDigest, error)
	// MaxVersion returns 0 when the source has no digests yet.
	MaxVersion(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (int, error)
	DeactivateActiveBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) error
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type legislationDigestRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLegislationDigestRepo(db *gorm.DB, baseLog *logger.Logger) LegislationDigestRepo {
	repoLog := baseLog.With("repo", "LegislationDigestRepo")
	return &legislationDigestRepo{db: db, log: repoLog}
}

func (r *legislationDigestRepo) Create(ctx context.Context, tx *gorm.DB, digests []*types.LegislationDigest) ([]*types.LegislationDigest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(digests) == 0 {
		return []*types.LegislationDigest{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&digests).Error; err != nil {
		return nil, err
	}
	return digests, nil
}

func (r *legislationDigestRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.LegislationDigest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.LegislationDigest
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

func (r *legislationDigestRepo) GetActiveBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (*types.LegislationDigest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var digest types.LegislationDigest
	err := transaction.WithContext(ctx).
		Where("legislation_source_id = ? AND active", sourceID).
		Limit(1).
		Find(&digest).Error
	if err != nil {
		return nil, err
	}
	if digest.ID == uuid.Nil {
		return nil, nil
	}
	return &digest, nil
}

func (r *legislationDigestRepo) ListBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) ([]*types.LegislationDigest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.LegislationDigest
	if err := transaction.WithContext(ctx).
		Where("legislation_source_id = ?", sourceID).
		Order("version DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *legislationDigestRepo) MaxVersion(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var maxVersion int
	err := transaction.WithContext(ctx).
		Model(&types.LegislationDigest{}).
		Where("legislation_source_id = ?", sourceID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&maxVersion).Error
	if err != nil {
		return 0, err
	}
	return maxVersion, nil
}

func (r *legislationDigestRepo) DeactivateActiveBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.LegislationDigest{}).
		Where("legislation_source_id = ? AND active", sourceID).
		Updates(map[string]interface{}{"active": false, "updated_at": time.Now()}).Error
}

func (r *legislationDigestRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return transaction.WithContext(ctx).
		Model(&types.LegislationDigest{}).
		Where("id = ?", id).
		Updates(updates).Error
}
