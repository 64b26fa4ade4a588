package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

type ComplianceCheckRepo interface {
	Create(ctx context.Context, tx *gorm.DB, check *types.ComplianceCheck) (*types.ComplianceCheck, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ComplianceCheck, error)
	ListByURL(ctx context.Context, tx *gorm.DB, url string, limit int) ([]*types.ComplianceCheck, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	CreateViolations(ctx context.Context, tx *gorm.DB, violations []*types.Violation) error
	CreateVisualVerifications(ctx context.Context, tx *gorm.DB, verifications []*types.VisualVerification) error
}

type complianceCheckRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewComplianceCheckRepo(db *gorm.DB, baseLog *logger.Logger) ComplianceCheckRepo {
	repoLog := baseLog.With("repo", "ComplianceCheckRepo")
	return &complianceCheckRepo{db: db, log: repoLog}
}

func (r *complianceCheckRepo) Create(ctx context.Context, tx *gorm.DB, check *types.ComplianceCheck) (*types.ComplianceCheck, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(check).Error; err != nil {
		return nil, err
	}
	return check, nil
}

func (r *complianceCheckRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ComplianceCheck, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var check types.ComplianceCheck
	err := transaction.WithContext(ctx).
		Preload("Violations").
		Preload("VisualVerifications").
		Where("id = ?", id).
		Limit(1).
		Find(&check).Error
	if err != nil {
		return nil, err
	}
	if check.ID == uuid.Nil {
		return nil, nil
	}
	return &check, nil
}

func (r *complianceCheckRepo) ListByURL(ctx context.Context, tx *gorm.DB, url string, limit int) ([]*types.ComplianceCheck, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 20
	}
	var results []*types.ComplianceCheck
	if err := transaction.WithContext(ctx).
		Where("url = ?", url).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *complianceCheckRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return transaction.WithContext(ctx).
		Model(&types.ComplianceCheck{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *complianceCheckRepo) CreateViolations(ctx context.Context, tx *gorm.DB, violations []*types.Violation) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(violations) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&violations).Error
}

func (r *complianceCheckRepo) CreateVisualVerifications(ctx context.Context, tx *gorm.DB, verifications []*types.VisualVerification) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(verifications) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&verifications).Error
}
