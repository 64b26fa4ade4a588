package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

// ErrLockNotAvailable is returned by LockByID when another transaction holds
// the row lock (FOR UPDATE NOWAIT). Callers translate it into their own
// conflict error.
var ErrLockNotAvailable = errors.New("source row lock not available")

type LegislationSourceRepo interface {
	Create(ctx context.Context, tx *gorm.DB, sources []*types.LegislationSource) ([]*types.LegislationSource, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.LegislationSource, error)
	List(ctx context.Context, tx *gorm.DB, stateCode string) ([]*types.LegislationSource, error)
	// LockByID takes a FOR UPDATE NOWAIT lock on the source row, serializing
	// digest activation and re-derivation per source without cross-source
	// contention. Returns ErrLockNotAvailable on lock contention and nil
	// source when the row does not exist.
	LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.LegislationSource, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type legislationSourceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLegislationSourceRepo(db *gorm.DB, baseLog *logger.Logger) LegislationSourceRepo {
	repoLog := baseLog.With("repo", "LegislationSourceRepo")
	return &legislationSourceRepo{db: db, log: repoLog}
}

func (r *legislationSourceRepo) Create(ctx context.Context, tx *gorm.DB, sources []*types.LegislationSource) ([]*types.LegislationSource, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(sources) == 0 {
		return []*types.LegislationSource{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&sources).Error; err != nil {
		return nil, err
	}
	return sources, nil
}

func (r *legislationSourceRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.LegislationSource, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.LegislationSource
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

func (r *legislationSourceRepo) List(ctx context.Context, tx *gorm.DB, stateCode string) ([]*types.LegislationSource, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.LegislationSource
	q := transaction.WithContext(ctx)
	if stateCode != "" {
		q = q.Where("state_code = ?", stateCode)
	}
	if err := q.Order("state_code, statute_number").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *legislationSourceRepo) LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.LegislationSource, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var source types.LegislationSource
	err := transaction.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).
		Where("id = ?", id).
		Limit(1).
		Find(&source).Error
	if err != nil {
		var pgErr *pgconn.PgError
		// 55P03 = lock_not_available
		if errors.As(err, &pgErr) && pgErr.Code == "55P03" {
			return nil, ErrLockNotAvailable
		}
		return nil, err
	}
	if source.ID == uuid.Nil {
		return nil, nil
	}
	return &source, nil
}

func (r *legislationSourceRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.LegislationSource{}).Error
}
