package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/repos"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

type CreateDigestInput struct {
	SourceID                uuid.UUID
	InterpretedRequirements string
	CreatedBy               string
}

// DigestService versions the interpreted requirements of a legislation
// source. At most one digest per source is active at any time; activation
// of a new version and deactivation of the old one happen in a single
// transaction under a row lock on the source. A concurrent activation
// against the same source fails fast rather than queueing.
type DigestService interface {
	CreateDigest(ctx context.Context, in CreateDigestInput) (*types.LegislationDigest, error)
	// CreateDigestTx performs the version swap inside an existing
	// transaction. The caller must already hold the source row lock.
	CreateDigestTx(ctx context.Context, tx *gorm.DB, in CreateDigestInput) (*types.LegislationDigest, error)
	GetDigest(ctx context.Context, id uuid.UUID) (*types.LegislationDigest, error)
	GetActiveDigest(ctx context.Context, sourceID uuid.UUID) (*types.LegislationDigest, error)
	ListDigests(ctx context.Context, sourceID uuid.UUID) ([]*types.LegislationDigest, error)
	ApproveDigest(ctx context.Context, id uuid.UUID, reviewedBy string) (*types.LegislationDigest, error)
}

type digestService struct {
	runner     repos.TxRunner
	log        *logger.Logger
	sourceRepo repos.LegislationSourceRepo
	digestRepo repos.LegislationDigestRepo
}

func NewDigestService(runner repos.TxRunner, log *logger.Logger, sourceRepo repos.LegislationSourceRepo, digestRepo repos.LegislationDigestRepo) DigestService {
	return &digestService{
		runner:     runner,
		log:        log.With("service", "DigestService"),
		sourceRepo: sourceRepo,
		digestRepo: digestRepo,
	}
}

func (s *digestService) CreateDigest(ctx context.Context, in CreateDigestInput) (*types.LegislationDigest, error) {
	var digest *types.LegislationDigest
	err := s.runner.InTx(ctx, func(tx *gorm.DB) error {
		source, err := s.sourceRepo.LockByID(ctx, tx, in.SourceID)
		if err != nil {
			if err == repos.ErrLockNotAvailable {
				return ErrActivationConflict
			}
			return err
		}
		if source == nil {
			return ErrSourceNotFound
		}
		digest, err = s.CreateDigestTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return digest, nil
}

func (s *digestService) CreateDigestTx(ctx context.Context, tx *gorm.DB, in CreateDigestInput) (*types.LegislationDigest, error) {
	if in.InterpretedRequirements == "" {
		return nil, fmt.Errorf("interpreted requirements required")
	}

	maxVersion, err := s.digestRepo.MaxVersion(ctx, tx, in.SourceID)
	if err != nil {
		return nil, fmt.Errorf("Failed to resolve digest version: %w", err)
	}
	if err := s.digestRepo.DeactivateActiveBySource(ctx, tx, in.SourceID); err != nil {
		return nil, fmt.Errorf("Failed to deactivate previous digest: %w", err)
	}

	digest := &types.LegislationDigest{
		ID:                      uuid.New(),
		LegislationSourceID:     in.SourceID,
		Version:                 maxVersion + 1,
		Active:                  true,
		InterpretedRequirements: in.InterpretedRequirements,
		CreatedBy:               in.CreatedBy,
	}
	created, err := s.digestRepo.Create(ctx, tx, []*types.LegislationDigest{digest})
	if err != nil {
		return nil, fmt.Errorf("Failed to create digest: %w", err)
	}

	s.log.Info("Activated digest", "source_id", in.SourceID, "digest_id", digest.ID, "version", digest.Version)
	return created[0], nil
}

func (s *digestService) GetDigest(ctx context.Context, id uuid.UUID) (*types.LegislationDigest, error) {
	found, err := s.digestRepo.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch digest: %w", err)
	}
	if len(found) == 0 || found[0] == nil {
		return nil, ErrDigestNotFound
	}
	return found[0], nil
}

func (s *digestService) GetActiveDigest(ctx context.Context, sourceID uuid.UUID) (*types.LegislationDigest, error) {
	digest, err := s.digestRepo.GetActiveBySource(ctx, nil, sourceID)
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch active digest: %w", err)
	}
	if digest == nil {
		return nil, ErrDigestNotFound
	}
	return digest, nil
}

func (s *digestService) ListDigests(ctx context.Context, sourceID uuid.UUID) ([]*types.LegislationDigest, error) {
	return s.digestRepo.ListBySource(ctx, nil, sourceID)
}

func (s *digestService) ApproveDigest(ctx context.Context, id uuid.UUID, reviewedBy string) (*types.LegislationDigest, error) {
	digest, err := s.GetDigest(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	fields := map[string]any{
		"approved":         true,
		"reviewed_by":      reviewedBy,
		"last_review_date": now,
	}
	if err := s.digestRepo.UpdateFields(ctx, nil, id, fields); err != nil {
		return nil, fmt.Errorf("Failed to approve digest: %w", err)
	}
	digest.Approved = true
	digest.ReviewedBy = reviewedBy
	digest.LastReviewDate = &now
	return digest, nil
}
