package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/repos"
	"github.com/lotsentry/lotsentry-backend/internal/types"
)

type CreateSourceInput struct {
	StateCode          string
	StatuteNumber      string
	Title              string
	FullText           string
	SourceURL          string
	EffectiveDate      *time.Time
	SunsetDate         *time.Time
	AppliesToPageTypes []string
}

type DeleteSourceResult struct {
	SourceID     uuid.UUID `json:"source_id"`
	RulesDeleted int64     `json:"rules_deleted"`
}

// LegislationService manages the immutable source records. Sources are
// created once and never updated; the only mutation is deletion, which
// removes every derived digest and rule with it.
type LegislationService interface {
	CreateSource(ctx context.Context, in CreateSourceInput) (*types.LegislationSource, error)
	GetSource(ctx context.Context, id uuid.UUID) (*types.LegislationSource, error)
	ListSources(ctx context.Context, stateCode string) ([]*types.LegislationSource, error)
	DeleteSource(ctx context.Context, id uuid.UUID) (*DeleteSourceResult, error)
}

type legislationService struct {
	runner     repos.TxRunner
	log        *logger.Logger
	sourceRepo repos.LegislationSourceRepo
	ruleRepo   repos.RuleRepo
}

func NewLegislationService(runner repos.TxRunner, log *logger.Logger, sourceRepo repos.LegislationSourceRepo, ruleRepo repos.RuleRepo) LegislationService {
	return &legislationService{
		runner:     runner,
		log:        log.With("service", "LegislationService"),
		sourceRepo: sourceRepo,
		ruleRepo:   ruleRepo,
	}
}

func (s *legislationService) CreateSource(ctx context.Context, in CreateSourceInput) (*types.LegislationSource, error) {
	stateCode := strings.ToUpper(strings.TrimSpace(in.StateCode))
	if len(stateCode) != 2 {
		return nil, fmt.Errorf("state code must be 2 letters, got %q", in.StateCode)
	}
	if strings.TrimSpace(in.StatuteNumber) == "" {
		return nil, fmt.Errorf("statute number required")
	}
	if strings.TrimSpace(in.FullText) == "" {
		return nil, fmt.Errorf("full text required")
	}

	var pageTypes datatypes.JSON
	if len(in.AppliesToPageTypes) > 0 {
		raw, err := jsonMarshalPageTypes(in.AppliesToPageTypes)
		if err != nil {
			return nil, err
		}
		pageTypes = raw
	}

	source := &types.LegislationSource{
		ID:                 uuid.New(),
		StateCode:          stateCode,
		StatuteNumber:      strings.TrimSpace(in.StatuteNumber),
		Title:              in.Title,
		FullText:           in.FullText,
		SourceURL:          in.SourceURL,
		EffectiveDate:      in.EffectiveDate,
		SunsetDate:         in.SunsetDate,
		AppliesToPageTypes: pageTypes,
	}

	created, err := s.sourceRepo.Create(ctx, nil, []*types.LegislationSource{source})
	if err != nil {
		return nil, fmt.Errorf("Failed to create legislation source: %w", err)
	}
	s.log.Info("Created legislation source", "source_id", source.ID, "state", stateCode, "statute", source.StatuteNumber)
	return created[0], nil
}

func (s *legislationService) GetSource(ctx context.Context, id uuid.UUID) (*types.LegislationSource, error) {
	found, err := s.sourceRepo.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch legislation source: %w", err)
	}
	if len(found) == 0 || found[0] == nil {
		return nil, ErrSourceNotFound
	}
	return found[0], nil
}

func (s *legislationService) ListSources(ctx context.Context, stateCode string) ([]*types.LegislationSource, error) {
	return s.sourceRepo.List(ctx, nil, strings.ToUpper(strings.TrimSpace(stateCode)))
}

// DeleteSource removes the source, all its digests (DB cascade), and ALL its
// rules regardless of protection. The legal basis for the rules is gone, so
// the protection exemption does not apply here.
func (s *legislationService) DeleteSource(ctx context.Context, id uuid.UUID) (*DeleteSourceResult, error) {
	var result DeleteSourceResult
	err := s.runner.InTx(ctx, func(tx *gorm.DB) error {
		source, err := s.sourceRepo.LockByID(ctx, tx, id)
		if err != nil {
			if err == repos.ErrLockNotAvailable {
				return ErrActivationConflict
			}
			return err
		}
		if source == nil {
			return ErrSourceNotFound
		}

		deleted, err := s.ruleRepo.DeleteBySource(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("Failed to delete rules for source: %w", err)
		}
		if err := s.sourceRepo.Delete(ctx, tx, id); err != nil {
			return fmt.Errorf("Failed to delete legislation source: %w", err)
		}

		result = DeleteSourceResult{SourceID: id, RulesDeleted: deleted}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Deleted legislation source", "source_id", id, "rules_deleted", result.RulesDeleted)
	return &result, nil
}

func jsonMarshalPageTypes(pageTypes []string) (datatypes.JSON, error) {
	normalized := make([]string, 0, len(pageTypes))
	for _, pt := range pageTypes {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(pt)))
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("Failed to encode page types: %w", err)
	}
	return datatypes.JSON(raw), nil
}
