package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/types"
	"github.com/lotsentry/lotsentry-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	log.Info("Loading environment variables...")
	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "lotsentry", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	log.Info("Connecting to Postgres...")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("Failed to connect to Postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		serviceLog.Error("Failed to enable uuid-ossp extension", "error", err)
		return nil, fmt.Errorf("Failed to enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.LegislationSource{},
		&types.LegislationDigest{},
		&types.Rule{},
		&types.RuleCollision{},
		&types.TemplateRuleCache{},
		&types.ComplianceCheck{},
		&types.Violation{},
		&types.VisualVerification{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	s.log.Info("Configuring constraints for postgres tables...")

	// One active digest per source. The digest service enforces the swap
	// transactionally; this index is the backstop.
	if err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_digest_per_source
		ON legislation_digest(legislation_source_id)
		WHERE active
	`).Error; err != nil {
		return fmt.Errorf("Failed to add idx_one_active_digest_per_source: %w", err)
	}

	if err := s.db.Exec(`
		DO $$ BEGIN
			ALTER TABLE "legislation_digest"
			ADD CONSTRAINT "fk_digest_source_id"
			FOREIGN KEY ("legislation_source_id")
			REFERENCES "legislation_source"("id")
			ON DELETE CASCADE;
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("Failed to add fk_digest_source_id: %w", err)
	}

	if err := s.db.Exec(`
		DO $$ BEGIN
			ALTER TABLE "rule"
			ADD CONSTRAINT "fk_rule_source_id"
			FOREIGN KEY ("legislation_source_id")
			REFERENCES "legislation_source"("id")
			ON DELETE CASCADE;
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("Failed to add fk_rule_source_id: %w", err)
	}

	if err := s.db.Exec(`
		DO $$ BEGIN
			ALTER TABLE "violation"
			ADD CONSTRAINT "fk_violation_check_id"
			FOREIGN KEY ("check_id")
			REFERENCES "compliance_check"("id")
			ON DELETE CASCADE;
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("Failed to add fk_violation_check_id: %w", err)
	}

	if err := s.db.Exec(`
		DO $$ BEGIN
			ALTER TABLE "visual_verification"
			ADD CONSTRAINT "fk_visual_verification_check_id"
			FOREIGN KEY ("check_id")
			REFERENCES "compliance_check"("id")
			ON DELETE CASCADE;
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("Failed to add fk_visual_verification_check_id: %w", err)
	}

	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
