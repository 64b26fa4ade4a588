package repos

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// TxRunner is the shared transaction boundary for multi-row writes. Services
// depend on this interface rather than *gorm.DB directly so tests can inject
// a runner that skips the database entirely.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gormTxRunner struct {
	db *gorm.DB
}

func NewGormTxRunner(db *gorm.DB) TxRunner {
	return &gormTxRunner{db: db}
}

func (r *gormTxRunner) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	if r == nil || r.db == nil {
		return fmt.Errorf("transaction runner has nil db")
	}
	return r.db.WithContext(ctx).Transaction(fn)
}
