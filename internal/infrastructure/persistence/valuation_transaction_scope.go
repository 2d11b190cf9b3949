package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	appval "github.com/erp/stockvaluation/internal/application/valuation"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"gorm.io/gorm"
)

// GormTransactionScope implements appval.TransactionScope using GORM transactions.
// Every transaction sets a local lock_timeout so that statements which do
// wait for locks (inserts behind a unique index, for example) cannot hang.
type GormTransactionScope struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// NewGormTransactionScope creates a new GormTransactionScope. A zero
// lockTimeout leaves the server default in place.
func NewGormTransactionScope(db *gorm.DB, lockTimeout time.Duration) *GormTransactionScope {
	return &GormTransactionScope{db: db, lockTimeout: lockTimeout}
}

// Execute runs fn within a database transaction. Postgres contention errors,
// including a serialization failure raised at commit, are translated into
// valuation sentinels.
func (s *GormTransactionScope) Execute(ctx context.Context, opts appval.TxOptions, fn func(repos appval.TransactionalRepositories) error) error {
	var txOpts *sql.TxOptions
	if opts.Serializable {
		txOpts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.lockTimeout > 0 {
			if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())).Error; err != nil {
				return err
			}
		}
		return fn(&gormTransactionalRepositories{tx: tx})
	}, txOpts)
	return translatePgError(err)
}

// gormTransactionalRepositories provides access to all repositories within a transaction.
type gormTransactionalRepositories struct {
	tx *gorm.DB
}

// Layers returns the layer repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Layers() valuation.LayerRepository {
	return NewGormValuationLayerRepository(r.tx)
}

// LandedCosts returns the landed cost repository scoped to the current transaction.
func (r *gormTransactionalRepositories) LandedCosts() valuation.LandedCostRepository {
	return NewGormLandedCostRepository(r.tx)
}

// Movements returns the movement repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Movements() valuation.MovementRepository {
	return NewGormStockMovementRepository(r.tx)
}

var _ appval.TransactionScope = (*GormTransactionScope)(nil)

var _ appval.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
