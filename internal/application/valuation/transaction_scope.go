package valuation

import (
	"context"

	"github.com/erp/stockvaluation/internal/domain/valuation"
)

// TxOptions tunes a single transaction
type TxOptions struct {
	// Serializable runs the transaction at SERIALIZABLE isolation
	Serializable bool
}

// TransactionScope provides transactional access to valuation repositories.
// All repository operations inside fn commit or roll back together.
type TransactionScope interface {
	Execute(ctx context.Context, opts TxOptions, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides repositories bound to the current transaction
type TransactionalRepositories interface {
	Layers() valuation.LayerRepository
	LandedCosts() valuation.LandedCostRepository
	Movements() valuation.MovementRepository
}

// NoOpTransactionScope runs fn against plain repositories without a transaction.
// Used by tests and tools that do not need atomicity.
type NoOpTransactionScope struct {
	layers      valuation.LayerRepository
	landedCosts valuation.LandedCostRepository
	movements   valuation.MovementRepository
}

// NewNoOpTransactionScope creates a NoOpTransactionScope with the given repositories.
func NewNoOpTransactionScope(
	layers valuation.LayerRepository,
	landedCosts valuation.LandedCostRepository,
	movements valuation.MovementRepository,
) *NoOpTransactionScope {
	return &NoOpTransactionScope{layers: layers, landedCosts: landedCosts, movements: movements}
}

// Execute runs fn directly
func (s *NoOpTransactionScope) Execute(ctx context.Context, _ TxOptions, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

// Layers returns the layer repository
func (s *NoOpTransactionScope) Layers() valuation.LayerRepository { return s.layers }

// LandedCosts returns the landed cost repository
func (s *NoOpTransactionScope) LandedCosts() valuation.LandedCostRepository { return s.landedCosts }

// Movements returns the movement repository
func (s *NoOpTransactionScope) Movements() valuation.MovementRepository { return s.movements }

var _ TransactionScope = (*NoOpTransactionScope)(nil)
