package persistence

import (
	"errors"
	"fmt"

	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes raised under contention
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
)

// translatePgError maps Postgres concurrency errors to the valuation
// sentinels so the application layer can decide whether to retry. The
// driver error stays in the chain for logging.
func translatePgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgLockNotAvailable:
		return fmt.Errorf("%w: %w", valuation.ErrLockNotAvailable, err)
	case pgDeadlockDetected:
		return fmt.Errorf("%w: %w", valuation.ErrDeadlockDetected, err)
	case pgSerializationFailure:
		return fmt.Errorf("%w: %w", valuation.ErrSerializationFailure, err)
	}
	return err
}
