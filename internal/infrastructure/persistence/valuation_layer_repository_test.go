package persistence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var layerColumns = []string{
	"id", "company_id", "product_id", "warehouse_id", "quantity", "value",
	"remaining_qty", "remaining_value", "source_movement_id", "return_of_movement_id",
	"description", "created_at", "updated_at",
}

func newMockLayerRepository(t *testing.T) (*GormValuationLayerRepository, sqlmock.Sqlmock) {
	gormDB, mock, mockDB := newMockGorm(t)
	t.Cleanup(func() { mockDB.Close() })
	return NewGormValuationLayerRepository(gormDB), mock
}

func TestGormValuationLayerRepository_FindQueue(t *testing.T) {
	repo, mock := newMockLayerRepository(t)
	scope := valuation.Scope{CompanyID: uuid.New(), ProductID: uuid.New(), WarehouseID: uuid.New()}
	first, second := uuid.New(), uuid.New()
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(layerColumns).
		AddRow(first.String(), scope.CompanyID.String(), scope.ProductID.String(), scope.WarehouseID.String(),
			"10", "100", "4", "40", nil, nil, "PO-1", at, at).
		AddRow(second.String(), scope.CompanyID.String(), scope.ProductID.String(), scope.WarehouseID.String(),
			"5", "60", "5", "60", nil, nil, "PO-2", at.Add(time.Hour), at)

	mock.ExpectQuery(`SELECT \* FROM "valuation_layers" WHERE .*company_id = \$1 AND product_id = \$2 AND warehouse_id = \$3.*quantity > 0 AND remaining_qty > 0.*ORDER BY created_at ASC, id ASC`).
		WithArgs(scope.CompanyID, scope.ProductID, scope.WarehouseID).
		WillReturnRows(rows)

	queue, err := repo.FindQueue(context.Background(), scope)

	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, first, queue[0].ID)
	assert.True(t, queue[0].RemainingQuantity.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, scope.WarehouseID, *queue[1].WarehouseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormValuationLayerRepository_LockForUpdate(t *testing.T) {
	t.Run("locks without waiting in queue order", func(t *testing.T) {
		repo, mock := newMockLayerRepository(t)
		id := uuid.New()

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "valuation_layers" WHERE id IN ($1) ORDER BY created_at ASC, id ASC FOR UPDATE NOWAIT`)).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(layerColumns).AddRow(
				id.String(), uuid.NewString(), uuid.NewString(), uuid.NewString(),
				"3", "30", "3", "30", nil, nil, "", time.Now(), time.Now()))

		locked, err := repo.LockForUpdate(context.Background(), []uuid.UUID{id})

		require.NoError(t, err)
		require.Len(t, locked, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("held row surfaces as lock not available", func(t *testing.T) {
		repo, mock := newMockLayerRepository(t)

		mock.ExpectQuery(`FOR UPDATE NOWAIT`).
			WillReturnError(&pgconn.PgError{Code: "55P03", Message: "could not obtain lock on row"})

		_, err := repo.LockForUpdate(context.Background(), []uuid.UUID{uuid.New(), uuid.New()})

		assert.ErrorIs(t, err, valuation.ErrLockNotAvailable)
	})

	t.Run("no ids issues no query", func(t *testing.T) {
		repo, mock := newMockLayerRepository(t)

		locked, err := repo.LockForUpdate(context.Background(), nil)

		assert.NoError(t, err)
		assert.Nil(t, locked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormValuationLayerRepository_LatestIncomingUnitCost(t *testing.T) {
	company, product := uuid.New(), uuid.New()
	query := `SELECT \* FROM "valuation_layers" WHERE company_id = \$1 AND product_id = \$2 AND quantity > 0 ORDER BY created_at DESC, id DESC`

	t.Run("latest receipt in any warehouse", func(t *testing.T) {
		repo, mock := newMockLayerRepository(t)
		mock.ExpectQuery(query).
			WillReturnRows(sqlmock.NewRows(layerColumns).AddRow(
				uuid.NewString(), company.String(), product.String(), uuid.NewString(),
				"4", "30", "0", "0", nil, nil, "PO-9", time.Now(), time.Now()))

		cost, found, err := repo.LatestIncomingUnitCost(context.Background(), company, product)

		require.NoError(t, err)
		assert.True(t, found)
		assert.True(t, cost.Equal(decimal.RequireFromString("7.5")), "got %s", cost)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("never received", func(t *testing.T) {
		repo, mock := newMockLayerRepository(t)
		mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows(layerColumns))

		cost, found, err := repo.LatestIncomingUnitCost(context.Background(), company, product)

		require.NoError(t, err)
		assert.False(t, found)
		assert.True(t, cost.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormValuationLayerRepository_FindRepairCandidates(t *testing.T) {
	repo, mock := newMockLayerRepository(t)
	company := uuid.New()
	nulled, negative := uuid.New(), uuid.New()

	rows := sqlmock.NewRows(layerColumns).
		AddRow(nulled.String(), company.String(), uuid.NewString(), uuid.NewString(),
			"5", "50", nil, nil, nil, nil, "", time.Now(), time.Now()).
		AddRow(negative.String(), company.String(), uuid.NewString(), uuid.NewString(),
			"5", "50", "-1", "-10", nil, nil, "", time.Now(), time.Now())

	mock.ExpectQuery(`SELECT \* FROM "valuation_layers" WHERE company_id = \$1 AND \(remaining_qty IS NULL`).
		WithArgs(company, sqlmock.AnyArg()).
		WillReturnRows(rows)

	found, err := repo.FindRepairCandidates(context.Background(), company, decimal.RequireFromString("0.0001"))

	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.True(t, found[0].NullRemaining)
	assert.True(t, found[0].Layer.RemainingQuantity.IsZero())
	assert.False(t, found[1].NullRemaining)
	assert.Equal(t, []valuation.RepairPattern{valuation.PatternNegativeRemaining},
		valuation.DiagnoseLayer(found[1], decimal.RequireFromString("0.0001")))
}

func TestGormValuationLayerRepository_UpdateRemaining(t *testing.T) {
	layer := &valuation.ValuationLayer{RemainingQuantity: decimal.NewFromInt(2), RemainingValue: decimal.NewFromInt(20)}
	layer.ID = uuid.New()

	t.Run("writes only the remainder", func(t *testing.T) {
		repo, mock := newMockLayerRepository(t)

		mock.ExpectExec(`UPDATE "valuation_layers" SET "remaining_qty"=\$1,"remaining_value"=\$2,"updated_at"=\$3 WHERE id = \$4`).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), layer.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.UpdateRemaining(context.Background(), layer))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		repo, mock := newMockLayerRepository(t)

		mock.ExpectExec(`UPDATE "valuation_layers"`).WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.UpdateRemaining(context.Background(), layer), valuation.ErrLayerNotFound)
	})
}

func TestGormValuationLayerRepository_AvailableByWarehouse(t *testing.T) {
	repo, mock := newMockLayerRepository(t)
	company, product := uuid.New(), uuid.New()
	big, small := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT warehouse_id, SUM\(remaining_qty\) AS available FROM "valuation_layers"`).
		WithArgs(company, product).
		WillReturnRows(sqlmock.NewRows([]string{"warehouse_id", "available"}).
			AddRow(big.String(), "40").
			AddRow(small.String(), "2.5"))

	stock, err := repo.AvailableByWarehouse(context.Background(), company, product)

	require.NoError(t, err)
	require.Len(t, stock, 2)
	assert.Equal(t, big, stock[0].WarehouseID)
	assert.True(t, stock[1].Available.Equal(decimal.RequireFromString("2.5")))
}
