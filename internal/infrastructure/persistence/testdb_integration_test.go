//go:build integration

package persistence_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/erp/stockvaluation/internal/infrastructure/migration"
	"github.com/erp/stockvaluation/internal/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB is a migrated PostgreSQL container owned by one test
type testDB struct {
	DB    *gorm.DB
	SqlDB *sql.DB
	t     *testing.T
}

// newTestDB starts a fresh container and applies the embedded migrations
func newTestDB(t *testing.T) *testDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("valuation_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	gormConfig := &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	}
	if os.Getenv("TEST_DB_DEBUG") != "" {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(gormpostgres.Open(dsn), gormConfig)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(10)
	t.Cleanup(func() { sqlDB.Close() })

	m, err := migration.New(sqlDB, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up())

	return &testDB{DB: db, SqlDB: sqlDB, t: t}
}

// fixture is one company with two warehouses and the external locations
// movements come from and go to
type fixture struct {
	CompanyID  uuid.UUID
	ProductID  uuid.UUID
	WarehouseA uuid.UUID
	WarehouseB uuid.UUID
	StockA     uuid.UUID
	StockB     uuid.UUID
	Supplier   uuid.UUID
	Customer   uuid.UUID
}

func (tdb *testDB) seed() fixture {
	tdb.t.Helper()
	ctx := context.Background()
	f := fixture{
		CompanyID:  uuid.New(),
		ProductID:  uuid.New(),
		WarehouseA: uuid.New(),
		WarehouseB: uuid.New(),
		StockA:     uuid.New(),
		StockB:     uuid.New(),
		Supplier:   uuid.New(),
		Customer:   uuid.New(),
	}

	warehouses := persistence.NewGormWarehouseRepository(tdb.DB)
	for i, id := range []uuid.UUID{f.WarehouseA, f.WarehouseB} {
		require.NoError(tdb.t, warehouses.Save(ctx, &valuation.Warehouse{
			ID:        id,
			CompanyID: f.CompanyID,
			Code:      fmt.Sprintf("WH%d", i+1),
			Name:      fmt.Sprintf("Warehouse %d", i+1),
		}))
	}

	locations := persistence.NewGormStockLocationRepository(tdb.DB)
	for _, loc := range []*valuation.Location{
		{ID: f.StockA, Name: "WH1/Stock", Usage: valuation.UsageInternal, WarehouseID: &f.WarehouseA},
		{ID: f.StockB, Name: "WH2/Stock", Usage: valuation.UsageInternal, WarehouseID: &f.WarehouseB},
		{ID: f.Supplier, Name: "Partners/Vendors", Usage: valuation.UsageSupplier},
		{ID: f.Customer, Name: "Partners/Customers", Usage: valuation.UsageCustomer},
	} {
		require.NoError(tdb.t, locations.Save(ctx, f.CompanyID, loc))
	}

	require.NoError(tdb.t, persistence.NewGormProductCostRepository(tdb.DB).
		SetStandardCost(ctx, f.CompanyID, f.ProductID, decimal.NewFromInt(80)))
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
