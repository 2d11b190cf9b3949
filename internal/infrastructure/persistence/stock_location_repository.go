package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/erp/stockvaluation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStockLocationRepository implements valuation.LocationRepository using GORM
type GormStockLocationRepository struct {
	db *gorm.DB
}

// NewGormStockLocationRepository creates a new GormStockLocationRepository
func NewGormStockLocationRepository(db *gorm.DB) *GormStockLocationRepository {
	return &GormStockLocationRepository{db: db}
}

// FindByID finds a location by its ID
func (r *GormStockLocationRepository) FindByID(ctx context.Context, id uuid.UUID) (*valuation.Location, error) {
	var m models.StockLocationModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// Save creates or updates a location
func (r *GormStockLocationRepository) Save(ctx context.Context, companyID uuid.UUID, loc *valuation.Location) error {
	now := time.Now()
	m := &models.StockLocationModel{
		Name:        loc.Name,
		Usage:       string(loc.Usage),
		WarehouseID: loc.WarehouseID,
	}
	m.ID = loc.ID
	m.CompanyID = companyID
	m.CreatedAt, m.UpdatedAt = now, now
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "usage", "warehouse_id", "updated_at"}),
		}).
		Create(m).Error
}

var _ valuation.LocationRepository = (*GormStockLocationRepository)(nil)
