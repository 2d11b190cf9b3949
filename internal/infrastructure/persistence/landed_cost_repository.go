package persistence

import (
	"context"

	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/erp/stockvaluation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormLandedCostRepository implements valuation.LandedCostRepository using GORM
type GormLandedCostRepository struct {
	db *gorm.DB
}

// NewGormLandedCostRepository creates a new GormLandedCostRepository
func NewGormLandedCostRepository(db *gorm.DB) *GormLandedCostRepository {
	return &GormLandedCostRepository{db: db}
}

// Create inserts allocations in one statement
func (r *GormLandedCostRepository) Create(ctx context.Context, allocations ...*valuation.LandedCostAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	ms := make([]*models.LandedCostAllocationModel, len(allocations))
	for i, a := range allocations {
		ms[i] = models.LandedCostAllocationModelFromDomain(a)
	}
	return translatePgError(r.db.WithContext(ctx).Create(&ms).Error)
}

// FindByLayer lists the allocations of a layer, oldest first
func (r *GormLandedCostRepository) FindByLayer(ctx context.Context, layerID uuid.UUID) ([]*valuation.LandedCostAllocation, error) {
	var ms []models.LandedCostAllocationModel
	if err := r.db.WithContext(ctx).
		Where("valuation_layer_id = ?", layerID).
		Order("created_at ASC, id ASC").
		Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*valuation.LandedCostAllocation, len(ms))
	for i := range ms {
		out[i] = ms[i].ToDomain()
	}
	return out, nil
}

// SumByLayers totals allocations per layer, counting only those booked at warehouseID
func (r *GormLandedCostRepository) SumByLayers(ctx context.Context, warehouseID uuid.UUID, layerIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	out := make(map[uuid.UUID]decimal.Decimal, len(layerIDs))
	if len(layerIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ValuationLayerID uuid.UUID
		Total            decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&models.LandedCostAllocationModel{}).
		Select("valuation_layer_id, SUM(landed_cost_value) AS total").
		Where("warehouse_id = ? AND valuation_layer_id IN ?", warehouseID, layerIDs).
		Group("valuation_layer_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ValuationLayerID] = row.Total
	}
	return out, nil
}

var _ valuation.LandedCostRepository = (*GormLandedCostRepository)(nil)
