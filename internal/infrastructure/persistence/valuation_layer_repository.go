package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/erp/stockvaluation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// queueOrder is the FIFO order of a queue. id breaks created_at ties, so
// every reader and every lock acquisition walks rows in the same order.
const queueOrder = "created_at ASC, id ASC"

// GormValuationLayerRepository implements valuation.LayerRepository using GORM
type GormValuationLayerRepository struct {
	db *gorm.DB
}

// NewGormValuationLayerRepository creates a new GormValuationLayerRepository
func NewGormValuationLayerRepository(db *gorm.DB) *GormValuationLayerRepository {
	return &GormValuationLayerRepository{db: db}
}

func (r *GormValuationLayerRepository) layers(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.ValuationLayerModel{})
}

func toDomainLayers(ms []models.ValuationLayerModel) []*valuation.ValuationLayer {
	out := make([]*valuation.ValuationLayer, len(ms))
	for i := range ms {
		out[i] = ms[i].ToDomain()
	}
	return out
}

// FindByID finds a layer by its ID
func (r *GormValuationLayerRepository) FindByID(ctx context.Context, id uuid.UUID) (*valuation.ValuationLayer, error) {
	var m models.ValuationLayerModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, valuation.ErrLayerNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindQueue returns the available incoming layers of one scope, oldest first
func (r *GormValuationLayerRepository) FindQueue(ctx context.Context, scope valuation.Scope) ([]*valuation.ValuationLayer, error) {
	var ms []models.ValuationLayerModel
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND product_id = ? AND warehouse_id = ?", scope.CompanyID, scope.ProductID, scope.WarehouseID).
		Where("quantity > 0 AND remaining_qty > 0").
		Order(queueOrder).
		Find(&ms).Error
	if err != nil {
		return nil, translatePgError(err)
	}
	return toDomainLayers(ms), nil
}

// FindQueues loads the queues of many (product, warehouse) pairs in one query
func (r *GormValuationLayerRepository) FindQueues(ctx context.Context, companyID uuid.UUID, keys []valuation.QueueKey) (map[valuation.QueueKey][]*valuation.ValuationLayer, error) {
	out := make(map[valuation.QueueKey][]*valuation.ValuationLayer, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	pairs := make([][]any, len(keys))
	for i, k := range keys {
		pairs[i] = []any{k.ProductID, k.WarehouseID}
	}

	var ms []models.ValuationLayerModel
	err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Where("(product_id, warehouse_id) IN ?", pairs).
		Where("quantity > 0 AND remaining_qty > 0").
		Order(queueOrder).
		Find(&ms).Error
	if err != nil {
		return nil, translatePgError(err)
	}
	for i := range ms {
		l := ms[i].ToDomain()
		key := valuation.QueueKey{ProductID: l.ProductID, WarehouseID: *l.WarehouseID}
		out[key] = append(out[key], l)
	}
	return out, nil
}

// LockForUpdate locks the given layers with FOR UPDATE NOWAIT. Rows are
// locked in queue order; a row held elsewhere fails the statement at once
// with 55P03, which surfaces as valuation.ErrLockNotAvailable.
func (r *GormValuationLayerRepository) LockForUpdate(ctx context.Context, ids []uuid.UUID) ([]*valuation.ValuationLayer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var ms []models.ValuationLayerModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).
		Where("id IN ?", ids).
		Order(queueOrder).
		Find(&ms).Error
	if err != nil {
		return nil, translatePgError(err)
	}
	return toDomainLayers(ms), nil
}

// SumRemaining totals the remaining quantity of a scope
func (r *GormValuationLayerRepository) SumRemaining(ctx context.Context, scope valuation.Scope) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.layers(ctx).
		Select("COALESCE(SUM(remaining_qty), 0)").
		Where("company_id = ? AND product_id = ? AND warehouse_id = ?", scope.CompanyID, scope.ProductID, scope.WarehouseID).
		Where("quantity > 0").
		Scan(&total).Error
	return total, translatePgError(err)
}

// AvailableByWarehouse lists warehouses holding the product, largest first
func (r *GormValuationLayerRepository) AvailableByWarehouse(ctx context.Context, companyID, productID uuid.UUID) ([]valuation.WarehouseStock, error) {
	var rows []struct {
		WarehouseID uuid.UUID
		Available   decimal.Decimal
	}
	err := r.layers(ctx).
		Select("warehouse_id, SUM(remaining_qty) AS available").
		Where("company_id = ? AND product_id = ? AND warehouse_id IS NOT NULL", companyID, productID).
		Where("quantity > 0 AND remaining_qty > 0").
		Group("warehouse_id").
		Order("available DESC, warehouse_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, translatePgError(err)
	}
	out := make([]valuation.WarehouseStock, len(rows))
	for i, row := range rows {
		out[i] = valuation.WarehouseStock{WarehouseID: row.WarehouseID, Available: row.Available}
	}
	return out, nil
}

// Balances returns the valuation per product and warehouse
func (r *GormValuationLayerRepository) Balances(ctx context.Context, companyID uuid.UUID, productID *uuid.UUID) ([]valuation.WarehouseBalance, error) {
	q := r.layers(ctx).
		Select("product_id, warehouse_id, COALESCE(SUM(remaining_qty), 0) AS remaining_quantity, COALESCE(SUM(remaining_value), 0) AS remaining_value").
		Where("company_id = ? AND warehouse_id IS NOT NULL AND quantity > 0", companyID)
	if productID != nil {
		q = q.Where("product_id = ?", *productID)
	}
	var out []valuation.WarehouseBalance
	err := q.Group("product_id, warehouse_id").
		Order("product_id, warehouse_id").
		Scan(&out).Error
	return out, translatePgError(err)
}

// FindBySourceMovement returns the layers created by a movement
func (r *GormValuationLayerRepository) FindBySourceMovement(ctx context.Context, movementID uuid.UUID) ([]*valuation.ValuationLayer, error) {
	var ms []models.ValuationLayerModel
	err := r.db.WithContext(ctx).
		Where("source_movement_id = ?", movementID).
		Order(queueOrder).
		Find(&ms).Error
	if err != nil {
		return nil, translatePgError(err)
	}
	return toDomainLayers(ms), nil
}

// FindByScope returns the full history of a scope, oldest first
func (r *GormValuationLayerRepository) FindByScope(ctx context.Context, scope valuation.Scope) ([]*valuation.ValuationLayer, error) {
	var ms []models.ValuationLayerModel
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND product_id = ? AND warehouse_id = ?", scope.CompanyID, scope.ProductID, scope.WarehouseID).
		Order(queueOrder).
		Find(&ms).Error
	if err != nil {
		return nil, translatePgError(err)
	}
	return toDomainLayers(ms), nil
}

// ListScopes returns the distinct (product, warehouse) queues of a company
func (r *GormValuationLayerRepository) ListScopes(ctx context.Context, companyID uuid.UUID, warehouseIDs []uuid.UUID) ([]valuation.Scope, error) {
	q := r.layers(ctx).
		Distinct("product_id", "warehouse_id").
		Where("company_id = ? AND warehouse_id IS NOT NULL", companyID)
	if len(warehouseIDs) > 0 {
		q = q.Where("warehouse_id IN ?", warehouseIDs)
	}
	var rows []struct {
		ProductID   uuid.UUID
		WarehouseID uuid.UUID
	}
	if err := q.Order("warehouse_id, product_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]valuation.Scope, len(rows))
	for i, row := range rows {
		out[i] = valuation.Scope{CompanyID: companyID, ProductID: row.ProductID, WarehouseID: row.WarehouseID}
	}
	return out, nil
}

func (r *GormValuationLayerRepository) missingWarehouse(ctx context.Context, companyID *uuid.UUID) *gorm.DB {
	q := r.layers(ctx).Where("warehouse_id IS NULL")
	if companyID != nil {
		q = q.Where("company_id = ?", *companyID)
	}
	return q
}

// FindMissingWarehouse returns layers that have no warehouse, oldest first
func (r *GormValuationLayerRepository) FindMissingWarehouse(ctx context.Context, companyID *uuid.UUID, limit int) ([]*valuation.ValuationLayer, error) {
	q := r.missingWarehouse(ctx, companyID).Order(queueOrder)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ms []models.ValuationLayerModel
	if err := q.Find(&ms).Error; err != nil {
		return nil, err
	}
	return toDomainLayers(ms), nil
}

// CountMissingWarehouse counts layers without a warehouse
func (r *GormValuationLayerRepository) CountMissingWarehouse(ctx context.Context, companyID *uuid.UUID) (int64, error) {
	var n int64
	err := r.missingWarehouse(ctx, companyID).Count(&n).Error
	return n, err
}

// LatestIncomingUnitCost returns the unit cost of the product's most recent
// receipt in any warehouse
func (r *GormValuationLayerRepository) LatestIncomingUnitCost(ctx context.Context, companyID, productID uuid.UUID) (decimal.Decimal, bool, error) {
	var m models.ValuationLayerModel
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND product_id = ? AND quantity > 0", companyID, productID).
		Order("created_at DESC, id DESC").
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	return m.ToDomain().UnitCost(), true, nil
}

// FindNearestSibling returns the warehouse-stamped layer of the same product
// closest in time to at, within window on either side
func (r *GormValuationLayerRepository) FindNearestSibling(ctx context.Context, companyID, productID uuid.UUID, at time.Time, window time.Duration) (*valuation.ValuationLayer, error) {
	var m models.ValuationLayerModel
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND product_id = ? AND warehouse_id IS NOT NULL", companyID, productID).
		Where("created_at BETWEEN ? AND ?", at.Add(-window), at.Add(window)).
		Order(clause.Expr{SQL: "ABS(EXTRACT(EPOCH FROM (created_at - ?))) ASC, id ASC", Vars: []any{at}}).
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindRepairCandidates returns layers matching any known corruption pattern.
// DiagnoseLayer decides what each returned row needs.
func (r *GormValuationLayerRepository) FindRepairCandidates(ctx context.Context, companyID uuid.UUID, epsilon decimal.Decimal) ([]valuation.RepairCandidate, error) {
	var ms []models.ValuationLayerModel
	err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Where(`remaining_qty IS NULL OR remaining_value IS NULL
			OR (quantity < 0 AND (remaining_qty <> 0 OR remaining_value <> 0))
			OR (quantity > 0 AND (remaining_qty < 0 OR remaining_value < 0 OR remaining_qty > quantity
				OR (remaining_qty > 0 AND remaining_qty < ?)
				OR (remaining_qty = 0 AND remaining_value <> 0)))`, epsilon).
		Order(queueOrder).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]valuation.RepairCandidate, len(ms))
	for i := range ms {
		out[i] = valuation.RepairCandidate{Layer: ms[i].ToDomain(), NullRemaining: ms[i].NullRemaining()}
	}
	return out, nil
}

// TransitUsage counts layers whose movement enters or leaves a transit location
func (r *GormValuationLayerRepository) TransitUsage(ctx context.Context, companyID *uuid.UUID) ([]valuation.LocationUsageStat, error) {
	q := r.db.WithContext(ctx).
		Table("valuation_layers AS vl").
		Select("loc.id AS location_id, loc.name AS location_name, loc.warehouse_id, COUNT(vl.id) AS layer_count").
		Joins("JOIN stock_movements AS mv ON mv.id = vl.source_movement_id").
		Joins("JOIN stock_locations AS loc ON loc.id IN (mv.source_location_id, mv.destination_location_id)").
		Where("loc.usage = ?", string(valuation.UsageTransit))
	if companyID != nil {
		q = q.Where("vl.company_id = ?", *companyID)
	}
	var out []valuation.LocationUsageStat
	err := q.Group("loc.id, loc.name, loc.warehouse_id").
		Order("layer_count DESC").
		Scan(&out).Error
	return out, err
}

// Create inserts a new layer
func (r *GormValuationLayerRepository) Create(ctx context.Context, layer *valuation.ValuationLayer) error {
	return translatePgError(r.db.WithContext(ctx).Create(models.ValuationLayerModelFromDomain(layer)).Error)
}

// UpdateRemaining writes only the remaining quantity and value
func (r *GormValuationLayerRepository) UpdateRemaining(ctx context.Context, layer *valuation.ValuationLayer) error {
	result := r.layers(ctx).
		Where("id = ?", layer.ID).
		Updates(map[string]any{
			"remaining_qty":   layer.RemainingQuantity,
			"remaining_value": layer.RemainingValue,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return translatePgError(result.Error)
	}
	if result.RowsAffected == 0 {
		return valuation.ErrLayerNotFound
	}
	return nil
}

// UpdateWarehouse stamps the warehouse of a legacy layer
func (r *GormValuationLayerRepository) UpdateWarehouse(ctx context.Context, layer *valuation.ValuationLayer) error {
	result := r.layers(ctx).
		Where("id = ? AND warehouse_id IS NULL", layer.ID).
		Updates(map[string]any{
			"warehouse_id": layer.WarehouseID,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return translatePgError(result.Error)
	}
	if result.RowsAffected == 0 {
		return valuation.ErrLayerNotFound
	}
	return nil
}

var _ valuation.LayerRepository = (*GormValuationLayerRepository)(nil)
