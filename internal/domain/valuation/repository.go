package valuation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QueueKey identifies a queue within a company
type QueueKey struct {
	ProductID   uuid.UUID
	WarehouseID uuid.UUID
}

// RepairCandidate is a layer flagged by the storage layer as possibly corrupt.
// NullRemaining is set when the stored remainder was NULL.
type RepairCandidate struct {
	Layer         *ValuationLayer
	NullRemaining bool
}

// WarehouseBalance is the valuation of one product at one warehouse
type WarehouseBalance struct {
	ProductID         uuid.UUID
	WarehouseID       uuid.UUID
	RemainingQuantity decimal.Decimal
	RemainingValue    decimal.Decimal
}

// LocationUsageStat counts layers whose movement touches a location
type LocationUsageStat struct {
	LocationID   uuid.UUID  `json:"location_id"`
	LocationName string     `json:"location_name"`
	WarehouseID  *uuid.UUID `json:"warehouse_id,omitempty"`
	LayerCount   int64      `json:"layer_count"`
}

// LayerRepository persists valuation layers
type LayerRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*ValuationLayer, error)
	// FindQueue returns available layers of a scope, oldest first
	FindQueue(ctx context.Context, scope Scope) ([]*ValuationLayer, error)
	// FindQueues prefetches the queues of many (product, warehouse) pairs in one round trip
	FindQueues(ctx context.Context, companyID uuid.UUID, keys []QueueKey) (map[QueueKey][]*ValuationLayer, error)
	// LockForUpdate locks the given layers without waiting, in queue order.
	// It returns ErrLockNotAvailable when any row is held by another transaction.
	LockForUpdate(ctx context.Context, ids []uuid.UUID) ([]*ValuationLayer, error)
	SumRemaining(ctx context.Context, scope Scope) (decimal.Decimal, error)
	// AvailableByWarehouse lists warehouses holding the product, largest first
	AvailableByWarehouse(ctx context.Context, companyID, productID uuid.UUID) ([]WarehouseStock, error)
	Balances(ctx context.Context, companyID uuid.UUID, productID *uuid.UUID) ([]WarehouseBalance, error)
	FindBySourceMovement(ctx context.Context, movementID uuid.UUID) ([]*ValuationLayer, error)
	// LatestIncomingUnitCost is the unit cost of the product's most recent
	// incoming layer in any warehouse; false when it was never received
	LatestIncomingUnitCost(ctx context.Context, companyID, productID uuid.UUID) (decimal.Decimal, bool, error)
	// FindByScope returns every layer of the scope, incoming and outgoing, oldest first
	FindByScope(ctx context.Context, scope Scope) ([]*ValuationLayer, error)
	ListScopes(ctx context.Context, companyID uuid.UUID, warehouseIDs []uuid.UUID) ([]Scope, error)
	FindMissingWarehouse(ctx context.Context, companyID *uuid.UUID, limit int) ([]*ValuationLayer, error)
	CountMissingWarehouse(ctx context.Context, companyID *uuid.UUID) (int64, error)
	// FindNearestSibling returns the warehouse-stamped layer of the product closest in time to at
	FindNearestSibling(ctx context.Context, companyID, productID uuid.UUID, at time.Time, window time.Duration) (*ValuationLayer, error)
	FindRepairCandidates(ctx context.Context, companyID uuid.UUID, epsilon decimal.Decimal) ([]RepairCandidate, error)
	TransitUsage(ctx context.Context, companyID *uuid.UUID) ([]LocationUsageStat, error)
	Create(ctx context.Context, layer *ValuationLayer) error
	// UpdateRemaining writes only the remaining quantity and value
	UpdateRemaining(ctx context.Context, layer *ValuationLayer) error
	UpdateWarehouse(ctx context.Context, layer *ValuationLayer) error
}

// LandedCostRepository persists landed cost allocations
type LandedCostRepository interface {
	Create(ctx context.Context, allocations ...*LandedCostAllocation) error
	FindByLayer(ctx context.Context, layerID uuid.UUID) ([]*LandedCostAllocation, error)
	// SumByLayers totals allocations per layer at one warehouse
	SumByLayers(ctx context.Context, warehouseID uuid.UUID, layerIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
}

// MovementRepository keeps the journal of posted stock movements
type MovementRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*StockMovement, error)
	Save(ctx context.Context, mv *StockMovement) error
}

// LocationRepository reads stock locations
type LocationRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Location, error)
	Save(ctx context.Context, companyID uuid.UUID, loc *Location) error
}

// Warehouse is a physical stocking site
type Warehouse struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	Code      string
	Name      string
}

// WarehouseRepository reads warehouses
type WarehouseRepository interface {
	ListByCompany(ctx context.Context, companyID uuid.UUID) ([]Warehouse, error)
	Save(ctx context.Context, wh *Warehouse) error
}

// ProductCostRepository provides the standard (fallback) cost of products.
// A product without a standard cost reports zero.
type ProductCostRepository interface {
	StandardCost(ctx context.Context, companyID, productID uuid.UUID) (decimal.Decimal, error)
	StandardCosts(ctx context.Context, companyID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
	SetStandardCost(ctx context.Context, companyID, productID uuid.UUID, cost decimal.Decimal) error
}
