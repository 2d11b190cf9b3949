package valuation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LocationUsage classifies a stock location
type LocationUsage string

const (
	UsageInternal   LocationUsage = "internal"
	UsageTransit    LocationUsage = "transit"
	UsageSupplier   LocationUsage = "supplier"
	UsageCustomer   LocationUsage = "customer"
	UsageProduction LocationUsage = "production"
	UsageInventory  LocationUsage = "inventory"
	UsageView       LocationUsage = "view"
)

// IsValid reports whether the usage is a known value
func (u LocationUsage) IsValid() bool {
	switch u {
	case UsageInternal, UsageTransit, UsageSupplier, UsageCustomer,
		UsageProduction, UsageInventory, UsageView:
		return true
	}
	return false
}

// Location is a stock location as seen by the valuation engine.
// External locations (supplier, customer, production) usually carry no warehouse.
type Location struct {
	ID          uuid.UUID
	Name        string
	Usage       LocationUsage
	WarehouseID *uuid.UUID
}

// HoldsStock reports whether stock at this location belongs to a warehouse queue
func (l *Location) HoldsStock() bool {
	return l != nil && (l.Usage == UsageInternal || l.Usage == UsageTransit)
}

func (l *Location) warehouse() *uuid.UUID {
	if l == nil {
		return nil
	}
	return l.WarehouseID
}

// MoveLine is line-level detail of a movement (e.g. per lot or sub-location)
type MoveLine struct {
	ID          uuid.UUID
	Source      *Location
	Destination *Location
	Quantity    decimal.Decimal
}

// StockMovement is the inbound event that drives the valuation engine.
// Quantity is signed: positive adds stock, negative removes it.
type StockMovement struct {
	ID          uuid.UUID
	CompanyID   uuid.UUID
	ProductID   uuid.UUID
	Quantity    decimal.Decimal
	Source      *Location
	Destination *Location
	Lines       []MoveLine
	// UnitCost is the explicit incoming cost; nil means the product's fallback cost.
	UnitCost *decimal.Decimal
	// ReturnOfMovementID links a return to the movement it reverses.
	ReturnOfMovementID *uuid.UUID
	// WarehouseHint overrides warehouse resolution when set.
	WarehouseHint *uuid.UUID
	Reference     string
	Date          time.Time
}

// IsReturn reports whether the movement reverses an earlier movement
func (m *StockMovement) IsReturn() bool {
	return m.ReturnOfMovementID != nil
}

// IsIncoming reports whether the movement adds stock
func (m *StockMovement) IsIncoming() bool {
	return m.Quantity.IsPositive()
}

// IsOutgoing reports whether the movement removes stock
func (m *StockMovement) IsOutgoing() bool {
	return m.Quantity.IsNegative()
}
