package models

import (
	"time"

	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockLocationModel is a stock location. Internal locations belong to a warehouse.
type StockLocationModel struct {
	CompanyModel
	Name        string     `gorm:"type:varchar(200);not null"`
	Usage       string     `gorm:"type:varchar(20);not null"`
	WarehouseID *uuid.UUID `gorm:"type:uuid;index"`
}

// TableName returns the table name for GORM
func (StockLocationModel) TableName() string {
	return "stock_locations"
}

// ToDomain converts the model to a domain location
func (m *StockLocationModel) ToDomain() *valuation.Location {
	return &valuation.Location{
		ID:          m.ID,
		Name:        m.Name,
		Usage:       valuation.LocationUsage(m.Usage),
		WarehouseID: m.WarehouseID,
	}
}

// StockMovementModel is the journal entry of a posted stock movement
type StockMovementModel struct {
	CompanyModel
	ProductID             uuid.UUID        `gorm:"type:uuid;not null"`
	Quantity              decimal.Decimal  `gorm:"type:decimal(24,6);not null"`
	SourceLocationID      *uuid.UUID       `gorm:"type:uuid;index"`
	DestinationLocationID *uuid.UUID       `gorm:"type:uuid;index"`
	UnitCost              *decimal.Decimal `gorm:"type:decimal(24,6)"`
	ReturnOfMovementID    *uuid.UUID       `gorm:"type:uuid"`
	WarehouseHint         *uuid.UUID       `gorm:"type:uuid"`
	Reference             string           `gorm:"type:varchar(100)"`
	Date                  time.Time        `gorm:"not null"`

	// Associations
	Lines []StockMoveLineModel `gorm:"foreignKey:MovementID;references:ID"`
}

// TableName returns the table name for GORM
func (StockMovementModel) TableName() string {
	return "stock_movements"
}

// StockMoveLineModel is one physical leg of a movement
type StockMoveLineModel struct {
	ID                    uuid.UUID       `gorm:"type:uuid;primary_key"`
	MovementID            uuid.UUID       `gorm:"type:uuid;not null;index"`
	SourceLocationID      *uuid.UUID      `gorm:"type:uuid"`
	DestinationLocationID *uuid.UUID      `gorm:"type:uuid"`
	Quantity              decimal.Decimal `gorm:"type:decimal(24,6);not null"`
}

// TableName returns the table name for GORM
func (StockMoveLineModel) TableName() string {
	return "stock_move_lines"
}

// StockMovementModelFromDomain creates a persistence model from a movement.
// Locations are stored by reference only.
func StockMovementModelFromDomain(mv *valuation.StockMovement) *StockMovementModel {
	now := time.Now()
	m := &StockMovementModel{
		ProductID:             mv.ProductID,
		Quantity:              mv.Quantity,
		SourceLocationID:      locationID(mv.Source),
		DestinationLocationID: locationID(mv.Destination),
		UnitCost:              mv.UnitCost,
		ReturnOfMovementID:    mv.ReturnOfMovementID,
		WarehouseHint:         mv.WarehouseHint,
		Reference:             mv.Reference,
		Date:                  mv.Date,
	}
	m.ID = mv.ID
	m.CompanyID = mv.CompanyID
	m.CreatedAt, m.UpdatedAt = now, now
	if m.Date.IsZero() {
		m.Date = now
	}
	for _, line := range mv.Lines {
		m.Lines = append(m.Lines, StockMoveLineModel{
			ID:                    line.ID,
			MovementID:            mv.ID,
			SourceLocationID:      locationID(line.Source),
			DestinationLocationID: locationID(line.Destination),
			Quantity:              line.Quantity,
		})
	}
	return m
}

// ToDomain converts the model to a movement, resolving location references
// through locs. Unknown locations are left nil.
func (m *StockMovementModel) ToDomain(locs map[uuid.UUID]*valuation.Location) *valuation.StockMovement {
	mv := &valuation.StockMovement{
		ID:                 m.ID,
		CompanyID:          m.CompanyID,
		ProductID:          m.ProductID,
		Quantity:           m.Quantity,
		Source:             lookup(locs, m.SourceLocationID),
		Destination:        lookup(locs, m.DestinationLocationID),
		UnitCost:           m.UnitCost,
		ReturnOfMovementID: m.ReturnOfMovementID,
		WarehouseHint:      m.WarehouseHint,
		Reference:          m.Reference,
		Date:               m.Date,
	}
	for _, line := range m.Lines {
		mv.Lines = append(mv.Lines, valuation.MoveLine{
			ID:          line.ID,
			Source:      lookup(locs, line.SourceLocationID),
			Destination: lookup(locs, line.DestinationLocationID),
			Quantity:    line.Quantity,
		})
	}
	return mv
}

// LocationIDs lists every location the movement and its lines reference
func (m *StockMovementModel) LocationIDs() []uuid.UUID {
	var ids []uuid.UUID
	add := func(id *uuid.UUID) {
		if id != nil {
			ids = append(ids, *id)
		}
	}
	add(m.SourceLocationID)
	add(m.DestinationLocationID)
	for _, line := range m.Lines {
		add(line.SourceLocationID)
		add(line.DestinationLocationID)
	}
	return ids
}

func locationID(l *valuation.Location) *uuid.UUID {
	if l == nil {
		return nil
	}
	id := l.ID
	return &id
}

func lookup(locs map[uuid.UUID]*valuation.Location, id *uuid.UUID) *valuation.Location {
	if id == nil {
		return nil
	}
	return locs[*id]
}

// WarehouseModel is a physical stocking site
type WarehouseModel struct {
	CompanyModel
	Code string `gorm:"type:varchar(50);not null"`
	Name string `gorm:"type:varchar(200);not null"`
}

// TableName returns the table name for GORM
func (WarehouseModel) TableName() string {
	return "warehouses"
}

// ToDomain converts the model to a domain warehouse
func (m *WarehouseModel) ToDomain() valuation.Warehouse {
	return valuation.Warehouse{ID: m.ID, CompanyID: m.CompanyID, Code: m.Code, Name: m.Name}
}

// ProductCostModel holds the standard cost used when no FIFO layer can price stock
type ProductCostModel struct {
	CompanyID    uuid.UUID       `gorm:"type:uuid;primaryKey"`
	ProductID    uuid.UUID       `gorm:"type:uuid;primaryKey"`
	StandardCost decimal.Decimal `gorm:"type:decimal(24,6);not null;default:0"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProductCostModel) TableName() string {
	return "product_costs"
}
