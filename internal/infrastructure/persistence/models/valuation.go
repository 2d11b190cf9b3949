package models

import (
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValuationLayerModel is the persistence model for a valuation layer.
type ValuationLayerModel struct {
	CompanyModel
	ProductID          uuid.UUID        `gorm:"type:uuid;not null;index:idx_layer_queue,priority:1"`
	WarehouseID        *uuid.UUID       `gorm:"type:uuid;index:idx_layer_queue,priority:2"`
	Quantity           decimal.Decimal  `gorm:"type:decimal(24,6);not null"`
	Value              decimal.Decimal  `gorm:"column:value;type:decimal(24,6);not null"`
	RemainingQty       *decimal.Decimal `gorm:"column:remaining_qty;type:decimal(24,6)"`
	RemainingValue     *decimal.Decimal `gorm:"column:remaining_value;type:decimal(24,6)"`
	SourceMovementID   *uuid.UUID       `gorm:"type:uuid;index"`
	ReturnOfMovementID *uuid.UUID       `gorm:"type:uuid"`
	Description        string           `gorm:"type:varchar(255)"`
}

// TableName returns the table name for GORM
func (ValuationLayerModel) TableName() string {
	return "valuation_layers"
}

// NullRemaining reports whether either remainder column is NULL
func (m *ValuationLayerModel) NullRemaining() bool {
	return m.RemainingQty == nil || m.RemainingValue == nil
}

// ToDomain converts the model to a domain layer. NULL remainders read as zero.
func (m *ValuationLayerModel) ToDomain() *valuation.ValuationLayer {
	l := &valuation.ValuationLayer{
		BaseEntity:         m.BaseModel.ToDomain(),
		CompanyID:          m.CompanyID,
		ProductID:          m.ProductID,
		WarehouseID:        m.WarehouseID,
		Quantity:           m.Quantity,
		Value:              m.Value,
		SourceMovementID:   m.SourceMovementID,
		ReturnOfMovementID: m.ReturnOfMovementID,
		Description:        m.Description,
	}
	if m.RemainingQty != nil {
		l.RemainingQuantity = *m.RemainingQty
	}
	if m.RemainingValue != nil {
		l.RemainingValue = *m.RemainingValue
	}
	return l
}

// FromDomain populates the model from a domain layer
func (m *ValuationLayerModel) FromDomain(l *valuation.ValuationLayer) {
	m.FromDomainBaseEntity(l.BaseEntity)
	m.CompanyID = l.CompanyID
	m.ProductID = l.ProductID
	m.WarehouseID = l.WarehouseID
	m.Quantity = l.Quantity
	m.Value = l.Value
	rq, rv := l.RemainingQuantity, l.RemainingValue
	m.RemainingQty = &rq
	m.RemainingValue = &rv
	m.SourceMovementID = l.SourceMovementID
	m.ReturnOfMovementID = l.ReturnOfMovementID
	m.Description = l.Description
}

// ValuationLayerModelFromDomain creates a new persistence model from a domain layer
func ValuationLayerModelFromDomain(l *valuation.ValuationLayer) *ValuationLayerModel {
	m := &ValuationLayerModel{}
	m.FromDomain(l)
	return m
}

// LandedCostAllocationModel is the persistence model for a landed cost allocation
type LandedCostAllocationModel struct {
	CompanyModel
	ValuationLayerID uuid.UUID       `gorm:"type:uuid;not null;index"`
	WarehouseID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	LandedCostValue  decimal.Decimal `gorm:"type:decimal(24,6);not null"`
	Reference        string          `gorm:"type:varchar(100)"`
}

// TableName returns the table name for GORM
func (LandedCostAllocationModel) TableName() string {
	return "landed_cost_allocations"
}

// ToDomain converts the model to a domain allocation
func (m *LandedCostAllocationModel) ToDomain() *valuation.LandedCostAllocation {
	return &valuation.LandedCostAllocation{
		BaseEntity:       m.BaseModel.ToDomain(),
		CompanyID:        m.CompanyID,
		ValuationLayerID: m.ValuationLayerID,
		WarehouseID:      m.WarehouseID,
		LandedCostValue:  m.LandedCostValue,
		Reference:        m.Reference,
	}
}

// LandedCostAllocationModelFromDomain creates a persistence model from a domain allocation
func LandedCostAllocationModelFromDomain(a *valuation.LandedCostAllocation) *LandedCostAllocationModel {
	m := &LandedCostAllocationModel{
		ValuationLayerID: a.ValuationLayerID,
		WarehouseID:      a.WarehouseID,
		LandedCostValue:  a.LandedCostValue,
		Reference:        a.Reference,
	}
	m.FromDomainBaseEntity(a.BaseEntity)
	m.CompanyID = a.CompanyID
	return m
}
