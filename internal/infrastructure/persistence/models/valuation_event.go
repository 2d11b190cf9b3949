package models

import (
	"time"

	"github.com/google/uuid"
)

// ValuationEventModel is one entry of the valuation event journal. Warnings
// (shortages, negative balances, unresolved warehouses, fallback return
// costs) are kept here so operators can audit them after the fact.
type ValuationEventModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	CompanyID     uuid.UUID `gorm:"type:uuid;not null;index:idx_valuation_events_company_type,priority:1"`
	EventType     string    `gorm:"type:varchar(100);not null;index:idx_valuation_events_company_type,priority:2"`
	AggregateID   uuid.UUID `gorm:"type:uuid;not null;index"`
	AggregateType string    `gorm:"type:varchar(50);not null"`
	Payload       []byte    `gorm:"type:jsonb;not null"`
	OccurredAt    time.Time `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ValuationEventModel) TableName() string {
	return "valuation_events"
}
