package telemetry

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormLedgerHealthProvider implements LedgerHealthProvider by querying the
// valuation_layers table directly
type GormLedgerHealthProvider struct {
	db      *gorm.DB
	epsilon decimal.Decimal
}

// NewGormLedgerHealthProvider creates a new GormLedgerHealthProvider.
// epsilon is the rounding threshold below which a remainder counts as residue.
func NewGormLedgerHealthProvider(db *gorm.DB, epsilon decimal.Decimal) *GormLedgerHealthProvider {
	return &GormLedgerHealthProvider{db: db, epsilon: epsilon}
}

// CompanyIDs returns every company that owns a layer
func (p *GormLedgerHealthProvider) CompanyIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := p.db.WithContext(ctx).
		Table("valuation_layers").
		Distinct("company_id").
		Pluck("company_id", &ids).Error
	return ids, err
}

// MissingWarehouseCount counts layers without a warehouse
func (p *GormLedgerHealthProvider) MissingWarehouseCount(ctx context.Context, companyID uuid.UUID) (int64, error) {
	var count int64
	err := p.db.WithContext(ctx).
		Table("valuation_layers").
		Where("company_id = ? AND warehouse_id IS NULL", companyID).
		Count(&count).Error
	return count, err
}

// RepairCandidateCount counts layers the repair tool would look at
func (p *GormLedgerHealthProvider) RepairCandidateCount(ctx context.Context, companyID uuid.UUID) (int64, error) {
	var count int64
	err := p.db.WithContext(ctx).
		Table("valuation_layers").
		Where("company_id = ?", companyID).
		Where(`remaining_qty IS NULL OR remaining_value IS NULL
			OR (quantity < 0 AND (remaining_qty <> 0 OR remaining_value <> 0))
			OR (quantity > 0 AND (remaining_qty < 0 OR remaining_value < 0 OR remaining_qty > quantity
				OR (remaining_qty > 0 AND remaining_qty < ?)
				OR (remaining_qty = 0 AND remaining_value <> 0)))`, p.epsilon).
		Count(&count).Error
	return count, err
}
