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

// GormProductCostRepository implements valuation.ProductCostRepository using GORM.
// A product without a row has a standard cost of zero.
type GormProductCostRepository struct {
	db *gorm.DB
}

// NewGormProductCostRepository creates a new GormProductCostRepository
func NewGormProductCostRepository(db *gorm.DB) *GormProductCostRepository {
	return &GormProductCostRepository{db: db}
}

// StandardCost returns the standard cost of one product
func (r *GormProductCostRepository) StandardCost(ctx context.Context, companyID, productID uuid.UUID) (decimal.Decimal, error) {
	var m models.ProductCostModel
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND product_id = ?", companyID, productID).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return m.StandardCost, nil
}

// StandardCosts returns standard costs for many products in one query.
// Every requested product appears in the result.
func (r *GormProductCostRepository) StandardCosts(ctx context.Context, companyID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	out := make(map[uuid.UUID]decimal.Decimal, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	var ms []models.ProductCostModel
	if err := r.db.WithContext(ctx).
		Where("company_id = ? AND product_id IN ?", companyID, productIDs).
		Find(&ms).Error; err != nil {
		return nil, err
	}
	for _, id := range productIDs {
		out[id] = decimal.Zero
	}
	for _, m := range ms {
		out[m.ProductID] = m.StandardCost
	}
	return out, nil
}

// SetStandardCost upserts the standard cost of a product
func (r *GormProductCostRepository) SetStandardCost(ctx context.Context, companyID, productID uuid.UUID, cost decimal.Decimal) error {
	m := &models.ProductCostModel{
		CompanyID:    companyID,
		ProductID:    productID,
		StandardCost: cost.Round(valuation.ValueScale),
		UpdatedAt:    time.Now(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "company_id"}, {Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"standard_cost", "updated_at"}),
		}).
		Create(m).Error
}

var _ valuation.ProductCostRepository = (*GormProductCostRepository)(nil)
