package persistence

import (
	"context"
	"time"

	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/erp/stockvaluation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormWarehouseRepository implements valuation.WarehouseRepository using GORM
type GormWarehouseRepository struct {
	db *gorm.DB
}

// NewGormWarehouseRepository creates a new GormWarehouseRepository
func NewGormWarehouseRepository(db *gorm.DB) *GormWarehouseRepository {
	return &GormWarehouseRepository{db: db}
}

// ListByCompany lists the warehouses of a company ordered by code
func (r *GormWarehouseRepository) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]valuation.Warehouse, error) {
	var ms []models.WarehouseModel
	if err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("code ASC").
		Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]valuation.Warehouse, len(ms))
	for i := range ms {
		out[i] = ms[i].ToDomain()
	}
	return out, nil
}

// Save creates or updates a warehouse
func (r *GormWarehouseRepository) Save(ctx context.Context, wh *valuation.Warehouse) error {
	if wh.ID == uuid.Nil {
		wh.ID = uuid.New()
	}
	now := time.Now()
	m := &models.WarehouseModel{Code: wh.Code, Name: wh.Name}
	m.ID = wh.ID
	m.CompanyID = wh.CompanyID
	m.CreatedAt, m.UpdatedAt = now, now
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"code", "name", "updated_at"}),
		}).
		Create(m).Error
}

var _ valuation.WarehouseRepository = (*GormWarehouseRepository)(nil)
