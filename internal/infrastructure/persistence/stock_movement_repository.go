package persistence

import (
	"context"
	"errors"

	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/erp/stockvaluation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStockMovementRepository implements valuation.MovementRepository using GORM
type GormStockMovementRepository struct {
	db *gorm.DB
}

// NewGormStockMovementRepository creates a new GormStockMovementRepository
func NewGormStockMovementRepository(db *gorm.DB) *GormStockMovementRepository {
	return &GormStockMovementRepository{db: db}
}

// FindByID loads a movement with its lines and locations
func (r *GormStockMovementRepository) FindByID(ctx context.Context, id uuid.UUID) (*valuation.StockMovement, error) {
	var m models.StockMovementModel
	if err := r.db.WithContext(ctx).Preload("Lines").First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}

	locs := make(map[uuid.UUID]*valuation.Location)
	if ids := m.LocationIDs(); len(ids) > 0 {
		var lms []models.StockLocationModel
		if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&lms).Error; err != nil {
			return nil, err
		}
		for i := range lms {
			locs[lms[i].ID] = lms[i].ToDomain()
		}
	}
	return m.ToDomain(locs), nil
}

// Save journals a movement. Re-posting the same movement is a no-op.
func (r *GormStockMovementRepository) Save(ctx context.Context, mv *valuation.StockMovement) error {
	m := models.StockMovementModelFromDomain(mv)
	return translatePgError(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(m).Error)
}

var _ valuation.MovementRepository = (*GormStockMovementRepository)(nil)
