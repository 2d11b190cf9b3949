package valuation

import (
	"context"
	"fmt"

	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LandedCostService records landed cost against incoming layers
type LandedCostService struct {
	tx     TransactionScope
	logger *zap.Logger
}

// NewLandedCostService creates a new LandedCostService
func NewLandedCostService(tx TransactionScope, logger *zap.Logger) *LandedCostService {
	return &LandedCostService{tx: tx, logger: logger.Named("valuation.landed_cost")}
}

// Allocate attaches cmd.Amount to the given layers. A single layer takes the
// whole amount; several layers share it by quantity. All layers must belong
// to the company and sit at the same warehouse.
func (s *LandedCostService) Allocate(ctx context.Context, cmd AllocateLandedCostCommand) ([]*valuation.LandedCostAllocation, error) {
	if cmd.CompanyID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_INPUT", "company is required")
	}
	if len(cmd.LayerIDs) == 0 {
		return nil, shared.NewDomainError("INVALID_INPUT", "at least one layer is required")
	}
	if cmd.Amount.IsZero() {
		return nil, shared.NewDomainError("INVALID_INPUT", "landed cost amount must not be zero")
	}
	if valuation.ExceedsScale(cmd.Amount, valuation.ValueScale) {
		return nil, shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("landed cost amount %s has more than %d decimal places", cmd.Amount, valuation.ValueScale))
	}

	var allocations []*valuation.LandedCostAllocation
	err := s.tx.Execute(ctx, TxOptions{}, func(repos TransactionalRepositories) error {
		layers := make([]*valuation.ValuationLayer, 0, len(cmd.LayerIDs))
		seen := make(map[uuid.UUID]bool, len(cmd.LayerIDs))
		for _, id := range cmd.LayerIDs {
			if seen[id] {
				return shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("layer %s listed twice", id))
			}
			seen[id] = true
			l, err := repos.Layers().FindByID(ctx, id)
			if err != nil {
				return err
			}
			if l.CompanyID != cmd.CompanyID {
				return valuation.ErrLayerNotFound
			}
			if !l.HasWarehouse() {
				return valuation.NewMissingWarehouseError(l)
			}
			if len(layers) > 0 && *layers[0].WarehouseID != *l.WarehouseID {
				return shared.NewDomainError("INVALID_INPUT", "landed cost layers must belong to the same warehouse")
			}
			layers = append(layers, l)
		}

		parts, err := valuation.SplitLandedCost(layers, cmd.Amount)
		if err != nil {
			return err
		}
		allocations = make([]*valuation.LandedCostAllocation, 0, len(layers))
		for i, l := range layers {
			a, err := valuation.NewLandedCostAllocation(l, parts[i], cmd.Reference)
			if err != nil {
				return err
			}
			allocations = append(allocations, a)
		}
		return repos.LandedCosts().Create(ctx, allocations...)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("landed cost allocated",
		zap.String("company_id", cmd.CompanyID.String()),
		zap.Int("layers", len(allocations)),
		zap.String("amount", cmd.Amount.String()),
		zap.String("reference", cmd.Reference),
	)
	return allocations, nil
}

// ListByLayer returns the allocations recorded against a layer
func (s *LandedCostService) ListByLayer(ctx context.Context, companyID, layerID uuid.UUID) ([]*valuation.LandedCostAllocation, error) {
	var out []*valuation.LandedCostAllocation
	err := s.tx.Execute(ctx, TxOptions{}, func(repos TransactionalRepositories) error {
		l, err := repos.Layers().FindByID(ctx, layerID)
		if err != nil {
			return err
		}
		if l.CompanyID != companyID {
			return valuation.ErrLayerNotFound
		}
		out, err = repos.LandedCosts().FindByLayer(ctx, layerID)
		return err
	})
	return out, err
}
