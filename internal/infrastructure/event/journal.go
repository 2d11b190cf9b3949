package event

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/erp/stockvaluation/internal/infrastructure/logger"
	"github.com/erp/stockvaluation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// JournalEventTypes are the events written to the valuation journal.
// Layer creation is left out; the layer row already records it.
var JournalEventTypes = []string{
	valuation.EventTypeShortageDetected,
	valuation.EventTypeNegativeBalanceWarning,
	valuation.EventTypeWarehouseUnresolved,
	valuation.EventTypeReturnCostFallback,
}

// JournalHandler persists valuation warnings to valuation_events and logs them
type JournalHandler struct {
	db         *gorm.DB
	serializer *EventSerializer
	logger     *zap.Logger
}

// NewJournalHandler creates a journal handler
func NewJournalHandler(db *gorm.DB, serializer *EventSerializer, logger *zap.Logger) *JournalHandler {
	return &JournalHandler{db: db, serializer: serializer, logger: logger}
}

// EventTypes implements shared.EventHandler
func (h *JournalHandler) EventTypes() []string {
	return JournalEventTypes
}

// Handle implements shared.EventHandler
func (h *JournalHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	payload, err := h.serializer.Serialize(event)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", event.EventType(), err)
	}

	logger.Enrich(ctx, h.logger).Warn("valuation warning",
		zap.String("event_type", event.EventType()),
		zap.String("layer_id", event.AggregateID().String()),
		zap.ByteString("payload", payload),
	)

	row := &models.ValuationEventModel{
		ID:            event.EventID(),
		CompanyID:     event.CompanyID(),
		EventType:     event.EventType(),
		AggregateID:   event.AggregateID(),
		AggregateType: event.AggregateType(),
		Payload:       payload,
		OccurredAt:    event.OccurredAt(),
		CreatedAt:     time.Now(),
	}
	return h.db.WithContext(ctx).Create(row).Error
}

// Recent returns the newest journal entries of a company, decoded
func (h *JournalHandler) Recent(ctx context.Context, companyID uuid.UUID, limit int) ([]shared.DomainEvent, error) {
	var rows []models.ValuationEventModel
	if err := h.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]shared.DomainEvent, 0, len(rows))
	for _, r := range rows {
		e, err := h.serializer.Deserialize(r.EventType, r.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
