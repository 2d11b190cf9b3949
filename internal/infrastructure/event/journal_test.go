package event

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/stockvaluation/internal/domain/valuation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}),
		&gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db, mock
}

func unresolvedEvent(t *testing.T) *valuation.WarehouseUnresolvedEvent {
	t.Helper()
	layer, err := valuation.NewIncomingLayer(
		valuation.Scope{CompanyID: uuid.New(), ProductID: uuid.New()},
		decimal.NewFromInt(3), decimal.NewFromInt(7),
	)
	require.NoError(t, err)
	return valuation.NewWarehouseUnresolvedEvent(layer, "no internal location on movement")
}

func TestJournalHandler_PersistsWarnings(t *testing.T) {
	db, mock := newMockGorm(t)
	h := NewJournalHandler(db, NewEventSerializer(), zap.NewNop())
	e := unresolvedEvent(t)

	mock.ExpectExec(`INSERT INTO "valuation_events"`).
		WithArgs(e.EventID(), e.CompanyID(), valuation.EventTypeWarehouseUnresolved,
			e.AggregateID(), e.AggregateType(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, h.Handle(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalHandler_PropagatesInsertError(t *testing.T) {
	db, mock := newMockGorm(t)
	h := NewJournalHandler(db, NewEventSerializer(), zap.NewNop())

	mock.ExpectExec(`INSERT INTO "valuation_events"`).WillReturnError(errors.New("disk full"))

	assert.Error(t, h.Handle(context.Background(), unresolvedEvent(t)))
}

func TestJournalHandler_RecentDecodesPayloads(t *testing.T) {
	db, mock := newMockGorm(t)
	serializer := NewEventSerializer()
	h := NewJournalHandler(db, serializer, zap.NewNop())
	e := unresolvedEvent(t)
	payload, err := serializer.Serialize(e)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "company_id", "event_type", "aggregate_id", "aggregate_type", "payload", "occurred_at", "created_at"}).
		AddRow(e.EventID(), e.CompanyID(), e.EventType(), e.AggregateID(), e.AggregateType(), payload, e.OccurredAt(), e.OccurredAt())
	mock.ExpectQuery(`SELECT \* FROM "valuation_events" WHERE company_id = \$1 ORDER BY occurred_at DESC LIMIT \$2`).
		WithArgs(e.CompanyID(), 10).
		WillReturnRows(rows)

	events, err := h.Recent(context.Background(), e.CompanyID(), 10)

	require.NoError(t, err)
	require.Len(t, events, 1)
	decoded, ok := events[0].(*valuation.WarehouseUnresolvedEvent)
	require.True(t, ok)
	assert.Equal(t, e.ProductID, decoded.ProductID)
	assert.Equal(t, "no internal location on movement", decoded.Reason)
}

func TestEventSerializer_UnknownType(t *testing.T) {
	_, err := NewEventSerializer().Deserialize("valuation.unknown", []byte(`{}`))
	assert.ErrorContains(t, err, "unknown event type")
}

func TestJournalHandler_SubscribesToWarningsOnly(t *testing.T) {
	h := NewJournalHandler(nil, NewEventSerializer(), zap.NewNop())
	assert.NotContains(t, h.EventTypes(), valuation.EventTypeLayerCreated)
	assert.Contains(t, h.EventTypes(), valuation.EventTypeShortageDetected)
}
