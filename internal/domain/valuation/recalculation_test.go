package valuation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayQueue(t *testing.T) {
	scope := testScope(uuid.New())
	r1 := receipt(t, scope, "10", "100", 0)
	r2 := receipt(t, scope, "10", "150", 2*time.Hour)
	out := outgoing(t, scope, "-12")
	out.CreatedAt = r1.CreatedAt.Add(3 * time.Hour)
	out.SetOutgoingValue(d("1300"))

	// Corrupt the stored remainders
	r1.RemainingQuantity, r1.RemainingValue = d("10"), d("1000")
	r2.RemainingQuantity, r2.RemainingValue = d("-1"), d("0")

	result, err := ReplayQueue(scope, []*ValuationLayer{out, r2, r1})
	require.NoError(t, err)

	assert.True(t, r1.RemainingQuantity.IsZero())
	assert.True(t, r1.RemainingValue.IsZero())
	assert.True(t, r2.RemainingQuantity.Equal(d("8")))
	assert.True(t, r2.RemainingValue.Equal(d("1200")))
	assert.True(t, result.Unmatched.IsZero())
	assert.Len(t, result.Changes, 2)
	assert.Equal(t, 3, result.Layers)
}

func TestReplayQueue_OutgoingOnlyConsumesOlderLayers(t *testing.T) {
	scope := testScope(uuid.New())
	out := outgoing(t, scope, "-4")
	out.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := receipt(t, scope, "10", "2", time.Hour)

	result, err := ReplayQueue(scope, []*ValuationLayer{r, out})
	require.NoError(t, err)

	assert.True(t, r.RemainingQuantity.Equal(d("10")))
	assert.True(t, result.Unmatched.Equal(d("4")))
}

func TestReplayQueue_RejectsMissingWarehouse(t *testing.T) {
	scope := testScope(uuid.New())
	bad := receipt(t, testScope(uuid.Nil), "1", "1", 0)

	_, err := ReplayQueue(scope, []*ValuationLayer{bad})

	var mw *MissingWarehouseError
	assert.ErrorAs(t, err, &mw)
}

func TestRepairLayer(t *testing.T) {
	scope := testScope(uuid.New())
	epsilon := d("0.0001")

	tests := []struct {
		name        string
		setup       func(l *ValuationLayer)
		outgoing    bool
		null        bool
		wantPattern RepairPattern
		wantQty     string
		wantValue   string
		wantReplay  bool
	}{
		{
			name:        "negative remaining clamped",
			setup:       func(l *ValuationLayer) { l.RemainingQuantity, l.RemainingValue = d("-2"), d("-20") },
			wantPattern: PatternNegativeRemaining,
			wantQty:     "0",
			wantValue:   "0",
		},
		{
			name:        "remaining above quantity capped",
			setup:       func(l *ValuationLayer) { l.RemainingQuantity, l.RemainingValue = d("12"), d("120") },
			wantPattern: PatternExceedsQuantity,
			wantQty:     "10",
			wantValue:   "100",
		},
		{
			name:        "rounding residue cleared",
			setup:       func(l *ValuationLayer) { l.RemainingQuantity, l.RemainingValue = d("0.00001"), d("0.0001") },
			wantPattern: PatternRoundingResidue,
			wantQty:     "0",
			wantValue:   "0",
		},
		{
			name:        "value left on empty layer cleared",
			setup:       func(l *ValuationLayer) { l.RemainingQuantity, l.RemainingValue = decimal.Zero, d("0.02") },
			wantPattern: PatternRoundingResidue,
			wantQty:     "0",
			wantValue:   "0",
		},
		{
			name:       "null remaining needs replay",
			setup:      func(l *ValuationLayer) {},
			null:       true,
			wantReplay: true,
		},
		{
			name:        "outgoing remainder zeroed",
			setup:       func(l *ValuationLayer) { l.RemainingQuantity, l.RemainingValue = d("2"), d("3") },
			outgoing:    true,
			wantPattern: PatternOutgoingRemainder,
			wantQty:     "0",
			wantValue:   "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := receipt(t, scope, "10", "10", 0)
			if tt.outgoing {
				l = outgoing(t, scope, "-10")
			}
			tt.setup(l)

			change, replay := RepairLayer(RepairCandidate{Layer: l, NullRemaining: tt.null}, epsilon)

			assert.Equal(t, tt.wantReplay, replay)
			if tt.wantReplay {
				assert.Nil(t, change)
				return
			}
			require.NotNil(t, change)
			assert.Equal(t, tt.wantPattern, change.Pattern)
			assert.True(t, change.NewQuantity.Equal(d(tt.wantQty)))
			assert.True(t, change.NewValue.Equal(d(tt.wantValue)))
			assert.Same(t, l, change.Layer())
		})
	}
}

func TestRepairLayer_HealthyLayerUntouched(t *testing.T) {
	l := receipt(t, testScope(uuid.New()), "10", "10", 0)

	change, replay := RepairLayer(RepairCandidate{Layer: l}, d("0.0001"))

	assert.Nil(t, change)
	assert.False(t, replay)
}

func TestSplitLandedCost(t *testing.T) {
	scope := testScope(uuid.New())
	a := receipt(t, scope, "1", "1", 0)
	b := receipt(t, scope, "2", "1", 0)

	parts, err := SplitLandedCost([]*ValuationLayer{a, b}, d("100"))
	require.NoError(t, err)

	assert.True(t, parts[0].Equal(d("33.333333")))
	assert.True(t, parts[1].Equal(d("66.666667")))
	assert.True(t, parts[0].Add(parts[1]).Equal(d("100")))
}

func TestNewLandedCostAllocation_RejectsOutgoing(t *testing.T) {
	l := outgoing(t, testScope(uuid.New()), "-1")

	_, err := NewLandedCostAllocation(l, d("5"), "freight")

	assert.Error(t, err)
}
