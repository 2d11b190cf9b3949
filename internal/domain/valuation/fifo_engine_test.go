package valuation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testScope(warehouseID uuid.UUID) Scope {
	return Scope{
		CompanyID:   uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		ProductID:   uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		WarehouseID: warehouseID,
	}
}

// receipt creates an incoming layer created at base+offset
func receipt(t *testing.T, scope Scope, qty, cost string, offset time.Duration) *ValuationLayer {
	t.Helper()
	l, err := NewIncomingLayer(scope, d(qty), d(cost))
	require.NoError(t, err)
	l.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset)
	return l
}

func TestPlanConsumption_FIFOOrdering(t *testing.T) {
	scope := testScope(uuid.New())
	r1 := receipt(t, scope, "10", "100", 0)
	r2 := receipt(t, scope, "10", "150", time.Hour)

	tests := []struct {
		name      string
		quantity  string
		wantValue string
		wantUnits []string
	}{
		{"within first layer", "4", "400", []string{"4"}},
		{"exactly first layer", "10", "1000", []string{"10"}},
		{"spills into second layer", "11", "1150", []string{"10", "1"}},
		{"both layers", "20", "2500", []string{"10", "10"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Pass the queue newest first to prove the engine sorts
			plan := PlanConsumption(scope, []*ValuationLayer{r2, r1}, d(tt.quantity).Neg(), d("999"))

			assert.False(t, plan.HasShortage())
			assert.True(t, plan.TotalValue().Equal(d(tt.wantValue)), "got %s", plan.TotalValue())
			require.Len(t, plan.Consumptions, len(tt.wantUnits))
			assert.Equal(t, r1.ID, plan.Consumptions[0].LayerID)
			for i, u := range tt.wantUnits {
				assert.True(t, plan.Consumptions[i].Quantity.Equal(d(u)))
			}
		})
	}

	// Planning never mutates the queue
	assert.True(t, r1.RemainingQuantity.Equal(d("10")))
	assert.True(t, r2.RemainingQuantity.Equal(d("10")))
}

func TestPlanConsumption_TieBreaksByID(t *testing.T) {
	scope := testScope(uuid.New())
	a := receipt(t, scope, "5", "10", 0)
	b := receipt(t, scope, "5", "20", 0)
	a.ID = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b.ID = uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	plan := PlanConsumption(scope, []*ValuationLayer{b, a}, d("5"), decimal.Zero)

	require.Len(t, plan.Consumptions, 1)
	assert.Equal(t, a.ID, plan.Consumptions[0].LayerID)
}

func TestPlanConsumption_WarehouseIsolation(t *testing.T) {
	whA, whB := uuid.New(), uuid.New()
	scopeA, scopeB := testScope(whA), testScope(whB)
	inA := receipt(t, scopeA, "10", "100", 0)
	inB := receipt(t, scopeB, "5", "80", time.Hour)

	// A mixed queue must still only draw on warehouse B
	plan := PlanConsumption(scopeB, []*ValuationLayer{inA, inB}, d("-3"), decimal.Zero)
	require.NoError(t, ApplyPlan(plan, []*ValuationLayer{inB}))

	assert.True(t, inA.RemainingQuantity.Equal(d("10")))
	assert.True(t, inB.RemainingQuantity.Equal(d("2")))
	assert.True(t, plan.TotalValue().Equal(d("240")))
}

func TestPlanConsumption_ShortageUsesFallbackCost(t *testing.T) {
	scope := testScope(uuid.New())
	r := receipt(t, scope, "5", "10", 0)

	plan := PlanConsumption(scope, []*ValuationLayer{r}, d("8"), d("12"))

	assert.True(t, plan.HasShortage())
	assert.True(t, plan.QuantitySatisfied.Equal(d("5")))
	assert.True(t, plan.Shortage.Equal(d("3")))
	assert.True(t, plan.ShortageValue.Equal(d("36")))
	assert.True(t, plan.TotalValue().Equal(d("86")))
}

func TestPlanConsumption_EmptyQueueNeverFree(t *testing.T) {
	plan := PlanConsumption(testScope(uuid.New()), nil, d("4"), d("7.5"))

	assert.True(t, plan.TotalValue().Equal(d("30")))
	assert.True(t, plan.UnitCost().Equal(d("7.5")))
}

func TestApplyPlan_DrainingLayerAbsorbsDrift(t *testing.T) {
	scope := testScope(uuid.New())
	// 3 units worth 10 gives a repeating unit cost
	r := receipt(t, scope, "3", "0", 0)
	r.Value = d("10")
	r.RemainingValue = d("10")

	total := decimal.Zero
	for i := 0; i < 3; i++ {
		plan := PlanConsumption(scope, []*ValuationLayer{r}, d("1"), decimal.Zero)
		require.NoError(t, ApplyPlan(plan, []*ValuationLayer{r}))
		total = total.Add(plan.TotalValue())
	}

	assert.True(t, r.RemainingQuantity.IsZero())
	assert.True(t, r.RemainingValue.IsZero())
	assert.True(t, total.Equal(d("10")), "consumed value %s must equal layer value", total)
}

func TestApplyPlan_DetectsStaleLayer(t *testing.T) {
	scope := testScope(uuid.New())
	r := receipt(t, scope, "10", "5", 0)
	plan := PlanConsumption(scope, []*ValuationLayer{r}, d("6"), decimal.Zero)

	// Another transaction consumed 6 units between planning and locking
	locked := *r
	locked.RemainingQuantity = d("4")
	locked.RemainingValue = d("20")

	err := ApplyPlan(plan, []*ValuationLayer{&locked})

	var stale *StaleLayerError
	require.ErrorAs(t, err, &stale)
	assert.True(t, stale.Observed.Equal(d("10")))
	assert.True(t, stale.Actual.Equal(d("4")))
	assert.True(t, locked.RemainingQuantity.Equal(d("4")), "stale apply must not mutate")
}

func TestApplyPlan_MissingLockedRow(t *testing.T) {
	scope := testScope(uuid.New())
	r := receipt(t, scope, "10", "5", 0)
	plan := PlanConsumption(scope, []*ValuationLayer{r}, d("1"), decimal.Zero)

	err := ApplyPlan(plan, nil)

	var stale *StaleLayerError
	assert.ErrorAs(t, err, &stale)
}

// Random interleavings of receipts and consumptions must keep every
// remainder within [0, quantity] and conserve value once the queue is empty.
func TestFIFOEngine_RandomInterleavings(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	scope := testScope(uuid.New())

	for run := 0; run < 50; run++ {
		var queue []*ValuationLayer
		var all []*ValuationLayer
		offset := time.Duration(0)

		for step := 0; step < 40; step++ {
			offset += time.Minute
			if rng.Intn(2) == 0 {
				qty := decimal.NewFromInt(int64(rng.Intn(20) + 1))
				cost := decimal.NewFromInt(int64(rng.Intn(500) + 1)).Div(decimal.NewFromInt(7))
				l := receipt(t, scope, qty.String(), cost.String(), offset)
				queue = append(queue, l)
				all = append(all, l)
				continue
			}
			available := AvailableQuantity(queue)
			if !available.IsPositive() {
				continue
			}
			want := decimal.NewFromInt(int64(rng.Intn(int(available.IntPart())+1) + 1))
			want = decimal.Min(want, available)
			plan := PlanConsumption(scope, queue, want.Neg(), decimal.Zero)
			require.False(t, plan.HasShortage())
			require.NoError(t, ApplyPlan(plan, queue))

			out, err := NewOutgoingLayer(scope, want.Neg())
			require.NoError(t, err)
			out.SetOutgoingValue(plan.TotalValue())
			all = append(all, out)

			for _, l := range queue {
				assert.False(t, l.RemainingQuantity.IsNegative())
				assert.True(t, l.RemainingQuantity.LessThanOrEqual(l.Quantity))
			}
		}

		// Drain the queue and check value conservation
		if rest := AvailableQuantity(queue); rest.IsPositive() {
			plan := PlanConsumption(scope, queue, rest, decimal.Zero)
			require.NoError(t, ApplyPlan(plan, queue))
			out, err := NewOutgoingLayer(scope, rest.Neg())
			require.NoError(t, err)
			out.SetOutgoingValue(plan.TotalValue())
			all = append(all, out)
		}
		sum := decimal.Zero
		for _, l := range all {
			sum = sum.Add(l.Value)
		}
		assert.True(t, sum.Abs().LessThan(d("0.0001")), "run %d: value not conserved: %s", run, sum)
	}
}

func TestSuggestSplit(t *testing.T) {
	primary, alt1, alt2 := uuid.New(), uuid.New(), uuid.New()

	split := SuggestSplit(primary, d("8"), d("5"), []WarehouseStock{
		{WarehouseID: alt1, Available: d("2")},
		{WarehouseID: alt2, Available: d("10")},
	})

	require.Len(t, split, 3)
	assert.Equal(t, primary, split[0].WarehouseID)
	assert.True(t, split[0].Quantity.Equal(d("5")))
	assert.True(t, split[1].Quantity.Equal(d("2")))
	assert.True(t, split[2].Quantity.Equal(d("1")))
}

func TestShortageError_Message(t *testing.T) {
	scope := testScope(uuid.New())
	alt := uuid.New()

	err := NewShortageError(scope, d("8"), d("5"), []WarehouseStock{{WarehouseID: alt, Available: d("6")}})

	assert.Equal(t, CodeShortage, err.Code)
	assert.True(t, err.Shortage.Equal(d("3")))
	assert.Contains(t, err.Error(), "needed 8, available 5, shortage 3")
	assert.Contains(t, err.Error(), alt.String())
	assert.Contains(t, err.Error(), "Suggested split")
}
