package valuation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outgoing(t *testing.T, scope Scope, qty string) *ValuationLayer {
	t.Helper()
	l, err := NewOutgoingLayer(scope, d(qty))
	require.NoError(t, err)
	return l
}

func TestNegativeBalancePolicy_Evaluate(t *testing.T) {
	scope := testScope(uuid.New())

	tests := []struct {
		name      string
		mode      NegativeBalanceMode
		available string
		quantity  string
		isReturn  bool
		want      BalanceOutcome
		shortfall string
	}{
		{"enough stock", ModeStrict, "10", "-6", false, BalanceOK, "0"},
		{"within tolerance", ModeStrict, "5", "-5.005", false, BalanceOK, "0"},
		{"strict blocks", ModeStrict, "5", "-8", false, BalanceBlocked, "3"},
		{"warning warns", ModeWarning, "5", "-8", false, BalanceWarned, "3"},
		{"disabled skips", ModeDisabled, "5", "-8", false, BalanceSkipped, "0"},
		{"returns skipped", ModeStrict, "0", "-8", true, BalanceSkipped, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := NegativeBalancePolicy{Mode: tt.mode, Tolerance: DefaultTolerance}
			l := outgoing(t, scope, tt.quantity)
			if tt.isReturn {
				orig := uuid.New()
				l.ReturnOfMovementID = &orig
			}

			check := policy.Evaluate(l, d(tt.available))

			assert.Equal(t, tt.want, check.Outcome)
			assert.True(t, check.Shortfall.Equal(d(tt.shortfall)), "shortfall %s", check.Shortfall)
		})
	}
}

func TestNegativeBalancePolicy_IncomingNeverChecked(t *testing.T) {
	policy := NegativeBalancePolicy{Mode: ModeStrict, Tolerance: DefaultTolerance}
	l := receipt(t, testScope(uuid.New()), "1", "1", 0)

	check := policy.Evaluate(l, d("-100"))

	assert.Equal(t, BalanceSkipped, check.Outcome)
}

func TestNegativeBalanceError_Message(t *testing.T) {
	scope := testScope(uuid.New())
	policy := NegativeBalancePolicy{Mode: ModeStrict, Tolerance: DefaultTolerance}
	check := policy.Evaluate(outgoing(t, scope, "-8"), d("5"))
	alt := uuid.New()

	err := NewNegativeBalanceError(check, []WarehouseStock{{WarehouseID: alt, Available: d("4")}})

	assert.Equal(t, CodeNegativeBalance, err.Code)
	assert.Contains(t, err.Error(), "shortfall 3")
	assert.Contains(t, err.Error(), scope.ProductID.String())
	assert.Contains(t, err.Error(), alt.String())
}

func TestParseNegativeBalanceMode(t *testing.T) {
	m, err := ParseNegativeBalanceMode("warning")
	require.NoError(t, err)
	assert.Equal(t, ModeWarning, m)

	_, err = ParseNegativeBalanceMode("lenient")
	assert.Error(t, err)
}

func TestValidateLayer(t *testing.T) {
	scope := testScope(uuid.New())

	t.Run("missing warehouse is a hard error", func(t *testing.T) {
		l := receipt(t, testScope(uuid.Nil), "5", "1", 0)
		var mw *MissingWarehouseError
		assert.ErrorAs(t, ValidateLayer(l, DefaultTolerance), &mw)
	})

	t.Run("remaining above quantity", func(t *testing.T) {
		l := receipt(t, scope, "5", "1", 0)
		l.RemainingQuantity = d("6")
		assert.Error(t, ValidateLayer(l, DefaultTolerance))
	})

	t.Run("outgoing with remainder", func(t *testing.T) {
		l := outgoing(t, scope, "-5")
		l.RemainingQuantity = d("1")
		assert.Error(t, ValidateLayer(l, DefaultTolerance))
	})

	t.Run("healthy layer", func(t *testing.T) {
		assert.NoError(t, ValidateLayer(receipt(t, scope, "5", "1", 0), DefaultTolerance))
	})
}

func TestConsume_RequiresWarehouse(t *testing.T) {
	l := receipt(t, testScope(uuid.Nil), "5", "1", 0)

	var mw *MissingWarehouseError
	assert.ErrorAs(t, l.SetRemaining(d("1"), d("1")), &mw)
	assert.ErrorAs(t, l.consume(d("1"), d("1")), &mw)
}

func TestExceedsScale(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"5", false},
		{"-0.000001", false},
		{"12.500000", false},
		{"0.0000004", true},
		{"-3.1234567", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExceedsScale(d(tt.value), QuantityScale), tt.value)
	}
}

func TestMissingCostError(t *testing.T) {
	product := uuid.New()

	err := NewMissingCostError(product, d("2"))

	assert.Equal(t, CodeMissingCost, err.Code)
	assert.Contains(t, err.Error(), product.String())
	assert.Contains(t, err.Error(), "2 units")
}
