package pricing

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestApplyDiscount(t *testing.T) {
	tests := []struct {
		name         string
		base         int64
		discount     string
		wantDiscount int64
		wantPayable  int64
	}{
		{"fraction", 1000, "0.5", 500, 500},
		{"percent", 1000, "50", 500, 500},
		{"flat above hundred", 1000, "150", 150, 850},
		{"zero", 1000, "0", 0, 1000},
		{"negative ignored", 1000, "-10", 0, 1000},
		{"one is a full fraction", 1000, "1", 1000, 0},
		{"just above one is a percent", 1000, "1.5", 15, 985},
		{"hundred is a full percent", 1000, "100", 1000, 0},
		{"just above hundred is flat", 1000, "100.4", 100, 900},
		{"flat clamped to base", 100, "500", 100, 0},
		{"fraction rounds half away from zero", 5, "0.5", 3, 2},
		{"empty base", 0, "50", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, p := ApplyDiscount(tt.base, decimal.RequireFromString(tt.discount))
			assert.Equal(t, tt.wantDiscount, d)
			assert.Equal(t, tt.wantPayable, p)
		})
	}
}

func TestSeatPrice(t *testing.T) {
	assert.Equal(t, int64(90000), SeatPrice(90000, decimal.Zero))
	assert.Equal(t, int64(99000), SeatPrice(90000, decimal.NewFromInt(10)))
	assert.Equal(t, int64(72000), SeatPrice(90000, decimal.NewFromInt(-20)))
	// 45 × 1.1 = 49.5 rounds half away from zero
	assert.Equal(t, int64(50), SeatPrice(45, decimal.NewFromInt(10)))
	assert.Equal(t, int64(0), SeatPrice(100, decimal.NewFromInt(-150)))
}

func TestComputeBaseTotal(t *testing.T) {
	q := ComputeBaseTotal(
		[]SeatLine{{SeatID: 1, BasePrice: 80000}, {SeatID: 2, BasePrice: 120000}},
		[]SnackLine{{SnackID: 7, UnitPrice: 45000, Quantity: 2}, {SnackID: 8, UnitPrice: 30000, Quantity: 0}},
		decimal.NewFromInt(25),
	)
	assert.Equal(t, int64(100000), q.SeatPrices[1])
	assert.Equal(t, int64(150000), q.SeatPrices[2])
	assert.Equal(t, int64(250000), q.SeatsTotal)
	assert.Equal(t, int64(90000), q.SnackTotals[7])
	assert.Equal(t, int64(30000), q.SnackTotals[8], "quantity is floored at 1")
	assert.Equal(t, int64(120000), q.SnacksTotal)
	assert.Equal(t, int64(370000), q.Total)
}

func TestSnackTotalDoesNotWrap(t *testing.T) {
	// 45000 × 409927646082435 wraps to 23384 in int64 arithmetic.
	assert.Equal(t, int64(math.MaxInt64), SnackTotal(45000, 409927646082435))
	assert.Equal(t, int64(90000), SnackTotal(45000, 2))

	q := ComputeBaseTotal(
		[]SeatLine{{SeatID: 1, BasePrice: 88000}},
		[]SnackLine{{SnackID: 7, UnitPrice: 45000, Quantity: 409927646082435}},
		decimal.Zero,
	)
	assert.Equal(t, int64(math.MaxInt64), q.SnacksTotal)
	assert.Equal(t, int64(math.MaxInt64), q.Total)
}
