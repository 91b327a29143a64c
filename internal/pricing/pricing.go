// Package pricing computes what a checkout costs: seat prices adjusted per
// showtime, snack lines, and promotion discounts.  All amounts are whole
// currency units; intermediate arithmetic is done in decimal so rounding is
// exact and happens once, half away from zero.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SeatLine is a requested seat with the base price of its seat type.
type SeatLine struct {
	SeatID    uint64
	BasePrice int64
}

// SnackLine is a requested snack with its unit price.
type SnackLine struct {
	SnackID   uint64
	UnitPrice int64
	Quantity  int
}

// Quote is the priced breakdown of a selection before any discount.
type Quote struct {
	SeatPrices  map[uint64]int64 `json:"seat_prices"`
	SnackTotals map[uint64]int64 `json:"snack_totals"`
	SeatsTotal  int64            `json:"seats_total"`
	SnacksTotal int64            `json:"snacks_total"`
	Total       int64            `json:"total"`
}

// SeatPrice applies the showtime adjustment to a seat type price:
// base × (1 + adjustmentPercent/100), rounded half away from zero.
func SeatPrice(base int64, adjustmentPercent decimal.Decimal) int64 {
	factor := decimal.NewFromInt(1).Add(adjustmentPercent.Div(hundred))
	p := decimal.NewFromInt(base).Mul(factor).Round(0).IntPart()
	if p < 0 {
		return 0
	}
	return p
}

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// SnackTotal is unit price × quantity with the quantity floored at 1.  A
// product beyond int64 saturates at math.MaxInt64 instead of wrapping.
func SnackTotal(unitPrice int64, quantity int) int64 {
	if quantity < 1 {
		quantity = 1
	}
	t := decimal.NewFromInt(unitPrice).Mul(decimal.NewFromInt(int64(quantity)))
	if t.GreaterThan(maxAmount) {
		return math.MaxInt64
	}
	return t.IntPart()
}

// addAmounts sums non-negative amounts, saturating at math.MaxInt64.
func addAmounts(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// ComputeBaseTotal prices every seat and snack line and sums them.
func ComputeBaseTotal(seats []SeatLine, snacks []SnackLine, adjustmentPercent decimal.Decimal) Quote {
	q := Quote{
		SeatPrices:  make(map[uint64]int64, len(seats)),
		SnackTotals: make(map[uint64]int64, len(snacks)),
	}
	for _, s := range seats {
		p := SeatPrice(s.BasePrice, adjustmentPercent)
		q.SeatPrices[s.SeatID] = p
		q.SeatsTotal = addAmounts(q.SeatsTotal, p)
	}
	for _, sn := range snacks {
		t := SnackTotal(sn.UnitPrice, sn.Quantity)
		q.SnackTotals[sn.SnackID] = addAmounts(q.SnackTotals[sn.SnackID], t)
		q.SnacksTotal = addAmounts(q.SnacksTotal, t)
	}
	q.Total = addAmounts(q.SeatsTotal, q.SnacksTotal)
	return q
}

// ApplyDiscount turns a promotion discount value into an amount off
// baseTotal.  The value is tiered:
//
//	(0, 1]    fraction of baseTotal (1 means 100%)
//	(1, 100]  percent of baseTotal  (100 means 100%)
//	> 100     flat deduction
//
// The discount is rounded to a whole unit and clamped to [0, baseTotal], so
// the payable amount is never negative.
func ApplyDiscount(baseTotal int64, discount decimal.Decimal) (discountAmount, payable int64) {
	if baseTotal <= 0 || !discount.IsPositive() {
		return 0, max(baseTotal, 0)
	}
	base := decimal.NewFromInt(baseTotal)
	var amt decimal.Decimal
	switch {
	case discount.LessThanOrEqual(decimal.NewFromInt(1)):
		amt = base.Mul(discount)
	case discount.LessThanOrEqual(hundred):
		amt = base.Mul(discount).Div(hundred)
	default:
		amt = discount
	}
	discountAmount = amt.Round(0).IntPart()
	if discountAmount < 0 {
		discountAmount = 0
	}
	if discountAmount > baseTotal {
		discountAmount = baseTotal
	}
	return discountAmount, baseTotal - discountAmount
}
