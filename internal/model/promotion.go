package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Promotion is a discount code.  Discount follows a tiered convention:
// values up to 1 are a fraction, up to 100 a percent, anything larger a flat
// deduction in currency units.  The booking core only reads promotions.
type Promotion struct {
	ID       uint64              `db:"id" json:"id"`
	Code     string              `db:"code" json:"code"`
	Discount decimal.NullDecimal `db:"discount" json:"discount"`
	StartsAt *time.Time          `db:"starts_at" json:"starts_at,omitempty"`
	EndsAt   *time.Time          `db:"ends_at" json:"ends_at,omitempty"`
	IsActive bool                `db:"is_active" json:"is_active"`
}
