package model

import "time"

// InvoiceStatus is the payment state of an invoice.  Pending is the only
// non-terminal state; Paid and Failed are never left once reached.
type InvoiceStatus int8

const (
	InvoicePending InvoiceStatus = 0
	InvoicePaid    InvoiceStatus = 1
	InvoiceFailed  InvoiceStatus = 2
)

func (s InvoiceStatus) String() string {
	switch s {
	case InvoicePending:
		return "PENDING"
	case InvoicePaid:
		return "PAID"
	case InvoiceFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Invoice groups the tickets and snack lines bought in one checkout.  It is
// created Pending when checkout begins and mutated again only when a
// promotion is applied or the payment callback is finalized.
//
// Fields:
//
//	ID            – INV####_HHhMMmDDMMYYYY identifier.
//	UserID        – owning customer.
//	Total         – payable amount after discount, in whole currency units.
//	OriginalTotal – amount before discount.
//	Status        – Pending, Paid or Failed.
//	PromotionID   – applied promotion (nil when none).
//	CreatedAt     – creation timestamp.
//	UpdatedAt     – last update timestamp.
type Invoice struct {
	ID            string        `db:"id" json:"id"`
	UserID        uint64        `db:"user_id" json:"user_id"`
	Total         int64         `db:"total" json:"total"`
	OriginalTotal int64         `db:"original_total" json:"original_total"`
	Status        InvoiceStatus `db:"status" json:"status"`
	PromotionID   *uint64       `db:"promotion_id" json:"promotion_id,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// InvoiceDetail is an invoice together with its realized lines, used for
// customer-facing views.
type InvoiceDetail struct {
	Invoice
	Tickets []Ticket       `json:"tickets"`
	Snacks  []BookingSnack `json:"snacks"`
}
