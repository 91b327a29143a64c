package model

import "time"

// TicketStatus distinguishes holds from sold seats.
type TicketStatus int8

const (
	TicketPending TicketStatus = 1
	TicketPaid    TicketStatus = 2
)

// Ticket is one seat for one showtime.  A Pending ticket with an expiry is a
// hold; it stops blocking the seat once ExpiresAt has passed even though the
// row may still exist.  The tickets table carries UNIQUE(showtime_id,
// seat_id), which is what actually prevents double booking.
//
// Fields:
//
//	ID         – T###### identifier.
//	InvoiceID  – owning invoice.
//	ShowtimeID – showtime the seat belongs to.
//	SeatID     – seat being sold or held.
//	Status     – Pending (hold) or Paid.
//	Price      – seat price in whole currency units.
//	CreatedAt  – creation timestamp.
//	ExpiresAt  – hold expiry, only meaningful while Pending.
type Ticket struct {
	ID         string       `db:"id" json:"id"`
	InvoiceID  string       `db:"invoice_id" json:"invoice_id"`
	ShowtimeID uint64       `db:"showtime_id" json:"showtime_id"`
	SeatID     uint64       `db:"seat_id" json:"seat_id"`
	Status     TicketStatus `db:"status" json:"status"`
	Price      int64        `db:"price" json:"price"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	ExpiresAt  *time.Time   `db:"expires_at" json:"expires_at,omitempty"`
}

// Blocking reports whether the ticket keeps its seat unavailable at now:
// Paid tickets always do, Pending ones only until their expiry.
func (t Ticket) Blocking(now time.Time) bool {
	switch t.Status {
	case TicketPaid:
		return true
	case TicketPending:
		return t.ExpiresAt != nil && t.ExpiresAt.After(now)
	}
	return false
}

// BookingSnack is a snack line of an invoice (detail_booking_snacks row).
type BookingSnack struct {
	ID        string `db:"id" json:"id"`
	InvoiceID string `db:"invoice_id" json:"invoice_id"`
	SnackID   uint64 `db:"snack_id" json:"snack_id"`
	Quantity  int    `db:"quantity" json:"quantity"`
	Total     int64  `db:"total" json:"total"`
}
