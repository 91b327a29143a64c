// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names.  Each event type is published to a durable queue of the same
// name through the default exchange.
const (
	BookingPaidQueue    = "booking.paid"
	BookingFailedQueue  = "booking.failed"
	RefundRequiredQueue = "booking.refund_required"
)

// BookingPaidEvent is published when a payment callback has been turned into
// paid tickets.  DroppedSeatIDs lists requested seats that were lost to a
// concurrent booking and are therefore not part of the invoice.
type BookingPaidEvent struct {
	InvoiceID      string   `json:"invoice_id"`
	UserID         uint64   `json:"user_id"`
	ShowtimeID     uint64   `json:"showtime_id"`
	TicketIDs      []string `json:"ticket_ids"`
	SeatIDs        []uint64 `json:"seat_ids"`
	DroppedSeatIDs []uint64 `json:"dropped_seat_ids,omitempty"`
	Total          int64    `json:"total"`
	PointsAwarded  int64    `json:"points_awarded"`
	PaidAt         string   `json:"paid_at"`
}

// BookingFailedEvent is published when a Pending invoice is marked Failed
// and its seats are released.
type BookingFailedEvent struct {
	InvoiceID       string `json:"invoice_id"`
	UserID          uint64 `json:"user_id"`
	ResponseCode    string `json:"response_code"`
	SignatureValid  bool   `json:"signature_valid"`
	ReleasedTickets int64  `json:"released_tickets"`
	FailedAt        string `json:"failed_at"`
}

// RefundRequiredEvent is published when a captured payment is not fully
// covered by delivered tickets: seats were lost to a race, or the gateway
// confirmed payment for an invoice that had already failed.
type RefundRequiredEvent struct {
	InvoiceID      string   `json:"invoice_id"`
	UserID         uint64   `json:"user_id"`
	GatewayTxnNo   string   `json:"gateway_txn_no"`
	CapturedAmount int64    `json:"captured_amount"`
	RefundAmount   int64    `json:"refund_amount"`
	DroppedSeatIDs []uint64 `json:"dropped_seat_ids,omitempty"`
	Reason         string   `json:"reason"`
	RaisedAt       string   `json:"raised_at"`
}
