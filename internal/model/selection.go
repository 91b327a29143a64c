package model

// SnackChoice is a requested snack and its quantity.
type SnackChoice struct {
	SnackID  uint64 `json:"snack_id"`
	Quantity int    `json:"quantity"`
}

// PendingSelection is what the customer picked at checkout.  It is kept in
// the pending selection store under the invoice ID until the payment
// callback is finalized, and is the source the paid tickets are rebuilt from.
type PendingSelection struct {
	InvoiceID  string        `json:"invoice_id"`
	UserID     uint64        `json:"user_id"`
	ShowtimeID uint64        `json:"showtime_id"`
	SeatIDs    []uint64      `json:"seat_ids"`
	Snacks     []SnackChoice `json:"snacks"`
}

// SnackQuantity returns the total number of snack items in the selection.
func (s PendingSelection) SnackQuantity() int {
	n := 0
	for _, sn := range s.Snacks {
		n += sn.Quantity
	}
	return n
}
