package booking

import (
	"context"
	"net/url"
	"time"

	"github.com/iliyamo/cinema-ticket-checkout/internal/idgen"
	"github.com/iliyamo/cinema-ticket-checkout/internal/loyalty"
	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
	"github.com/iliyamo/cinema-ticket-checkout/internal/payment"
	"github.com/iliyamo/cinema-ticket-checkout/internal/pricing"
	"github.com/iliyamo/cinema-ticket-checkout/internal/queue"
)

// Tx is one unit of work over the invoice, ticket, snack line, payment and
// loyalty tables.  Inserting a ticket whose (showtime, seat) is already taken
// fails with repository.ErrConflict, either from InsertTickets or from Commit.
type Tx interface {
	loyalty.Tx

	// LockInvoice returns the invoice and locks it for the rest of the
	// transaction.
	LockInvoice(ctx context.Context, id string) (model.Invoice, error)
	InsertInvoice(ctx context.Context, inv model.Invoice) error
	UpdateInvoice(ctx context.Context, inv model.Invoice) error

	// PurgeLapsedHolds deletes Pending tickets of the showtime whose expiry
	// is at or before now.
	PurgeLapsedHolds(ctx context.Context, showtimeID uint64, now time.Time) (int64, error)
	// SeatTickets returns every ticket row on the given seats of the
	// showtime, whatever its status or invoice.  With lock set the rows
	// (and the gaps of missing ones) are locked.
	SeatTickets(ctx context.Context, showtimeID uint64, seatIDs []uint64, lock bool) ([]model.Ticket, error)
	TicketsByInvoice(ctx context.Context, invoiceID string) ([]model.Ticket, error)
	InsertTickets(ctx context.Context, tickets []model.Ticket) error
	DeletePendingTickets(ctx context.Context, invoiceID string) (int64, error)
	DeleteInvoiceTickets(ctx context.Context, invoiceID string) (int64, error)

	InsertSnackLines(ctx context.Context, lines []model.BookingSnack) error
	DeleteSnackLines(ctx context.Context, invoiceID string) (int64, error)

	// InsertPaymentTransaction stores a callback audit row.  It reports
	// false when the same callback was already recorded.
	InsertPaymentTransaction(ctx context.Context, p model.PaymentTransaction) (bool, error)

	Commit() error
	Rollback() error
}

// BeginFunc starts a Tx.
type BeginFunc func(ctx context.Context) (Tx, error)

// Catalog is the read-only catalog data checkout prices against.
type Catalog interface {
	Showtime(ctx context.Context, id uint64) (model.Showtime, error)
	// SeatsByIDs returns the seats of room among ids together with their
	// seat type price.  Ids outside the room are left out.
	SeatsByIDs(ctx context.Context, roomID uint64, ids []uint64) ([]model.Seat, error)
	RoomSeats(ctx context.Context, roomID uint64) ([]model.Seat, error)
	SnacksByIDs(ctx context.Context, ids []uint64) ([]model.Snack, error)
}

// TicketReader reads ticket rows outside of a transaction.
type TicketReader interface {
	ShowtimeTickets(ctx context.Context, showtimeID uint64, seatIDs []uint64) ([]model.Ticket, error)
}

// Invoices reads invoices outside of a transaction.
type Invoices interface {
	Invoice(ctx context.Context, id string) (model.Invoice, error)
	InvoiceDetail(ctx context.Context, id string) (model.InvoiceDetail, error)
}

// Promotions looks promotions up by code and by id.
type Promotions interface {
	pricing.PromotionFinder
	PromotionByID(ctx context.Context, id uint64) (model.Promotion, error)
}

// IDs issues entity identifiers.  *idgen.Generator satisfies it.
type IDs interface {
	Next(ctx context.Context, class idgen.Class) (string, error)
}

// Signer builds the signed payment URL.  *payment.Gateway satisfies it.
type Signer interface {
	BuildSignedRequest(req payment.Request) (string, error)
}

// CallbackParser verifies and decodes gateway callbacks.  *payment.Gateway
// satisfies it.
type CallbackParser interface {
	ParseCallback(params url.Values) (payment.Callback, error)
}

// Publisher delivers booking events.  Delivery is best effort: errors are
// logged by the caller and never undo a committed state change.
type Publisher interface {
	PublishBookingPaid(ctx context.Context, ev queue.BookingPaidEvent) error
	PublishBookingFailed(ctx context.Context, ev queue.BookingFailedEvent) error
	PublishRefundRequired(ctx context.Context, ev queue.RefundRequiredEvent) error
}

type nopPublisher struct{}

func (nopPublisher) PublishBookingPaid(context.Context, queue.BookingPaidEvent) error { return nil }
func (nopPublisher) PublishBookingFailed(context.Context, queue.BookingFailedEvent) error {
	return nil
}
func (nopPublisher) PublishRefundRequired(context.Context, queue.RefundRequiredEvent) error {
	return nil
}
