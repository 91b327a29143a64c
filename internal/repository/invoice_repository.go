package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
)

// InvoiceRepo reads invoices and their lines outside of a transaction.
// Every write goes through BookingTx.
type InvoiceRepo struct {
	db *sqlx.DB
}

func NewInvoiceRepo(db *sqlx.DB) *InvoiceRepo { return &InvoiceRepo{db: db} }

const invoiceColumns = `id, user_id, total, original_total, status, promotion_id, created_at, updated_at`

// Invoice returns the invoice with id or ErrNotFound.
func (r *InvoiceRepo) Invoice(ctx context.Context, id string) (model.Invoice, error) {
	var inv model.Invoice
	err := r.db.GetContext(ctx, &inv, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	return inv, mapErr(err)
}

// InvoiceDetail returns the invoice with its tickets and snack lines.
func (r *InvoiceRepo) InvoiceDetail(ctx context.Context, id string) (model.InvoiceDetail, error) {
	inv, err := r.Invoice(ctx, id)
	if err != nil {
		return model.InvoiceDetail{}, err
	}
	d := model.InvoiceDetail{Invoice: inv, Tickets: []model.Ticket{}, Snacks: []model.BookingSnack{}}
	if d.Tickets, err = invoiceTickets(ctx, r.db, id); err != nil {
		return model.InvoiceDetail{}, err
	}
	err = r.db.SelectContext(ctx, &d.Snacks,
		`SELECT id, invoice_id, snack_id, quantity, total FROM booking_snacks WHERE invoice_id = ? ORDER BY id`, id)
	if err != nil {
		return model.InvoiceDetail{}, mapErr(err)
	}
	return d, nil
}

func invoiceTickets(ctx context.Context, q sqlx.QueryerContext, invoiceID string) ([]model.Ticket, error) {
	tickets := []model.Ticket{}
	err := sqlx.SelectContext(ctx, q, &tickets,
		`SELECT `+ticketColumns+` FROM tickets WHERE invoice_id = ? ORDER BY id`, invoiceID)
	return tickets, mapErr(err)
}
