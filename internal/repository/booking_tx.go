package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
)

// BookingStore opens the transactions checkout and payment finalization run
// in.
type BookingStore struct {
	db *sqlx.DB
}

func NewBookingStore(db *sqlx.DB) *BookingStore { return &BookingStore{db: db} }

// Begin starts a transaction.  The caller must Commit or Rollback it.
func (s *BookingStore) Begin(ctx context.Context) (*BookingTx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &BookingTx{tx: tx}, nil
}

// BookingTx is one unit of work over invoices, tickets, snack lines,
// payment transactions and the loyalty tables.  Duplicate key violations
// surface as ErrConflict.
type BookingTx struct {
	tx *sqlx.Tx
}

func (t *BookingTx) Commit() error   { return mapErr(t.tx.Commit()) }
func (t *BookingTx) Rollback() error { return t.tx.Rollback() }

// LockInvoice reads the invoice with SELECT ... FOR UPDATE.
func (t *BookingTx) LockInvoice(ctx context.Context, id string) (model.Invoice, error) {
	var inv model.Invoice
	err := t.tx.GetContext(ctx, &inv,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ? FOR UPDATE`, id)
	return inv, mapErr(err)
}

func (t *BookingTx) InsertInvoice(ctx context.Context, inv model.Invoice) error {
	const q = `INSERT INTO invoices (id, user_id, total, original_total, status, promotion_id, created_at, updated_at)
		VALUES (:id, :user_id, :total, :original_total, :status, :promotion_id, :created_at, :updated_at)`
	_, err := t.tx.NamedExecContext(ctx, q, inv)
	return mapErr(err)
}

// UpdateInvoice writes the mutable columns of inv.
func (t *BookingTx) UpdateInvoice(ctx context.Context, inv model.Invoice) error {
	const q = `UPDATE invoices
		SET total = :total, original_total = :original_total, status = :status,
		    promotion_id = :promotion_id, updated_at = :updated_at
		WHERE id = :id`
	res, err := t.tx.NamedExecContext(ctx, q, inv)
	if err != nil {
		return mapErr(err)
	}
	// RowsAffected is 0 for an unchanged row too, so only a missing row is
	// reported.
	if n, _ := res.RowsAffected(); n == 0 {
		var one int
		if err := t.tx.GetContext(ctx, &one, `SELECT 1 FROM invoices WHERE id = ?`, inv.ID); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

// PurgeLapsedHolds removes pending tickets of the showtime whose hold ran
// out at or before now.  Lapsed rows still occupy the unique index until
// they are purged, so every write path calls this first.
func (t *BookingTx) PurgeLapsedHolds(ctx context.Context, showtimeID uint64, now time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM tickets WHERE showtime_id = ? AND status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		showtimeID, model.TicketPending, now.UTC())
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

func (t *BookingTx) SeatTickets(ctx context.Context, showtimeID uint64, seatIDs []uint64, lock bool) ([]model.Ticket, error) {
	return seatTickets(ctx, t.tx, showtimeID, seatIDs, lock)
}

func (t *BookingTx) TicketsByInvoice(ctx context.Context, invoiceID string) ([]model.Ticket, error) {
	return invoiceTickets(ctx, t.tx, invoiceID)
}

// InsertTickets bulk inserts tickets.  A seat that is already taken for the
// showtime fails the whole statement with ErrConflict.
func (t *BookingTx) InsertTickets(ctx context.Context, tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	const q = `INSERT INTO tickets (id, invoice_id, showtime_id, seat_id, status, price, created_at, expires_at)
		VALUES (:id, :invoice_id, :showtime_id, :seat_id, :status, :price, :created_at, :expires_at)`
	_, err := t.tx.NamedExecContext(ctx, q, tickets)
	return mapErr(err)
}

func (t *BookingTx) DeletePendingTickets(ctx context.Context, invoiceID string) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM tickets WHERE invoice_id = ? AND status = ?`, invoiceID, model.TicketPending)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

func (t *BookingTx) DeleteInvoiceTickets(ctx context.Context, invoiceID string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM tickets WHERE invoice_id = ?`, invoiceID)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

func (t *BookingTx) InsertSnackLines(ctx context.Context, lines []model.BookingSnack) error {
	if len(lines) == 0 {
		return nil
	}
	const q = `INSERT INTO booking_snacks (id, invoice_id, snack_id, quantity, total)
		VALUES (:id, :invoice_id, :snack_id, :quantity, :total)`
	_, err := t.tx.NamedExecContext(ctx, q, lines)
	return mapErr(err)
}

func (t *BookingTx) DeleteSnackLines(ctx context.Context, invoiceID string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM booking_snacks WHERE invoice_id = ?`, invoiceID)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

// InsertPaymentTransaction records a gateway callback.  A callback already
// recorded for the same (invoice, gateway transaction, response code) is
// reported with false and no error.
func (t *BookingTx) InsertPaymentTransaction(ctx context.Context, p model.PaymentTransaction) (bool, error) {
	const q = `INSERT INTO payment_transactions
		(id, invoice_id, amount, bank_code, gateway_txn_no, response_code, transaction_status, signature_valid, paid_at, created_at)
		VALUES (:id, :invoice_id, :amount, :bank_code, :gateway_txn_no, :response_code, :transaction_status, :signature_valid, :paid_at, :created_at)`
	_, err := t.tx.NamedExecContext(ctx, q, p)
	if err == nil {
		return true, nil
	}
	if !IsDuplicateKey(err) {
		return false, mapErr(err)
	}
	var n int
	if qerr := t.tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM payment_transactions WHERE invoice_id = ? AND gateway_txn_no = ? AND response_code = ?`,
		p.InvoiceID, p.GatewayTxnNo, p.ResponseCode); qerr != nil {
		return false, mapErr(qerr)
	}
	if n > 0 {
		return false, nil
	}
	// The id itself collided.
	return false, mapErr(err)
}

// PointsAwarded reports whether the invoice already credited the user.
func (t *BookingTx) PointsAwarded(ctx context.Context, invoiceID string, userID uint64) (bool, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM points_history WHERE invoice_id = ? AND user_id = ?`, invoiceID, userID)
	return n > 0, mapErr(err)
}

// UserForUpdate locks the user row and returns it with its rank.
func (t *BookingTx) UserForUpdate(ctx context.Context, userID uint64) (model.User, model.Rank, error) {
	var u model.User
	if err := t.tx.GetContext(ctx, &u,
		`SELECT `+userColumns+` FROM users WHERE id = ? FOR UPDATE`, userID); err != nil {
		return model.User{}, model.Rank{}, mapErr(err)
	}
	var rk model.Rank
	if err := t.tx.GetContext(ctx, &rk,
		`SELECT `+rankColumns+` FROM membership_ranks WHERE id = ?`, u.RankID); err != nil {
		return model.User{}, model.Rank{}, mapErr(err)
	}
	return u, rk, nil
}

func (t *BookingTx) InsertPointsEntry(ctx context.Context, e model.PointsEntry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO points_history (user_id, invoice_id, points, created_at) VALUES (?, ?, ?, ?)`,
		e.UserID, e.InvoiceID, e.Points, createdAt)
	return mapErr(err)
}

// AddPoints increments the balance and returns the new value.  The row is
// expected to be locked by UserForUpdate.
func (t *BookingTx) AddPoints(ctx context.Context, userID uint64, points int64) (int64, error) {
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE users SET points = points + ? WHERE id = ?`, points, userID); err != nil {
		return 0, mapErr(err)
	}
	var balance int64
	err := t.tx.GetContext(ctx, &balance, `SELECT points FROM users WHERE id = ?`, userID)
	return balance, mapErr(err)
}

// RankForPoints returns the highest rank reachable with points.
func (t *BookingTx) RankForPoints(ctx context.Context, points int64) (model.Rank, error) {
	var rk model.Rank
	err := t.tx.GetContext(ctx, &rk,
		`SELECT `+rankColumns+` FROM membership_ranks WHERE min_points <= ? ORDER BY min_points DESC LIMIT 1`, points)
	return rk, mapErr(err)
}

func (t *BookingTx) SetUserRank(ctx context.Context, userID, rankID uint64) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE users SET rank_id = ? WHERE id = ?`, rankID, userID)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Same rank, or no such user.
		var one int
		if err := t.tx.GetContext(ctx, &one, `SELECT 1 FROM users WHERE id = ?`, userID); err != nil {
			return mapErr(err)
		}
	}
	return nil
}
