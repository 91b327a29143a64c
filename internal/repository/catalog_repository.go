package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
)

// CatalogRepo reads showtimes, seats, snacks and ticket rows outside of a
// transaction.  The catalog itself is maintained by the admin tooling; the
// checkout core only reads it.
type CatalogRepo struct {
	db *sqlx.DB
}

// NewCatalogRepo returns a CatalogRepo bound to db.
func NewCatalogRepo(db *sqlx.DB) *CatalogRepo { return &CatalogRepo{db: db} }

const seatColumns = `s.id, s.room_id, s.row_label, s.seat_number, s.seat_type_id, st.price AS seat_type_price`

// Showtime returns the showtime with id or ErrNotFound.
func (r *CatalogRepo) Showtime(ctx context.Context, id uint64) (model.Showtime, error) {
	const q = `SELECT id, movie_title, room_id, starts_at, ends_at, price_adjustment_percent
		FROM showtimes WHERE id = ?`
	var st model.Showtime
	err := r.db.GetContext(ctx, &st, q, id)
	return st, mapErr(err)
}

// SeatsByIDs returns the seats of roomID among ids.  Seats belonging to other
// rooms are silently left out so that the caller can detect them.
func (r *CatalogRepo) SeatsByIDs(ctx context.Context, roomID uint64, ids []uint64) ([]model.Seat, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`SELECT `+seatColumns+`
		FROM seats s JOIN seat_types st ON st.id = s.seat_type_id
		WHERE s.room_id = ? AND s.id IN (?)
		ORDER BY s.id`, roomID, ids)
	if err != nil {
		return nil, err
	}
	var seats []model.Seat
	err = r.db.SelectContext(ctx, &seats, r.db.Rebind(q), args...)
	return seats, mapErr(err)
}

// RoomSeats returns every seat of roomID ordered by row and number.
func (r *CatalogRepo) RoomSeats(ctx context.Context, roomID uint64) ([]model.Seat, error) {
	q := `SELECT ` + seatColumns + `
		FROM seats s JOIN seat_types st ON st.id = s.seat_type_id
		WHERE s.room_id = ?
		ORDER BY s.row_label, s.seat_number`
	var seats []model.Seat
	err := r.db.SelectContext(ctx, &seats, q, roomID)
	return seats, mapErr(err)
}

// SnacksByIDs returns the snacks among ids.  Unknown ids are left out.
func (r *CatalogRepo) SnacksByIDs(ctx context.Context, ids []uint64) ([]model.Snack, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`SELECT id, name, price FROM snacks WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	var snacks []model.Snack
	err = r.db.SelectContext(ctx, &snacks, r.db.Rebind(q), args...)
	return snacks, mapErr(err)
}

// ShowtimeTickets returns the ticket rows on seatIDs of showtimeID, lapsed
// holds included.  Callers decide what still blocks with Ticket.Blocking.
func (r *CatalogRepo) ShowtimeTickets(ctx context.Context, showtimeID uint64, seatIDs []uint64) ([]model.Ticket, error) {
	return seatTickets(ctx, r.db, showtimeID, seatIDs, false)
}

const ticketColumns = `id, invoice_id, showtime_id, seat_id, status, price, created_at, expires_at`

func seatTickets(ctx context.Context, q sqlx.QueryerContext, showtimeID uint64, seatIDs []uint64, lock bool) ([]model.Ticket, error) {
	if len(seatIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE showtime_id = ? AND seat_id IN (?) ORDER BY seat_id`
	if lock {
		query += ` FOR UPDATE`
	}
	query, args, err := sqlx.In(query, showtimeID, seatIDs)
	if err != nil {
		return nil, err
	}
	var tickets []model.Ticket
	err = sqlx.SelectContext(ctx, q, &tickets, query, args...)
	return tickets, mapErr(err)
}
