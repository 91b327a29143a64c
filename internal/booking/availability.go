package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
)

// BlockedSeats returns the members of seatIDs that tickets block at now: a
// Paid ticket, or a Pending one whose expiry is still ahead.  Lapsed holds
// do not block even though their rows still exist.
func BlockedSeats(tickets []model.Ticket, seatIDs []uint64, now time.Time) []uint64 {
	blocked := make(map[uint64]bool, len(tickets))
	for _, t := range tickets {
		if t.Blocking(now) {
			blocked[t.SeatID] = true
		}
	}
	return lo.Filter(seatIDs, func(id uint64, _ int) bool { return blocked[id] })
}

// SeatState is a seat of a showtime with its current availability.
type SeatState struct {
	model.Seat
	Label   string `json:"label"`
	Price   int64  `json:"price"`
	Blocked bool   `json:"blocked"`
}

// Availability answers seat availability questions at read time.
type Availability struct {
	catalog Catalog
	tickets TicketReader
	now     func() time.Time
}

// NewAvailability returns an Availability.  A nil now uses time.Now.
func NewAvailability(catalog Catalog, tickets TicketReader, now func() time.Time) *Availability {
	if now == nil {
		now = time.Now
	}
	return &Availability{catalog: catalog, tickets: tickets, now: now}
}

// Blocked returns the subset of seatIDs that is blocked for showtimeID.
func (a *Availability) Blocked(ctx context.Context, showtimeID uint64, seatIDs []uint64) ([]uint64, error) {
	tickets, err := a.tickets.ShowtimeTickets(ctx, showtimeID, seatIDs)
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	return BlockedSeats(tickets, seatIDs, a.now()), nil
}

// SeatMap returns every seat of the showtime's room with its price and
// blocked flag.
func (a *Availability) SeatMap(ctx context.Context, showtimeID uint64) (model.Showtime, []SeatState, error) {
	st, err := a.catalog.Showtime(ctx, showtimeID)
	if err != nil {
		return model.Showtime{}, nil, err
	}
	seats, err := a.catalog.RoomSeats(ctx, st.RoomID)
	if err != nil {
		return model.Showtime{}, nil, fmt.Errorf("load seats: %w", err)
	}
	ids := lo.Map(seats, func(s model.Seat, _ int) uint64 { return s.ID })
	blocked, err := a.Blocked(ctx, showtimeID, ids)
	if err != nil {
		return model.Showtime{}, nil, err
	}
	isBlocked := lo.SliceToMap(blocked, func(id uint64) (uint64, bool) { return id, true })
	out := make([]SeatState, 0, len(seats))
	for _, s := range seats {
		out = append(out, SeatState{
			Seat:    s,
			Label:   s.Label(),
			Price:   seatPrice(s, st),
			Blocked: isBlocked[s.ID],
		})
	}
	return st, out, nil
}
