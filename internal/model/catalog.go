package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Showtime is a scheduled screening of a movie in a room.
// PriceAdjustmentPercent is added on top of every seat type price, so 10
// makes all seats 10% dearer and -20 gives a 20% matinee reduction.
type Showtime struct {
	ID                     uint64          `db:"id" json:"id"`
	MovieTitle             string          `db:"movie_title" json:"movie_title"`
	RoomID                 uint64          `db:"room_id" json:"room_id"`
	StartsAt               time.Time       `db:"starts_at" json:"starts_at"`
	EndsAt                 time.Time       `db:"ends_at" json:"ends_at"`
	PriceAdjustmentPercent decimal.Decimal `db:"price_adjustment_percent" json:"price_adjustment_percent"`
}

// Seat is a physical seat in a room joined with the base price of its seat type.
type Seat struct {
	ID            uint64 `db:"id" json:"id"`
	RoomID        uint64 `db:"room_id" json:"room_id"`
	RowLabel      string `db:"row_label" json:"row_label"`
	SeatNumber    uint32 `db:"seat_number" json:"seat_number"`
	SeatTypeID    uint64 `db:"seat_type_id" json:"seat_type_id"`
	SeatTypePrice int64  `db:"seat_type_price" json:"-"`
}

// Label renders the seat as printed on a ticket, e.g. "C7".
func (s Seat) Label() string {
	return s.RowLabel + strconv.FormatUint(uint64(s.SeatNumber), 10)
}

// Snack is a purchasable concession item.
type Snack struct {
	ID    uint64 `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Price int64  `db:"price" json:"price"`
}
