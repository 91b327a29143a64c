package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-ticket-checkout/internal/booking"
	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
)

// SeatMapper renders a showtime's seats with availability.
// *booking.Availability satisfies it.
type SeatMapper interface {
	SeatMap(ctx context.Context, showtimeID uint64) (model.Showtime, []booking.SeatState, error)
}

type ShowtimeHandler struct {
	Seats SeatMapper
}

func NewShowtimeHandler(seats SeatMapper) *ShowtimeHandler { return &ShowtimeHandler{Seats: seats} }

// SeatMap handles GET /v1/showtimes/:id/seats.  Public; held and sold
// seats are reported as blocked without saying which.
func (h *ShowtimeHandler) SeatMap(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	st, seats, err := h.Seats.SeatMap(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"showtime": st, "seats": seats})
}
