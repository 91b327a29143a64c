package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-ticket-checkout/internal/booking"
	"github.com/iliyamo/cinema-ticket-checkout/internal/middleware"
	"github.com/iliyamo/cinema-ticket-checkout/internal/repository"
)

// writeError maps service errors to the JSON error responses clients see.
// Unexpected errors are logged and reported as 500 without detail.
func writeError(c echo.Context, err error) error {
	var verr *booking.ValidationError
	var cerr *booking.ConflictError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": verr.Reason})
	case errors.As(err, &cerr):
		return c.JSON(http.StatusConflict, echo.Map{"error": "seats unavailable", "seat_ids": cerr.SeatIDs})
	case errors.Is(err, booking.ErrInvoiceNotPending):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, booking.ErrInvoiceNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "invoice not found"})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	middleware.Logger(c).WithError(err).WithField("path", c.Path()).Error("request failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// currentUser returns the authenticated user or writes 401.
func currentUser(c echo.Context) (uint64, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		_ = c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return id, ok
}
