package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-ticket-checkout/internal/booking"
	"github.com/iliyamo/cinema-ticket-checkout/internal/middleware"
	"github.com/iliyamo/cinema-ticket-checkout/internal/payment"
)

// CallbackHandler finalizes payment callbacks.  *booking.Finalizer
// satisfies it.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, params url.Values) (booking.Outcome, error)
}

// PaymentHandler serves the gateway's return and IPN endpoints.  Both run
// the same idempotent finalization, so whichever arrives first wins and
// the other is a no-op.
type PaymentHandler struct {
	Finalizer CallbackHandler
}

func NewPaymentHandler(f CallbackHandler) *PaymentHandler { return &PaymentHandler{Finalizer: f} }

// Return handles GET /v1/payments/vnpay/return, where the customer's
// browser lands after paying.
func (h *PaymentHandler) Return(c echo.Context) error {
	out, err := h.Finalizer.HandleCallback(c.Request().Context(), c.QueryParams())
	if err != nil {
		callbackLog(c, out, err).Warn("payment return failed")
		switch {
		case errors.Is(err, payment.ErrMissingTxnRef), errors.Is(err, payment.ErrInvalidAmount):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payment callback"})
		case errors.Is(err, booking.ErrAmountMismatch):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount does not match invoice"})
		}
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": out.Message(),
		"outcome": out,
	})
}

// IPN handles GET /v1/payments/vnpay/ipn.  The gateway expects HTTP 200
// with an {RspCode, Message} body whatever happened.
func (h *PaymentHandler) IPN(c echo.Context) error {
	out, err := h.Finalizer.HandleCallback(c.Request().Context(), c.QueryParams())
	if err != nil {
		callbackLog(c, out, err).Warn("payment ipn failed")
	}
	return c.JSON(http.StatusOK, IPNResponse(out, err))
}

// IPNResponse maps a finalization result to the gateway's response codes.
func IPNResponse(out booking.Outcome, err error) payment.IPNResponse {
	switch {
	case errors.Is(err, payment.ErrMissingTxnRef):
		return payment.IPNUnknownError
	case !out.SignatureValid:
		return payment.IPNInvalidChecksum
	case errors.Is(err, booking.ErrInvoiceNotFound):
		return payment.IPNOrderNotFound
	case errors.Is(err, booking.ErrAmountMismatch), errors.Is(err, payment.ErrInvalidAmount):
		return payment.IPNInvalidAmount
	case err != nil:
		return payment.IPNUnknownError
	case out.Result == booking.ResultAlreadyPaid || out.Result == booking.ResultIgnored:
		return payment.IPNAlreadyConfirmed
	}
	return payment.IPNConfirmed
}

func callbackLog(c echo.Context, out booking.Outcome, err error) logrus.FieldLogger {
	return middleware.Logger(c).WithError(err).WithFields(logrus.Fields{
		"invoice_id": out.InvoiceID,
		"txn_ref":    c.QueryParam(payment.ParamTxnRef),
	})
}
