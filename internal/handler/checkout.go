package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-ticket-checkout/internal/booking"
	"github.com/iliyamo/cinema-ticket-checkout/internal/model"
)

// CheckoutService is the customer facing part of booking.Service.
type CheckoutService interface {
	BeginCheckout(ctx context.Context, req booking.CheckoutRequest) (booking.CheckoutResult, error)
	ApplyPromotion(ctx context.Context, userID uint64, invoiceID, code, clientIP string) (booking.PromotionResult, error)
	PaymentURL(ctx context.Context, userID uint64, invoiceID, clientIP string) (string, error)
	Invoice(ctx context.Context, userID uint64, invoiceID string) (model.InvoiceDetail, error)
}

// CheckoutHandler serves checkout and invoice endpoints.  Routes are behind
// JWTAuth.
type CheckoutHandler struct {
	Svc CheckoutService
}

func NewCheckoutHandler(svc CheckoutService) *CheckoutHandler { return &CheckoutHandler{Svc: svc} }

type checkoutReq struct {
	ShowtimeID    uint64              `json:"showtime_id"`
	SeatIDs       []uint64            `json:"seat_ids"`
	Snacks        []model.SnackChoice `json:"snacks"`
	PromotionCode string              `json:"promotion_code"`
}

// Checkout handles POST /v1/checkout.  It places holds on the seats, creates
// a Pending invoice and answers 201 with the signed payment URL.
func (h *CheckoutHandler) Checkout(c echo.Context) error {
	userID, ok := currentUser(c)
	if !ok {
		return nil
	}
	var req checkoutReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	res, err := h.Svc.BeginCheckout(c.Request().Context(), booking.CheckoutRequest{
		UserID:        userID,
		ShowtimeID:    req.ShowtimeID,
		SeatIDs:       req.SeatIDs,
		Snacks:        req.Snacks,
		PromotionCode: strings.TrimSpace(req.PromotionCode),
		ClientIP:      c.RealIP(),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

type promotionReq struct {
	Code string `json:"code"`
}

// ApplyPromotion handles POST /v1/invoices/:id/promotion.
func (h *CheckoutHandler) ApplyPromotion(c echo.Context) error {
	userID, ok := currentUser(c)
	if !ok {
		return nil
	}
	var req promotionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.Code) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code is required"})
	}
	res, err := h.Svc.ApplyPromotion(c.Request().Context(), userID, c.Param("id"), strings.TrimSpace(req.Code), c.RealIP())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// PaymentURL handles GET /v1/invoices/:id/payment-url.
func (h *CheckoutHandler) PaymentURL(c echo.Context) error {
	userID, ok := currentUser(c)
	if !ok {
		return nil
	}
	u, err := h.Svc.PaymentURL(c.Request().Context(), userID, c.Param("id"), c.RealIP())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"invoice_id": c.Param("id"), "payment_url": u})
}

// Invoice handles GET /v1/invoices/:id.
func (h *CheckoutHandler) Invoice(c echo.Context) error {
	userID, ok := currentUser(c)
	if !ok {
		return nil
	}
	d, err := h.Svc.Invoice(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}
