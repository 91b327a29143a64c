package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-ticket-checkout/internal/handler"
	"github.com/iliyamo/cinema-ticket-checkout/internal/middleware"
)

// RegisterCustomer registers checkout and invoice endpoints under /v1.  All
// routes require a valid JWT and the CUSTOMER role, and are rate limited
// per user and route.
func RegisterCustomer(e *echo.Echo, h *handler.CheckoutHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(handler.RoleCustomer),
		limiter,
	)
	g.POST("/checkout", h.Checkout)
	g.GET("/invoices/:id", h.Invoice)
	g.POST("/invoices/:id/promotion", h.ApplyPromotion)
	g.GET("/invoices/:id/payment-url", h.PaymentURL)
}
