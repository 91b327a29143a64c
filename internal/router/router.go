// Package router registers the HTTP routes of the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/cinema-ticket-checkout/internal/handler"
	"github.com/iliyamo/cinema-ticket-checkout/internal/middleware"
)

// RegisterRoutes registers the probes and the Prometheus endpoint.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers /v1/auth/* and the authenticated /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)

	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret))
}

// RegisterPublic registers unauthenticated endpoints.  The seat map sits
// behind the response cache; its TTL bounds how stale availability can be.
func RegisterPublic(e *echo.Echo, s *handler.ShowtimeHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/showtimes/:id/seats", s.SeatMap, cache)
}

// RegisterPayment registers the gateway callbacks.  They carry no JWT; the
// gateway signature is verified by the finalizer.
func RegisterPayment(e *echo.Echo, p *handler.PaymentHandler) {
	g := e.Group("/v1/payments/vnpay")
	g.GET("/return", p.Return)
	g.GET("/ipn", p.IPN)
}
