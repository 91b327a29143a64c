package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const requestIDKey = "request_id"

// RequestID propagates X-Request-ID, minting a UUID when the client sent
// none, and stores a request scoped logger in the context.
func RequestID(log logrus.FieldLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			c.Set(requestIDKey, id)
			c.Set("logger", log.WithField("request_id", id))
			return next(c)
		}
	}
}

// Logger returns the request scoped logger, or the standard logger outside
// of RequestID.
func Logger(c echo.Context) logrus.FieldLogger {
	if l, ok := c.Get("logger").(logrus.FieldLogger); ok {
		return l
	}
	return logrus.StandardLogger()
}
