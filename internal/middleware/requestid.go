package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/raffle-settlement/internal/logger"
)

// RequestID echoes an incoming X-Request-Id or mints a new one, and puts it
// on the request context so service logs can be correlated with the
// access log line.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			c.SetRequest(req.WithContext(logger.WithRequestID(req.Context(), id)))
			return next(c)
		}
	}
}
