package middleware

// identity.go holds helpers shared across middleware files for naming the
// caller of a request in rate-limit and cache keys.

import (
	"github.com/labstack/echo/v4"
)

// callerID returns the operator stored by JWTAuth, or "guest" for the
// anonymous buyers that make up most of the traffic.
func callerID(c echo.Context) string {
	if v, ok := c.Get(CtxOperator).(string); ok && v != "" {
		return "op:" + v
	}
	return "guest"
}
