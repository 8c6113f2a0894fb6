package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/raffle-settlement/internal/handler"
	"github.com/iliyamo/raffle-settlement/internal/middleware"
)

// RegisterRoutes registers the probes and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health)
	if db != nil {
		e.GET("/readyz", handler.Ready(db))
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterPublic registers the buyer-facing endpoints.  None require
// authentication.  limit guards the settlement endpoint and cache fronts
// the sold board; either may be a pass-through.
func RegisterPublic(e *echo.Echo, s *handler.SettlementHandler, t *handler.TicketHandler, sales *handler.SaleHandler, limit, cache echo.MiddlewareFunc) {
	g := e.Group("/v1")

	g.POST("/settlements", s.Settle, limit)
	g.GET("/quote", s.Quote)

	g.GET("/tickets/sold", t.Sold, cache)
	// long-lived; must not sit behind the response cache
	g.GET("/tickets/stream", t.Stream)

	g.GET("/sales", sales.ByNationalID, limit)
}

// RegisterOperator registers the operator endpoints.  Login is open; the
// rest require a valid JWT carrying the OPERATOR role.
func RegisterOperator(e *echo.Echo, o *handler.OperatorHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	e.POST("/v1/operator/login", o.Login, limit)

	g := e.Group(
		"/v1/operator",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleOperator),
	)
	g.POST("/ledger", o.CreateLedgerEntry)
	g.GET("/reviews", o.ListReviews)
	g.POST("/reviews/:id/resolve", o.ResolveReview)
	g.POST("/reconcile", o.Reconcile)
}
