package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

// SoldLister lists every sold ticket number.
type SoldLister interface {
	ListSold(ctx context.Context) ([]model.TicketNumber, error)
}

// Subscriber streams raw sold-number events.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan []byte, func() error, error)
}

// TicketHandler serves the public availability board.
type TicketHandler struct {
	Tickets   SoldLister
	Feed      Subscriber
	Heartbeat time.Duration
	Log       *zap.Logger
}

func NewTicketHandler(tickets SoldLister, feed Subscriber, log *zap.Logger) *TicketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TicketHandler{Tickets: tickets, Feed: feed, Heartbeat: 25 * time.Second, Log: log}
}

// Sold handles GET /v1/tickets/sold.
func (h *TicketHandler) Sold(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sold, err := h.Tickets.ListSold(ctx)
	if err != nil {
		h.Log.Error("list sold tickets", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"sold":            sold,
		"sold_count":      len(sold),
		"available_count": model.PoolSize - len(sold),
	})
}

// Stream handles GET /v1/tickets/stream.  Each sold number is relayed as
// a Server-Sent Event named "sold"; a comment line is sent every
// Heartbeat so proxies keep the connection open.
func (h *TicketHandler) Stream(c echo.Context) error {
	if h.Feed == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "live feed unavailable"})
	}
	ctx := c.Request().Context()
	events, closeFn, err := h.Feed.Subscribe(ctx)
	if err != nil {
		h.Log.Warn("feed subscribe failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "live feed unavailable"})
	}
	defer func() { _ = closeFn() }()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	hb := h.Heartbeat
	if hb <= 0 {
		hb = 25 * time.Second
	}
	ticker := time.NewTicker(hb)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintf(w, "event: sold\ndata: %s\n\n", ev); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
