package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/logger"
	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/service"
)

// Settlements is the part of the settlement service the HTTP layer uses.
type Settlements interface {
	Settle(ctx context.Context, req service.SettleRequest) (*model.Sale, error)
	Quote(ctx context.Context, count int) (service.Quote, error)
}

// SettlementHandler serves the buyer-facing purchase endpoints.
type SettlementHandler struct {
	Svc     Settlements
	Timeout time.Duration // deadline wrapped around one Settle call
	Log     *zap.Logger
}

func NewSettlementHandler(svc Settlements, timeout time.Duration, log *zap.Logger) *SettlementHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettlementHandler{Svc: svc, Timeout: timeout, Log: log}
}

// ----- DTOs -----

type settleReq struct {
	TicketNumbers     []model.TicketNumber `json:"ticket_numbers"`
	Buyer             model.BuyerInfo      `json:"buyer"`
	DeclaredAmount    decimal.Decimal      `json:"declared_amount"`
	DeclaredReference string               `json:"declared_reference"`
}

// Settle handles POST /v1/settlements.  A buyer reports the payment they
// made for a selection of numbers; on success the confirmed sale is
// returned with 201.
func (h *SettlementHandler) Settle(c echo.Context) error {
	var req settleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": string(service.KindInvalidRequest), "message": "invalid body"})
	}

	ctx := c.Request().Context()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	sale, err := h.Svc.Settle(ctx, service.SettleRequest{
		Numbers:           req.TicketNumbers,
		Buyer:             req.Buyer,
		DeclaredAmount:    req.DeclaredAmount,
		DeclaredReference: req.DeclaredReference,
	})
	if err != nil {
		return h.settlementError(c, err)
	}
	return c.JSON(http.StatusCreated, sale)
}

// Quote handles GET /v1/quote?count=n and prices n tickets at the current
// rate so the buyer knows what to transfer.
func (h *SettlementHandler) Quote(c echo.Context) error {
	count, err := strconv.Atoi(c.QueryParam("count"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": string(service.KindInvalidRequest), "message": "count must be an integer"})
	}
	q, err := h.Svc.Quote(c.Request().Context(), count)
	if err != nil {
		return h.settlementError(c, err)
	}
	return c.JSON(http.StatusOK, q)
}

// statusFor maps a settlement failure kind to its HTTP status.
func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindInvalidRequest:
		return http.StatusBadRequest
	case service.KindAmountMismatch:
		return http.StatusUnprocessableEntity
	case service.KindReferenceNotFound:
		return http.StatusNotFound
	case service.KindAlreadyUsed, service.KindTicketConflict:
		return http.StatusConflict
	case service.KindRateUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var defaultMessages = map[service.Kind]string{
	service.KindInvalidRequest:      "invalid request",
	service.KindAmountMismatch:      "the declared amount does not match the price of the selection",
	service.KindReferenceNotFound:   "no payment with that reference and amount was found",
	service.KindAlreadyUsed:         "this payment was already used for another purchase",
	service.KindTicketConflict:      "some numbers were sold to another buyer",
	service.KindRateUnavailable:     "exchange rate unavailable, try again shortly",
	service.KindPersistence:         "could not record the sale, try again",
	service.KindCompensationFailure: "the purchase could not be completed and is under review",
}

// settlementError writes the error envelope.  Internal causes are logged,
// never returned to the buyer.
func (h *SettlementHandler) settlementError(c echo.Context, err error) error {
	var se *service.SettlementError
	if !errors.As(err, &se) {
		logger.For(c.Request().Context(), h.Log).Error("settlement: unexpected error", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal", "message": "internal error"})
	}

	status := statusFor(se.Kind)
	msg := se.Message
	if msg == "" || status >= http.StatusInternalServerError {
		msg = defaultMessages[se.Kind]
	}
	body := echo.Map{"error": string(se.Kind), "message": msg}
	if len(se.Numbers) > 0 {
		body["numbers"] = se.Numbers
	}
	if se.SaleID != 0 {
		body["sale_id"] = se.SaleID
	}
	if status >= http.StatusInternalServerError {
		logger.For(c.Request().Context(), h.Log).Error("settlement failed", zap.String("kind", string(se.Kind)), zap.Error(err))
	}
	return c.JSON(status, body)
}
