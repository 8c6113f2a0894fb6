package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

// SaleLister finds the sales of one buyer.
type SaleLister interface {
	ListByNationalID(ctx context.Context, nationalID string) ([]model.Sale, error)
}

// SaleHandler lets a buyer look up their purchases by national id.
type SaleHandler struct {
	Sales SaleLister
	Log   *zap.Logger
}

func NewSaleHandler(sales SaleLister, log *zap.Logger) *SaleHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SaleHandler{Sales: sales, Log: log}
}

// ByNationalID handles GET /v1/sales?national_id=V-12345678.
func (h *SaleHandler) ByNationalID(c echo.Context) error {
	id, err := model.NormalizeNationalID(c.QueryParam("national_id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid national_id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sales, err := h.Sales.ListByNationalID(ctx, id)
	if err != nil {
		h.Log.Error("list sales", zap.String("national_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"national_id": id, "items": sales})
}
