// Package queue carries sale confirmations over RabbitMQ from the
// settlement path to the notification worker.
package queue

import (
	"time"

	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/shopspring/decimal"
)

// SaleConfirmedEvent is published once a sale is committed.  It holds
// everything the notification worker needs without reading the database.
type SaleConfirmedEvent struct {
	SaleID      uint64               `json:"sale_id"`
	Phone       string               `json:"phone"`
	BuyerName   string               `json:"buyer_name"`
	Numbers     []model.TicketNumber `json:"numbers"`
	AmountLocal decimal.Decimal      `json:"amount_local"`
	Reference   string               `json:"reference"`
	ConfirmedAt time.Time            `json:"confirmed_at"`
}
