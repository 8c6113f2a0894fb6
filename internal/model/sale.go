package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleStatusPaid is the only status a persisted sale can carry.  A sale
// that fails later in settlement is deleted rather than moved to another
// status.
const SaleStatusPaid = "paid"

// Sale is the confirmed purchase of one or more ticket numbers against a
// single payment ledger entry.
//
// Fields:
//
//	ID             – sales.id.
//	Buyer          – contact details captured at checkout.
//	TicketNumbers  – numbers the buyer declared, ascending.
//	AmountForeign  – count * unit price, in the price currency.
//	ExchangeRate   – rate used to convert the price for this sale.
//	AmountLocal    – expected local amount, rounded to 2 places.
//	Reference      – reference suffix the buyer reported.
//	LedgerEntryID  – payment_ledger row claimed by this sale.
//	Status         – always SaleStatusPaid.
//	CreatedAt      – creation timestamp (UTC).
type Sale struct {
	ID            uint64          `json:"id"`
	Buyer         BuyerInfo       `json:"buyer"`
	TicketNumbers []TicketNumber  `json:"ticket_numbers"`
	AmountForeign decimal.Decimal `json:"amount_foreign"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	AmountLocal   decimal.Decimal `json:"amount_local"`
	Reference     string          `json:"reference"`
	LedgerEntryID uint64          `json:"ledger_entry_id"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}
