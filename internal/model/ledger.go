package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one bank payment notification, inserted by the ingestion
// collaborator before any sale refers to it.  Consumed is true exactly
// when SaleID is set.  The settlement saga claims an entry once and may
// release it once during compensation.
//
// Fields:
//
//	ID        – payment_ledger.id.
//	Reference – bank operation number; banks truncate it, so only the
//	            trailing digits are reliable.
//	Amount    – amount received in local currency.
//	Bank      – originating bank label (informational).
//	Sender    – sender name or phone (informational).
//	CreatedAt – when the notification was ingested (UTC).
//	Consumed  – whether a sale owns this payment.
//	SaleID    – owning sale, nil while unconsumed.
type LedgerEntry struct {
	ID        uint64          `db:"id" json:"id"`
	Reference string          `db:"reference" json:"reference"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Bank      string          `db:"bank" json:"bank"`
	Sender    string          `db:"sender" json:"sender"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	Consumed  bool            `db:"consumed" json:"consumed"`
	SaleID    *uint64         `db:"sale_id" json:"sale_id,omitempty"`
}

// ClaimedBy reports whether the entry is consumed by the given sale.
func (e LedgerEntry) ClaimedBy(saleID uint64) bool {
	return e.Consumed && e.SaleID != nil && *e.SaleID == saleID
}
