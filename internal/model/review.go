package model

import "time"

const (
	ReviewOpen     = "OPEN"
	ReviewResolved = "RESOLVED"
)

// Review flags a sale whose rollback could not be completed so that the
// reconciler, or an operator, can restore consistency between the sale,
// its ledger claim and its sold tickets.
type Review struct {
	ID            uint64     `db:"id" json:"id"`
	SaleID        uint64     `db:"sale_id" json:"sale_id"`
	LedgerEntryID uint64     `db:"ledger_entry_id" json:"ledger_entry_id"`
	Reason        string     `db:"reason" json:"reason"`
	Status        string     `db:"status" json:"status"`
	Attempts      int        `db:"attempts" json:"attempts"`
	LastError     string     `db:"last_error" json:"last_error,omitempty"`
	Note          string     `db:"note" json:"note,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt    *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}
