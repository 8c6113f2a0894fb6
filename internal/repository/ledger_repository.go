package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// LedgerRepo reads and claims payment_ledger rows.  Rows are inserted by
// the bank-notification ingestion service (or an operator); this service
// only flips the consumed/sale_id pair.
type LedgerRepo struct {
	db *sqlx.DB
}

func NewLedgerRepo(db *sqlx.DB) *LedgerRepo { return &LedgerRepo{db: db} }

const ledgerColumns = `id, reference, amount, bank, sender, created_at, consumed, sale_id`

// FindMatch returns the ledger entry whose reference ends with suffix, whose
// amount equals amount and which was created at or after since.  The oldest
// match wins even when it is already consumed; the caller reports that as
// already used.  ErrNotFound when none match.
func (r *LedgerRepo) FindMatch(ctx context.Context, suffix string, amount decimal.Decimal, since time.Time) (*model.LedgerEntry, error) {
	q := `SELECT ` + ledgerColumns + ` FROM payment_ledger
	      WHERE reference LIKE ? AND amount = ? AND created_at >= ?
	      ORDER BY created_at ASC, id ASC
	      LIMIT 1`
	var e model.LedgerEntry
	err := sqlx.GetContext(ctx, r.db, &e, q, "%"+escapeLike(suffix), amount.StringFixed(2), since.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger find match: %w", err)
	}
	return &e, nil
}

// Get loads one entry by id.
func (r *LedgerRepo) Get(ctx context.Context, id uint64) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := sqlx.GetContext(ctx, r.db, &e, `SELECT `+ledgerColumns+` FROM payment_ledger WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger get %d: %w", id, err)
	}
	return &e, nil
}

// Claim marks the entry consumed by saleID only if it is still unconsumed.
// It returns false when another sale got there first.
func (r *LedgerRepo) Claim(ctx context.Context, id, saleID uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_ledger SET consumed = 1, sale_id = ? WHERE id = ? AND consumed = 0`,
		saleID, id)
	if err != nil {
		return false, fmt.Errorf("ledger claim %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger claim %d: %w", id, err)
	}
	return n == 1, nil
}

// Release reverts a claim held by saleID.  A claim held by another sale,
// or no claim at all, is left untouched and reported as false.
func (r *LedgerRepo) Release(ctx context.Context, id, saleID uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_ledger SET consumed = 0, sale_id = NULL WHERE id = ? AND sale_id = ?`,
		id, saleID)
	if err != nil {
		return false, fmt.Errorf("ledger release %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger release %d: %w", id, err)
	}
	return n == 1, nil
}

// Insert records a payment notification entered by an operator.  The id
// and created_at of e are filled in.
func (r *LedgerRepo) Insert(ctx context.Context, e *model.LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_ledger (reference, amount, bank, sender, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.Reference, e.Amount.StringFixed(2), e.Bank, e.Sender, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("ledger insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("ledger insert: %w", err)
	}
	e.ID = uint64(id)
	e.Consumed = false
	e.SaleID = nil
	return nil
}

// ReleaseOrphanClaims frees every claim whose sale row no longer exists
// and returns how many entries were released.
func (r *LedgerRepo) ReleaseOrphanClaims(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_ledger l
		 LEFT JOIN sales s ON s.id = l.sale_id
		 SET l.consumed = 0, l.sale_id = NULL
		 WHERE l.consumed = 1 AND s.id IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("ledger release orphans: %w", err)
	}
	return res.RowsAffected()
}
