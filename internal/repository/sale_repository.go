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

// SaleRepo persists sales.  A sale row is written as the first commit step
// of a settlement and removed only when that settlement is rolled back.
type SaleRepo struct {
	db *sqlx.DB
}

func NewSaleRepo(db *sqlx.DB) *SaleRepo { return &SaleRepo{db: db} }

// saleRecord mirrors the sales table.  Ticket numbers are stored as the
// comma separated 3-digit list.
type saleRecord struct {
	ID            uint64          `db:"id"`
	BuyerName     string          `db:"buyer_name"`
	NationalID    string          `db:"national_id"`
	Phone         string          `db:"phone"`
	AltPhone      string          `db:"alt_phone"`
	Address       string          `db:"address"`
	TicketNumbers string          `db:"ticket_numbers"`
	AmountForeign decimal.Decimal `db:"amount_foreign"`
	ExchangeRate  decimal.Decimal `db:"exchange_rate"`
	AmountLocal   decimal.Decimal `db:"amount_local"`
	Reference     string          `db:"reference"`
	LedgerEntryID uint64          `db:"ledger_entry_id"`
	Status        string          `db:"status"`
	CreatedAt     time.Time       `db:"created_at"`
}

const saleColumns = `id, buyer_name, national_id, phone, alt_phone, address, ticket_numbers,
	amount_foreign, exchange_rate, amount_local, reference, ledger_entry_id, status, created_at`

func (rec saleRecord) toModel() (model.Sale, error) {
	nums, err := model.SplitNumbers(rec.TicketNumbers)
	if err != nil {
		return model.Sale{}, fmt.Errorf("sale %d ticket list: %w", rec.ID, err)
	}
	return model.Sale{
		ID: rec.ID,
		Buyer: model.BuyerInfo{
			Name:       rec.BuyerName,
			NationalID: rec.NationalID,
			Phone:      rec.Phone,
			AltPhone:   rec.AltPhone,
			Address:    rec.Address,
		},
		TicketNumbers: nums,
		AmountForeign: rec.AmountForeign,
		ExchangeRate:  rec.ExchangeRate,
		AmountLocal:   rec.AmountLocal,
		Reference:     rec.Reference,
		LedgerEntryID: rec.LedgerEntryID,
		Status:        rec.Status,
		CreatedAt:     rec.CreatedAt,
	}, nil
}

// Create inserts s and fills in its generated id.  Status defaults to paid
// and CreatedAt to the current UTC time when unset.
func (r *SaleRepo) Create(ctx context.Context, s *model.Sale) error {
	if s.Status == "" {
		s.Status = model.SaleStatusPaid
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO sales (buyer_name, national_id, phone, alt_phone, address, ticket_numbers,
	           amount_foreign, exchange_rate, amount_local, reference, ledger_entry_id, status, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		s.Buyer.Name, s.Buyer.NationalID, s.Buyer.Phone, s.Buyer.AltPhone, s.Buyer.Address,
		model.JoinNumbers(s.TicketNumbers),
		s.AmountForeign.StringFixed(2), s.ExchangeRate.String(), s.AmountLocal.StringFixed(2),
		s.Reference, s.LedgerEntryID, s.Status, s.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sale create: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sale create: %w", err)
	}
	s.ID = uint64(id)
	return nil
}

// Delete removes the sale.  It reports whether a row was deleted; deleting
// a sale that is already gone is not an error.
func (r *SaleRepo) Delete(ctx context.Context, id uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sales WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("sale delete %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sale delete %d: %w", id, err)
	}
	return n == 1, nil
}

// Get loads one sale.  ErrNotFound when it does not exist.
func (r *SaleRepo) Get(ctx context.Context, id uint64) (*model.Sale, error) {
	var rec saleRecord
	err := sqlx.GetContext(ctx, r.db, &rec, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sale get %d: %w", id, err)
	}
	s, err := rec.toModel()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListByNationalID returns the buyer's sales, newest first.
func (r *SaleRepo) ListByNationalID(ctx context.Context, nationalID string) ([]model.Sale, error) {
	return r.list(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE national_id = ? ORDER BY created_at DESC, id DESC`,
		nationalID)
}

// ListStaleWithoutTickets returns sales created before olderThan that own
// no sold-ticket rows.  Such a sale is the residue of a settlement whose
// rollback was interrupted.
func (r *SaleRepo) ListStaleWithoutTickets(ctx context.Context, olderThan time.Time) ([]model.Sale, error) {
	return r.list(ctx,
		`SELECT `+saleColumns+` FROM sales s
		 WHERE s.created_at < ?
		   AND NOT EXISTS (SELECT 1 FROM sold_tickets t WHERE t.sale_id = s.id)
		 ORDER BY s.id`,
		olderThan.UTC())
}

func (r *SaleRepo) list(ctx context.Context, q string, args ...interface{}) ([]model.Sale, error) {
	var recs []saleRecord
	if err := sqlx.SelectContext(ctx, r.db, &recs, q, args...); err != nil {
		return nil, fmt.Errorf("sale list: %w", err)
	}
	out := make([]model.Sale, 0, len(recs))
	for _, rec := range recs {
		s, err := rec.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
