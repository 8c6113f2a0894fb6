package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/jmoiron/sqlx"
)

// TicketRepo manages sold_tickets.  A number is available exactly when no
// row carries it; the unique index on number is the final arbiter of who
// owns it.
type TicketRepo struct {
	db *sqlx.DB
}

func NewTicketRepo(db *sqlx.DB) *TicketRepo { return &TicketRepo{db: db} }

// FindSold returns which of nums are already sold, ascending.
func (r *TicketRepo) FindSold(ctx context.Context, nums []model.TicketNumber) ([]model.TicketNumber, error) {
	if len(nums) == 0 {
		return []model.TicketNumber{}, nil
	}
	q, args, err := sqlx.In(`SELECT number FROM sold_tickets WHERE number IN (?) ORDER BY number`, nums)
	if err != nil {
		return nil, fmt.Errorf("tickets find sold: %w", err)
	}
	out := []model.TicketNumber{}
	if err := sqlx.SelectContext(ctx, r.db, &out, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("tickets find sold: %w", err)
	}
	return out, nil
}

// InsertBatch records nums as sold to saleID in a single statement, so
// either every row lands or none does.  A unique-key violation is
// reported as ErrTicketTaken.
func (r *TicketRepo) InsertBatch(ctx context.Context, saleID uint64, nationalID string, nums []model.TicketNumber, at time.Time) error {
	if len(nums) == 0 {
		return nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	query := `INSERT INTO sold_tickets (number, national_id, sale_id, created_at) VALUES `
	args := make([]interface{}, 0, len(nums)*4)
	for i, n := range nums {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, uint16(n), nationalID, saleID, at.UTC())
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("tickets insert for sale %d: %w", saleID, ErrTicketTaken)
		}
		return fmt.Errorf("tickets insert for sale %d: %w", saleID, err)
	}
	return nil
}

// DeleteBySale removes every row owned by saleID and returns the count.
func (r *TicketRepo) DeleteBySale(ctx context.Context, saleID uint64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sold_tickets WHERE sale_id = ?`, saleID)
	if err != nil {
		return 0, fmt.Errorf("tickets delete for sale %d: %w", saleID, err)
	}
	return res.RowsAffected()
}

// NumbersBySale lists the numbers owned by saleID, ascending.
func (r *TicketRepo) NumbersBySale(ctx context.Context, saleID uint64) ([]model.TicketNumber, error) {
	out := []model.TicketNumber{}
	err := sqlx.SelectContext(ctx, r.db, &out,
		`SELECT number FROM sold_tickets WHERE sale_id = ? ORDER BY number`, saleID)
	if err != nil {
		return nil, fmt.Errorf("tickets for sale %d: %w", saleID, err)
	}
	return out, nil
}

// ListSold returns every sold number, ascending.
func (r *TicketRepo) ListSold(ctx context.Context) ([]model.TicketNumber, error) {
	out := []model.TicketNumber{}
	if err := sqlx.SelectContext(ctx, r.db, &out, `SELECT number FROM sold_tickets ORDER BY number`); err != nil {
		return nil, fmt.Errorf("tickets list sold: %w", err)
	}
	return out, nil
}

// DeleteOrphans removes rows whose sale no longer exists.
func (r *TicketRepo) DeleteOrphans(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE t FROM sold_tickets t LEFT JOIN sales s ON s.id = t.sale_id WHERE s.id IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("tickets delete orphans: %w", err)
	}
	return res.RowsAffected()
}
