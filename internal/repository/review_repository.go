package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/jmoiron/sqlx"
)

// ReviewRepo stores settlement_reviews: sales whose rollback failed and
// which must be repaired by the reconciler or an operator.
type ReviewRepo struct {
	db *sqlx.DB
}

func NewReviewRepo(db *sqlx.DB) *ReviewRepo { return &ReviewRepo{db: db} }

const reviewColumns = `id, sale_id, ledger_entry_id, reason, status, attempts, last_error, note, created_at, resolved_at`

// maxReviewText matches the VARCHAR(512) text columns.
const maxReviewText = 512

func clip(s string) string {
	if len(s) > maxReviewText {
		return s[:maxReviewText]
	}
	return s
}

// Flag opens a review for the sale and returns its id.
func (r *ReviewRepo) Flag(ctx context.Context, saleID, ledgerEntryID uint64, reason string) (uint64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO settlement_reviews (sale_id, ledger_entry_id, reason, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		saleID, ledgerEntryID, clip(reason), model.ReviewOpen, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("review flag sale %d: %w", saleID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("review flag sale %d: %w", saleID, err)
	}
	return uint64(id), nil
}

// Get loads one review.
func (r *ReviewRepo) Get(ctx context.Context, id uint64) (*model.Review, error) {
	var rv model.Review
	err := sqlx.GetContext(ctx, r.db, &rv, `SELECT `+reviewColumns+` FROM settlement_reviews WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("review get %d: %w", id, err)
	}
	return &rv, nil
}

// List returns reviews in the given status (all when empty), oldest first.
func (r *ReviewRepo) List(ctx context.Context, status string, limit int) ([]model.Review, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT ` + reviewColumns + ` FROM settlement_reviews`
	args := []interface{}{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit)
	out := []model.Review{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q, args...); err != nil {
		return nil, fmt.Errorf("review list: %w", err)
	}
	return out, nil
}

// ListOpen returns open reviews, oldest first.
func (r *ReviewRepo) ListOpen(ctx context.Context, limit int) ([]model.Review, error) {
	return r.List(ctx, model.ReviewOpen, limit)
}

// Resolve closes an open review.  ErrConflict when the review is missing
// or already resolved.
func (r *ReviewRepo) Resolve(ctx context.Context, id uint64, note string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE settlement_reviews SET status = ?, note = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		model.ReviewResolved, clip(note), time.Now().UTC(), id, model.ReviewOpen)
	if err != nil {
		return fmt.Errorf("review resolve %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// RecordAttempt counts a failed repair attempt and keeps its error.
func (r *ReviewRepo) RecordAttempt(ctx context.Context, id uint64, lastErr string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE settlement_reviews SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		clip(lastErr), id)
	if err != nil {
		return fmt.Errorf("review attempt %d: %w", id, err)
	}
	return nil
}
