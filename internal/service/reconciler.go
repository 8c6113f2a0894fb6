package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/repository"
	"go.uber.org/zap"
)

// ReconcileLedger is the ledger access the reconciler needs.
type ReconcileLedger interface {
	Get(ctx context.Context, id uint64) (*model.LedgerEntry, error)
	Release(ctx context.Context, id, saleID uint64) (bool, error)
	ReleaseOrphanClaims(ctx context.Context) (int64, error)
}

// ReconcileSales is the sale access the reconciler needs.
type ReconcileSales interface {
	Get(ctx context.Context, id uint64) (*model.Sale, error)
	Delete(ctx context.Context, id uint64) (bool, error)
	ListStaleWithoutTickets(ctx context.Context, olderThan time.Time) ([]model.Sale, error)
}

// ReconcileTickets is the sold-ticket access the reconciler needs.
type ReconcileTickets interface {
	NumbersBySale(ctx context.Context, saleID uint64) ([]model.TicketNumber, error)
	DeleteBySale(ctx context.Context, saleID uint64) (int64, error)
	DeleteOrphans(ctx context.Context) (int64, error)
}

// ReviewStore lists and closes settlement reviews.
type ReviewStore interface {
	ListOpen(ctx context.Context, limit int) ([]model.Review, error)
	Resolve(ctx context.Context, id uint64, note string) error
	RecordAttempt(ctx context.Context, id uint64, lastErr string) error
}

// Report summarises one reconciliation pass.
type Report struct {
	ReviewsConsistent  int   `json:"reviews_consistent"`
	ReviewsRolledBack  int   `json:"reviews_rolled_back"`
	ReviewsFailed      int   `json:"reviews_failed"`
	ClaimsReleased     int64 `json:"claims_released"`
	TicketsDeleted     int64 `json:"tickets_deleted"`
	StaleSalesRepaired int   `json:"stale_sales_repaired"`
}

const (
	NoteConsistent = "consistent"
	NoteRolledBack = "rolled back"
)

// Reconciler restores consistency between sales, ledger claims and sold
// tickets after settlements whose rollback did not complete.
type Reconciler struct {
	ledger     ReconcileLedger
	sales      ReconcileSales
	tickets    ReconcileTickets
	reviews    ReviewStore
	staleAfter time.Duration
	log        *zap.Logger
	now        func() time.Time

	mu sync.Mutex
}

func NewReconciler(ledger ReconcileLedger, sales ReconcileSales, tickets ReconcileTickets, reviews ReviewStore, staleAfter time.Duration, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		ledger:     ledger,
		sales:      sales,
		tickets:    tickets,
		reviews:    reviews,
		staleAfter: staleAfter,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce performs one full pass.  Every stage runs even when an earlier
// one failed; the errors are joined.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rep Report
	var errs []error

	open, err := r.reviews.ListOpen(ctx, 100)
	if err != nil {
		errs = append(errs, fmt.Errorf("list reviews: %w", err))
	}
	for _, rv := range open {
		note, err := r.processReview(ctx, rv)
		if err != nil {
			rep.ReviewsFailed++
			r.log.Warn("reconcile: review repair failed", zap.Uint64("review_id", rv.ID), zap.Uint64("sale_id", rv.SaleID), zap.Error(err))
			if aerr := r.reviews.RecordAttempt(ctx, rv.ID, err.Error()); aerr != nil {
				errs = append(errs, fmt.Errorf("record attempt %d: %w", rv.ID, aerr))
			}
			continue
		}
		if note == NoteConsistent {
			rep.ReviewsConsistent++
		} else {
			rep.ReviewsRolledBack++
		}
		r.log.Info("reconcile: review resolved", zap.Uint64("review_id", rv.ID), zap.Uint64("sale_id", rv.SaleID), zap.String("note", note))
	}

	if n, err := r.ledger.ReleaseOrphanClaims(ctx); err != nil {
		errs = append(errs, err)
	} else {
		rep.ClaimsReleased = n
	}

	if n, err := r.tickets.DeleteOrphans(ctx); err != nil {
		errs = append(errs, err)
	} else {
		rep.TicketsDeleted = n
	}

	if r.staleAfter > 0 {
		stale, err := r.sales.ListStaleWithoutTickets(ctx, r.now().Add(-r.staleAfter))
		if err != nil {
			errs = append(errs, err)
		}
		for _, s := range stale {
			if err := r.rollbackSale(ctx, s.ID, s.LedgerEntryID); err != nil {
				errs = append(errs, fmt.Errorf("stale sale %d: %w", s.ID, err))
				continue
			}
			rep.StaleSalesRepaired++
			r.log.Info("reconcile: stale sale removed", zap.Uint64("sale_id", s.ID), zap.Uint64("ledger_entry_id", s.LedgerEntryID))
		}
	}

	metrics.RecordRepair("review_consistent", rep.ReviewsConsistent)
	metrics.RecordRepair("review_rolled_back", rep.ReviewsRolledBack)
	metrics.RecordRepair("orphan_claim", int(rep.ClaimsReleased))
	metrics.RecordRepair("orphan_ticket", int(rep.TicketsDeleted))
	metrics.RecordRepair("stale_sale", rep.StaleSalesRepaired)

	return rep, errors.Join(errs...)
}

// processReview resolves one review and returns the note it was closed
// with.
func (r *Reconciler) processReview(ctx context.Context, rv model.Review) (string, error) {
	sale, err := r.sales.Get(ctx, rv.SaleID)
	if errors.Is(err, repository.ErrNotFound) {
		sale = nil
	} else if err != nil {
		return "", err
	}
	entry, err := r.ledger.Get(ctx, rv.LedgerEntryID)
	if errors.Is(err, repository.ErrNotFound) {
		entry = nil
	} else if err != nil {
		return "", err
	}
	nums, err := r.tickets.NumbersBySale(ctx, rv.SaleID)
	if err != nil {
		return "", err
	}

	note := NoteRolledBack
	if sale != nil && entry != nil && entry.ClaimedBy(sale.ID) && len(nums) == len(sale.TicketNumbers) {
		note = NoteConsistent
	} else if err := r.rollbackSale(ctx, rv.SaleID, rv.LedgerEntryID); err != nil {
		return "", err
	}
	if err := r.reviews.Resolve(ctx, rv.ID, note); err != nil {
		return "", err
	}
	return note, nil
}

// rollbackSale undoes a sale in the saga's reverse order.  Every step is
// idempotent.
func (r *Reconciler) rollbackSale(ctx context.Context, saleID, entryID uint64) error {
	if _, err := r.tickets.DeleteBySale(ctx, saleID); err != nil {
		return fmt.Errorf("delete tickets: %w", err)
	}
	if entryID != 0 {
		if _, err := r.ledger.Release(ctx, entryID, saleID); err != nil {
			return fmt.Errorf("release claim: %w", err)
		}
	}
	if _, err := r.sales.Delete(ctx, saleID); err != nil {
		return fmt.Errorf("delete sale: %w", err)
	}
	return nil
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		rep, err := r.RunOnce(ctx)
		if err != nil {
			r.log.Error("reconcile: pass finished with errors", zap.Error(err), zap.Any("report", rep))
		} else {
			r.log.Debug("reconcile: pass finished", zap.Any("report", rep))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
