// Package service holds the settlement saga and the reconciler that repairs
// what a failed rollback leaves behind.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/config"
	"github.com/iliyamo/raffle-settlement/internal/logger"
	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/notify"
	"github.com/iliyamo/raffle-settlement/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerStore is the part of the payment ledger the saga needs.
type LedgerStore interface {
	FindMatch(ctx context.Context, suffix string, amount decimal.Decimal, since time.Time) (*model.LedgerEntry, error)
	Claim(ctx context.Context, id, saleID uint64) (bool, error)
	Release(ctx context.Context, id, saleID uint64) (bool, error)
}

// SaleStore creates and removes sales.
type SaleStore interface {
	Create(ctx context.Context, s *model.Sale) error
	Delete(ctx context.Context, id uint64) (bool, error)
}

// TicketStore is the sold-ticket inventory.  InsertBatch must be all or
// nothing and must report a number owned by another sale as
// repository.ErrTicketTaken.
type TicketStore interface {
	FindSold(ctx context.Context, nums []model.TicketNumber) ([]model.TicketNumber, error)
	InsertBatch(ctx context.Context, saleID uint64, nationalID string, nums []model.TicketNumber, at time.Time) error
	DeleteBySale(ctx context.Context, saleID uint64) (int64, error)
}

// ReviewFlagger opens a review for a sale whose rollback failed.
type ReviewFlagger interface {
	Flag(ctx context.Context, saleID, ledgerEntryID uint64, reason string) (uint64, error)
}

// RateProvider returns the exchange rate for a currency pair.
type RateProvider interface {
	GetRate(ctx context.Context, pair string) (decimal.Decimal, error)
}

// Notifier delivers the buyer confirmation.  Best effort.
type Notifier interface {
	Notify(ctx context.Context, phone string, data notify.TemplateData) error
}

// SoldFeed broadcasts newly sold numbers to connected boards.
type SoldFeed interface {
	PublishSold(ctx context.Context, saleID uint64, nums []model.TicketNumber) error
}

// SettlerDeps groups the collaborators of a Settler.  Notifier and Feed
// may be nil.
type SettlerDeps struct {
	Ledger   LedgerStore
	Sales    SaleStore
	Tickets  TicketStore
	Reviews  ReviewFlagger
	Rates    RateProvider
	Notifier Notifier
	Feed     SoldFeed
}

// SettleRequest is a buyer's claim that a payment covers a selection.
type SettleRequest struct {
	Numbers           []model.TicketNumber
	Buyer             model.BuyerInfo
	DeclaredAmount    decimal.Decimal
	DeclaredReference string
}

// Settler turns a reported bank payment into a confirmed sale.  It holds no
// locks; concurrent settlements are arbitrated by the unique ticket index
// and the conditional ledger claim.
type Settler struct {
	deps SettlerDeps
	cfg  config.SettlementConfig
	refs ReferencePolicy
	log  *zap.Logger
	now  func() time.Time

	wg sync.WaitGroup
}

// NewSettler wires a Settler.
func NewSettler(deps SettlerDeps, cfg config.SettlementConfig, log *zap.Logger) *Settler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Settler{
		deps: deps,
		cfg:  cfg,
		refs: ReferencePolicy{MinDigits: cfg.ReferenceMinDigits},
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for the ledger window and timestamps.
func (s *Settler) WithClock(now func() time.Time) *Settler {
	s.now = now
	return s
}

// Wait blocks until pending post-sale side effects have finished.
func (s *Settler) Wait() { s.wg.Wait() }

// Quote prices count tickets at the current rate.
func (s *Settler) Quote(ctx context.Context, count int) (Quote, error) {
	if count < 1 || count > model.PoolSize {
		return Quote{}, newError(KindInvalidRequest, fmt.Sprintf("count must be between 1 and %d", model.PoolSize), nil)
	}
	rate, err := s.rate(ctx)
	if err != nil {
		return Quote{}, err
	}
	return NewQuote(count, s.cfg.UnitPrice, rate), nil
}

func (s *Settler) rate(ctx context.Context) (decimal.Decimal, error) {
	rate, err := s.deps.Rates.GetRate(ctx, s.cfg.CurrencyPair)
	if err != nil {
		return decimal.Zero, newError(KindRateUnavailable, "exchange rate unavailable, try again shortly", err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, newError(KindRateUnavailable, "exchange rate unavailable, try again shortly",
			fmt.Errorf("non-positive rate %s", rate))
	}
	return rate, nil
}

// Settle validates the reported payment and commits the sale across the
// sale store, the ledger and the ticket inventory.  Any error leaves no
// trace of the attempt behind, except when the rollback itself fails: the
// sale is then flagged for review and a compensation_failure error carries
// its id.
func (s *Settler) Settle(ctx context.Context, req SettleRequest) (sale *model.Sale, err error) {
	started := time.Now()
	log := logger.For(ctx, s.log)
	defer func() {
		metrics.RecordSettlement(string(KindOf(err)), started)
	}()

	nums, err := model.NormalizeSelection(req.Numbers)
	if err != nil {
		return nil, newError(KindInvalidRequest, err.Error(), err)
	}
	buyer := req.Buyer
	if err := buyer.Validate(); err != nil {
		return nil, newError(KindInvalidRequest, err.Error(), err)
	}
	ref, err := s.refs.Normalize(req.DeclaredReference)
	if err != nil {
		return nil, newError(KindInvalidRequest, err.Error(), err)
	}
	log = log.With(zap.String("reference_suffix", ref), zap.String("tickets", model.JoinNumbers(nums)))

	rate, err := s.rate(ctx)
	if err != nil {
		log.Warn("settle: rate lookup failed", zap.Error(err))
		return nil, err
	}

	// 1. amount integrity
	quote := NewQuote(len(nums), s.cfg.UnitPrice, rate)
	if !quote.Matches(req.DeclaredAmount, s.cfg.AmountEpsilon) {
		log.Info("settle: amount mismatch",
			zap.String("declared", req.DeclaredAmount.StringFixed(2)),
			zap.String("expected", quote.AmountLocal.StringFixed(2)))
		return nil, newError(KindAmountMismatch,
			fmt.Sprintf("expected %s for %d ticket(s) at rate %s", quote.AmountLocal.StringFixed(2), len(nums), rate), nil)
	}

	// 2. ledger lookup
	now := s.now()
	entry, err := s.deps.Ledger.FindMatch(ctx, ref, quote.AmountLocal, now.Add(-s.cfg.LedgerWindow))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindReferenceNotFound,
			"no matching payment found, check the reference and amount", nil)
	}
	if err != nil {
		log.Error("settle: ledger lookup failed", zap.Error(err))
		return nil, newError(KindPersistence, "payment lookup failed", err)
	}
	if entry.Consumed {
		return nil, newError(KindAlreadyUsed, "this payment was already used for another purchase", nil)
	}

	// 3. authoritative availability check
	sold, err := s.deps.Tickets.FindSold(ctx, nums)
	if err != nil {
		log.Error("settle: availability check failed", zap.Error(err))
		return nil, newError(KindPersistence, "availability check failed", err)
	}
	if len(sold) > 0 {
		return nil, conflictError(sold)
	}

	var undo undoStack

	// A. create sale
	sale = &model.Sale{
		Buyer:         buyer,
		TicketNumbers: nums,
		AmountForeign: quote.AmountForeign,
		ExchangeRate:  rate,
		AmountLocal:   quote.AmountLocal,
		Reference:     ref,
		LedgerEntryID: entry.ID,
		Status:        model.SaleStatusPaid,
		CreatedAt:     now,
	}
	if err := s.deps.Sales.Create(ctx, sale); err != nil {
		log.Error("settle: create sale failed", zap.Error(err))
		return nil, newError(KindPersistence, "could not record the sale", err)
	}
	saleID := sale.ID
	log = log.With(zap.Uint64("sale_id", saleID), zap.Uint64("ledger_entry_id", entry.ID))
	undo.push("sale", func(ctx context.Context) error {
		_, err := s.deps.Sales.Delete(ctx, saleID)
		return err
	})
	releaseClaim := func(ctx context.Context) error {
		_, err := s.deps.Ledger.Release(ctx, entry.ID, saleID)
		return err
	}

	// B. claim the payment
	claimed, err := s.deps.Ledger.Claim(ctx, entry.ID, saleID)
	if err != nil {
		// the update may have applied before the error surfaced
		undo.push("ledger", releaseClaim)
		log.Error("settle: ledger claim failed", zap.Error(err))
		return nil, s.rollback(ctx, log, undo, saleID, entry.ID,
			newError(KindPersistence, "could not claim the payment", err))
	}
	if !claimed {
		log.Info("settle: payment claimed concurrently")
		return nil, s.rollback(ctx, log, undo, saleID, entry.ID,
			newError(KindAlreadyUsed, "this payment was already used for another purchase", nil))
	}
	undo.push("ledger", releaseClaim)

	// C. reserve tickets
	if err := s.deps.Tickets.InsertBatch(ctx, saleID, buyer.NationalID, nums, now); err != nil {
		undo.push("tickets", func(ctx context.Context) error {
			_, err := s.deps.Tickets.DeleteBySale(ctx, saleID)
			return err
		})
		if !errors.Is(err, repository.ErrTicketTaken) {
			log.Error("settle: ticket insert failed", zap.Error(err))
			return nil, s.rollback(ctx, log, undo, saleID, entry.ID,
				newError(KindPersistence, "could not reserve the tickets", err))
		}
		log.Info("settle: lost ticket race")
		rbErr := s.rollback(ctx, log, undo, saleID, entry.ID, nil)
		if rbErr != nil {
			return nil, rbErr
		}
		return nil, conflictError(s.conflicting(ctx, log, nums))
	}

	log.Info("settle: sale committed", zap.String("amount_local", quote.AmountLocal.StringFixed(2)))
	s.afterCommit(ctx, sale)
	return sale, nil
}

// conflicting re-reads which of nums are owned by other sales after a lost
// race.  When the owner vanished in between, the whole selection is
// reported.
func (s *Settler) conflicting(ctx context.Context, log *zap.Logger, nums []model.TicketNumber) []model.TicketNumber {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()
	sold, err := s.deps.Tickets.FindSold(cctx, nums)
	if err != nil {
		log.Warn("settle: conflict re-check failed", zap.Error(err))
		return nums
	}
	if len(sold) == 0 {
		return nums
	}
	return sold
}

type undoStep struct {
	step string
	fn   func(ctx context.Context) error
}

// undoStack holds the compensations of committed steps, newest last.
type undoStack []undoStep

func (u *undoStack) push(step string, fn func(ctx context.Context) error) {
	*u = append(*u, undoStep{step: step, fn: fn})
}

// rollback runs the compensations newest first and returns cause.  The
// rollback runs on a context detached from the request so a cancelled
// caller still gets cleaned up.  If a compensation fails the remaining
// ones are skipped, the sale is flagged for review and a
// compensation_failure error is returned instead.
func (s *Settler) rollback(ctx context.Context, log *zap.Logger, undo undoStack, saleID, entryID uint64, cause *SettlementError) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()

	for i := len(undo) - 1; i >= 0; i-- {
		st := undo[i]
		err := st.fn(cctx)
		metrics.RecordCompensation(st.step, err == nil)
		if err == nil {
			continue
		}
		log.Error("settle: compensation failed", zap.String("step", st.step), zap.Error(err))
		reason := fmt.Sprintf("rollback of %s failed: %v", st.step, err)
		if cause != nil {
			reason = fmt.Sprintf("%s after %s", reason, cause.Kind)
		} else {
			reason = fmt.Sprintf("%s after %s", reason, KindTicketConflict)
		}
		if s.deps.Reviews != nil {
			if id, ferr := s.deps.Reviews.Flag(cctx, saleID, entryID, reason); ferr != nil {
				log.Error("settle: could not flag sale for review", zap.Error(ferr))
			} else {
				log.Warn("settle: sale flagged for review", zap.Uint64("review_id", id))
			}
		}
		return &SettlementError{
			Kind:    KindCompensationFailure,
			Message: "the purchase could not be completed and needs operator review",
			SaleID:  saleID,
			Err:     err,
		}
	}
	if cause == nil {
		return nil
	}
	return cause
}

// afterCommit publishes the sold numbers and notifies the buyer in the
// background.  Failures are logged only; the sale is already final.
func (s *Settler) afterCommit(ctx context.Context, sale *model.Sale) {
	if s.deps.Feed == nil && s.deps.Notifier == nil {
		return
	}
	log := logger.For(ctx, s.log).With(zap.Uint64("sale_id", sale.ID))
	nctx := context.WithoutCancel(ctx)
	data := notify.TemplateData{
		SaleID:      sale.ID,
		BuyerName:   sale.Buyer.Name,
		Numbers:     sale.TicketNumbers,
		AmountLocal: sale.AmountLocal,
		Reference:   sale.Reference,
	}
	phone := sale.Buyer.Phone
	nums := append([]model.TicketNumber(nil), sale.TicketNumbers...)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(nctx, s.cfg.NotifyTimeout)
		defer cancel()
		if s.deps.Feed != nil {
			if err := s.deps.Feed.PublishSold(ctx, data.SaleID, nums); err != nil {
				log.Warn("settle: feed publish failed", zap.Error(err))
			}
		}
		if s.deps.Notifier != nil {
			if err := s.deps.Notifier.Notify(ctx, phone, data); err != nil {
				log.Warn("settle: buyer notification failed", zap.Error(err))
			}
		}
	}()
}
