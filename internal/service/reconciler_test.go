package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newReconciler(t *testing.T, st *memStore) *Reconciler {
	r := NewReconciler(memLedger{st}, memSales{st}, memTickets{st}, memReviews{st}, 10*time.Minute, zaptest.NewLogger(t))
	r.now = func() time.Time { return testNow }
	return r
}

// seedSale writes a sale, optionally claims its entry and inserts its
// tickets, bypassing the saga.
func seedSale(t *testing.T, st *memStore, entryID uint64, created time.Time, claim, tickets bool, nums ...model.TicketNumber) uint64 {
	t.Helper()
	ctx := context.Background()
	s := &model.Sale{Buyer: buyer("V-1"), TicketNumbers: nums, LedgerEntryID: entryID, Status: model.SaleStatusPaid, CreatedAt: created, AmountLocal: decimal.NewFromInt(300)}
	require.NoError(t, memSales{st}.Create(ctx, s))
	if claim {
		ok, err := memLedger{st}.Claim(ctx, entryID, s.ID)
		require.NoError(t, err)
		require.True(t, ok)
	}
	if tickets {
		require.NoError(t, memTickets{st}.InsertBatch(ctx, s.ID, "V-1", nums, created))
	}
	return s.ID
}

func TestReconcileRollsBackIncompleteReview(t *testing.T) {
	st := newMemStore()
	entryID := st.addLedger("000091234", "300.00", testNow.Add(-time.Hour))
	saleID := seedSale(t, st, entryID, testNow.Add(-time.Minute), true, false, 5)
	_, err := memReviews{st}.Flag(context.Background(), saleID, entryID, "rollback of ledger failed")
	require.NoError(t, err)

	rep, err := newReconciler(t, st).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ReviewsRolledBack)
	assert.Empty(t, st.openReviews())
	assert.Equal(t, 0, st.saleCount())
	assert.False(t, st.entry(entryID).Consumed)
	assert.Equal(t, NoteRolledBack, st.reviews[1].Note)
}

func TestReconcileKeepsCompleteSale(t *testing.T) {
	st := newMemStore()
	entryID := st.addLedger("000091234", "600.00", testNow.Add(-time.Hour))
	saleID := seedSale(t, st, entryID, testNow.Add(-time.Minute), true, true, 5, 6)
	_, err := memReviews{st}.Flag(context.Background(), saleID, entryID, "timeout during insert")
	require.NoError(t, err)

	rep, err := newReconciler(t, st).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ReviewsConsistent)
	assert.Equal(t, 1, st.saleCount())
	assert.Equal(t, 2, st.ticketCount())
	assert.True(t, st.entry(entryID).ClaimedBy(saleID))
	assert.Equal(t, NoteConsistent, st.reviews[1].Note)
}

func TestReconcileSweepsOrphansAndStaleSales(t *testing.T) {
	st := newMemStore()
	ctx := context.Background()

	// claim whose sale vanished
	orphanEntry := st.addLedger("11110000", "300.00", testNow.Add(-time.Hour))
	_, err := memLedger{st}.Claim(ctx, orphanEntry, 404)
	require.NoError(t, err)

	// tickets whose sale vanished
	require.NoError(t, memTickets{st}.InsertBatch(ctx, 405, "V-9", []model.TicketNumber{900, 901}, testNow))

	// sale left without tickets long ago, and a fresh one still in flight
	staleEntry := st.addLedger("22220000", "300.00", testNow.Add(-time.Hour))
	staleID := seedSale(t, st, staleEntry, testNow.Add(-time.Hour), true, false, 7)
	freshEntry := st.addLedger("33330000", "300.00", testNow.Add(-time.Hour))
	freshID := seedSale(t, st, freshEntry, testNow.Add(-time.Minute), true, false, 8)

	rep, err := newReconciler(t, st).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.ClaimsReleased)
	assert.Equal(t, int64(2), rep.TicketsDeleted)
	assert.Equal(t, 1, rep.StaleSalesRepaired)

	assert.False(t, st.entry(orphanEntry).Consumed)
	assert.Equal(t, 0, st.ticketCount())
	assert.False(t, st.entry(staleEntry).Consumed)
	_, err = memSales{st}.Get(ctx, staleID)
	assert.Error(t, err)
	_, err = memSales{st}.Get(ctx, freshID)
	assert.NoError(t, err)
	assert.True(t, st.entry(freshEntry).ClaimedBy(freshID))
}

func TestReconcileRecordsFailedAttempt(t *testing.T) {
	st := newMemStore()
	entryID := st.addLedger("000091234", "300.00", testNow.Add(-time.Hour))
	saleID := seedSale(t, st, entryID, testNow.Add(-time.Minute), true, false, 5)
	_, err := memReviews{st}.Flag(context.Background(), saleID, entryID, "x")
	require.NoError(t, err)
	st.failRelease = errors.New("still down")

	rep, err := newReconciler(t, st).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ReviewsFailed)
	open := st.openReviews()
	require.Len(t, open, 1)
	assert.Equal(t, 1, open[0].Attempts)
	assert.Contains(t, open[0].LastError, "still down")

	st.failRelease = nil
	rep, err = newReconciler(t, st).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ReviewsRolledBack)
	assert.Empty(t, st.openReviews())
}

func TestSagaCompensationFailureIsRepaired(t *testing.T) {
	h := newHarness(t, "100")
	entryID := h.store.addLedger("000091234", "300.00", testNow.Add(-time.Hour))
	h.store.failInsert = errStoreDown
	h.store.failDeleteSale = errStoreDown

	_, err := h.settler.Settle(context.Background(), request("300.00", "1234", 5))
	require.ErrorIs(t, err, ErrCompensationFailure)
	assert.Equal(t, 1, h.store.saleCount())

	h.store.failInsert = nil
	h.store.failDeleteSale = nil
	_, err = newReconciler(t, h.store).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, h.store.saleCount())
	assert.False(t, h.store.entry(entryID).Consumed)
	assert.Empty(t, h.store.openReviews())

	// the payment can now be used again
	_, err = h.settler.Settle(context.Background(), request("300.00", "1234", 5))
	assert.NoError(t, err)
}

func TestReconcileRunStopsOnCancel(t *testing.T) {
	st := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newReconciler(t, st).Run(ctx, 10*time.Millisecond) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
