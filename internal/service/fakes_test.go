package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/notify"
	"github.com/iliyamo/raffle-settlement/internal/repository"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for MySQL holding the same
// constraints the saga relies on: a unique sold-ticket number and a
// compare-and-swap ledger claim.
type memStore struct {
	mu sync.Mutex

	ledger  map[uint64]*model.LedgerEntry
	sales   map[uint64]*model.Sale
	tickets map[model.TicketNumber]model.SoldTicket
	reviews map[uint64]*model.Review

	nextLedger, nextSale, nextReview uint64

	failCreate        error
	failClaim         error
	failInsert        error
	failRelease       error
	failDeleteSale    error
	failDeleteTickets error
	failFindMatch     error

	// hooks run outside the lock
	afterFindSold func()
	beforeInsert  func()
}

func newMemStore() *memStore {
	return &memStore{
		ledger:  map[uint64]*model.LedgerEntry{},
		sales:   map[uint64]*model.Sale{},
		tickets: map[model.TicketNumber]model.SoldTicket{},
		reviews: map[uint64]*model.Review{},
	}
}

func (m *memStore) addLedger(ref, amount string, at time.Time) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLedger++
	m.ledger[m.nextLedger] = &model.LedgerEntry{
		ID:        m.nextLedger,
		Reference: ref,
		Amount:    decimal.RequireFromString(amount),
		CreatedAt: at,
	}
	return m.nextLedger
}

func (m *memStore) entry(id uint64) model.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *m.ledger[id]
	return e
}

func (m *memStore) saleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sales)
}

func (m *memStore) soldTo(n model.TicketNumber) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[n]
	return t.SaleID, ok
}

func (m *memStore) ticketCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets)
}

func (m *memStore) openReviews() []model.Review {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Review
	for _, r := range m.reviews {
		if r.Status == model.ReviewOpen {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memLedger struct{ *memStore }
type memSales struct{ *memStore }
type memTickets struct{ *memStore }
type memReviews struct{ *memStore }

func (m memLedger) FindMatch(ctx context.Context, suffix string, amount decimal.Decimal, since time.Time) (*model.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFindMatch != nil {
		return nil, m.failFindMatch
	}
	var cands []model.LedgerEntry
	for _, e := range m.ledger {
		if strings.HasSuffix(e.Reference, suffix) && e.Amount.Equal(amount) && !e.CreatedAt.Before(since) {
			cands = append(cands, *e)
		}
	}
	if len(cands) == 0 {
		return nil, repository.ErrNotFound
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	e := cands[0]
	return &e, nil
}

func (m memLedger) Claim(ctx context.Context, id, saleID uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failClaim != nil {
		return false, m.failClaim
	}
	e, ok := m.ledger[id]
	if !ok || e.Consumed {
		return false, nil
	}
	e.Consumed = true
	sid := saleID
	e.SaleID = &sid
	return true, nil
}

func (m memLedger) Release(ctx context.Context, id, saleID uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRelease != nil {
		return false, m.failRelease
	}
	e, ok := m.ledger[id]
	if !ok || e.SaleID == nil || *e.SaleID != saleID {
		return false, nil
	}
	e.Consumed = false
	e.SaleID = nil
	return true, nil
}

func (m memLedger) Get(ctx context.Context, id uint64) (*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ledger[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m memLedger) ReleaseOrphanClaims(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.ledger {
		if e.Consumed && e.SaleID != nil {
			if _, ok := m.sales[*e.SaleID]; !ok {
				e.Consumed = false
				e.SaleID = nil
				n++
			}
		}
	}
	return n, nil
}

func (m memSales) Create(ctx context.Context, s *model.Sale) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	m.nextSale++
	s.ID = m.nextSale
	cp := *s
	m.sales[s.ID] = &cp
	return nil
}

func (m memSales) Delete(ctx context.Context, id uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeleteSale != nil {
		return false, m.failDeleteSale
	}
	_, ok := m.sales[id]
	delete(m.sales, id)
	return ok, nil
}

func (m memSales) Get(ctx context.Context, id uint64) (*model.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m memSales) ListStaleWithoutTickets(ctx context.Context, olderThan time.Time) ([]model.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owned := map[uint64]bool{}
	for _, t := range m.tickets {
		owned[t.SaleID] = true
	}
	var out []model.Sale
	for _, s := range m.sales {
		if s.CreatedAt.Before(olderThan) && !owned[s.ID] {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memTickets) FindSold(ctx context.Context, nums []model.TicketNumber) ([]model.TicketNumber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	out := []model.TicketNumber{}
	for _, n := range nums {
		if _, ok := m.tickets[n]; ok {
			out = append(out, n)
		}
	}
	hook := m.afterFindSold
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (m memTickets) InsertBatch(ctx context.Context, saleID uint64, nationalID string, nums []model.TicketNumber, at time.Time) error {
	m.mu.Lock()
	hook := m.beforeInsert
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return m.failInsert
	}
	for _, n := range nums {
		if _, ok := m.tickets[n]; ok {
			return fmt.Errorf("insert %s: %w", n, repository.ErrTicketTaken)
		}
	}
	for _, n := range nums {
		m.tickets[n] = model.SoldTicket{Number: n, BuyerNationalID: nationalID, SaleID: saleID, CreatedAt: at}
	}
	return nil
}

func (m memTickets) DeleteBySale(ctx context.Context, saleID uint64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeleteTickets != nil {
		return 0, m.failDeleteTickets
	}
	var n int64
	for k, t := range m.tickets {
		if t.SaleID == saleID {
			delete(m.tickets, k)
			n++
		}
	}
	return n, nil
}

func (m memTickets) NumbersBySale(ctx context.Context, saleID uint64) ([]model.TicketNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.TicketNumber{}
	for _, t := range m.tickets {
		if t.SaleID == saleID {
			out = append(out, t.Number)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m memTickets) DeleteOrphans(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, t := range m.tickets {
		if _, ok := m.sales[t.SaleID]; !ok {
			delete(m.tickets, k)
			n++
		}
	}
	return n, nil
}

func (m memReviews) Flag(ctx context.Context, saleID, ledgerEntryID uint64, reason string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextReview++
	m.reviews[m.nextReview] = &model.Review{
		ID: m.nextReview, SaleID: saleID, LedgerEntryID: ledgerEntryID,
		Reason: reason, Status: model.ReviewOpen, CreatedAt: time.Now().UTC(),
	}
	return m.nextReview, nil
}

func (m memReviews) ListOpen(ctx context.Context, limit int) ([]model.Review, error) {
	return m.openReviews(), nil
}

func (m memReviews) Resolve(ctx context.Context, id uint64, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reviews[id]
	if !ok || r.Status != model.ReviewOpen {
		return repository.ErrConflict
	}
	now := time.Now().UTC()
	r.Status = model.ReviewResolved
	r.Note = note
	r.ResolvedAt = &now
	return nil
}

func (m memReviews) RecordAttempt(ctx context.Context, id uint64, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reviews[id]; ok {
		r.Attempts++
		r.LastError = lastErr
	}
	return nil
}

type fixedRate struct {
	rate decimal.Decimal
	err  error
}

func (f fixedRate) GetRate(context.Context, string) (decimal.Decimal, error) { return f.rate, f.err }

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notify.TemplateData
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, _ string, d notify.TemplateData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, d)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recordingFeed struct {
	mu   sync.Mutex
	nums []model.TicketNumber
}

func (f *recordingFeed) PublishSold(_ context.Context, _ uint64, nums []model.TicketNumber) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nums = append(f.nums, nums...)
	return nil
}

var errStoreDown = errors.New("store unavailable")
