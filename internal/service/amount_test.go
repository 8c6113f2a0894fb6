package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNewQuote(t *testing.T) {
	q := NewQuote(2, d("3"), d("100"))
	assert.Equal(t, "6", q.AmountForeign.String())
	assert.Equal(t, "600.00", q.AmountLocal.StringFixed(2))

	// half away from zero, not half to even
	q = NewQuote(1, d("1"), d("2.345"))
	assert.Equal(t, "2.35", q.AmountLocal.StringFixed(2))
}

func TestQuoteMatches(t *testing.T) {
	q := NewQuote(2, d("3"), d("100"))
	eps := d("1")
	assert.True(t, q.Matches(d("600"), eps))
	assert.True(t, q.Matches(d("600.99"), eps))
	assert.True(t, q.Matches(d("599.00"), eps))
	assert.False(t, q.Matches(d("598.99"), eps))
	assert.False(t, q.Matches(d("601.01"), eps))
	assert.False(t, q.Matches(d("300"), eps))
}

func TestReferencePolicy(t *testing.T) {
	p := ReferencePolicy{MinDigits: 4}
	ref, err := p.Normalize(" 1234 ")
	require.NoError(t, err)
	assert.Equal(t, "1234", ref)

	for _, bad := range []string{"", "123", "12a4", "12 34"} {
		_, err := p.Normalize(bad)
		assert.Error(t, err, bad)
	}
}

func TestSettlementErrorMatching(t *testing.T) {
	err := conflictError(nil)
	assert.ErrorIs(t, err, ErrTicketConflict)
	assert.NotErrorIs(t, err, ErrAlreadyUsed)
	assert.Equal(t, KindTicketConflict, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(assert.AnError))

	wrapped := newError(KindPersistence, "x", errStoreDown)
	assert.ErrorIs(t, wrapped, errStoreDown)
	assert.Contains(t, wrapped.Error(), "persistence: x")

	cf := &SettlementError{Kind: KindCompensationFailure, SaleID: 9}
	assert.Contains(t, cf.Error(), "(sale 9)")
}
