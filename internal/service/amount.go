package service

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Quote is the price of a selection converted to local currency.
type Quote struct {
	Count         int             `json:"count"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Rate          decimal.Decimal `json:"rate"`
	AmountForeign decimal.Decimal `json:"amount_foreign"`
	AmountLocal   decimal.Decimal `json:"amount_local"`
}

// NewQuote prices count tickets at unitPrice converted with rate.  The
// local amount is rounded to 2 places, half away from zero.
func NewQuote(count int, unitPrice, rate decimal.Decimal) Quote {
	foreign := unitPrice.Mul(decimal.NewFromInt(int64(count)))
	return Quote{
		Count:         count,
		UnitPrice:     unitPrice,
		Rate:          rate,
		AmountForeign: foreign,
		AmountLocal:   foreign.Mul(rate).Round(2),
	}
}

// Matches reports whether declared is within epsilon of the expected
// local amount.
func (q Quote) Matches(declared, epsilon decimal.Decimal) bool {
	return declared.Sub(q.AmountLocal).Abs().LessThanOrEqual(epsilon)
}

var (
	errReferenceEmpty  = errors.New("reference is required")
	errReferenceDigits = errors.New("reference must contain digits only")
	errReferenceShort  = errors.New("reference is too short")
)

// ReferencePolicy validates the tail of a bank reference reported by a
// buyer.  Banks truncate references inconsistently so only the trailing
// digits are matched.  Two unrelated payments sharing a suffix inside the
// ledger window are an accepted ambiguity, resolved oldest first.
type ReferencePolicy struct {
	MinDigits int
}

// Normalize trims the reference and checks it against the policy.
func (p ReferencePolicy) Normalize(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errReferenceEmpty
	}
	for _, r := range ref {
		if r < '0' || r > '9' {
			return "", errReferenceDigits
		}
	}
	if len(ref) < p.MinDigits {
		return "", errReferenceShort
	}
	return ref, nil
}
