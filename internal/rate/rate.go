// Package rate adapts the exchange-rate collaborator.  A Chain asks live
// JSON sources in order, falls back to the last good rate kept in Redis
// and finally to a configured emergency constant.
package rate

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNoRate is returned when no link of the chain produced a rate.
var ErrNoRate = errors.New("no exchange rate available")

// Source is one live provider.
type Source interface {
	Name() string
	Fetch(ctx context.Context, pair string) (decimal.Decimal, error)
}

// Cache keeps the last rate a live source returned.
type Cache interface {
	Last(ctx context.Context, pair string) (decimal.Decimal, error)
	Save(ctx context.Context, pair string, rate decimal.Decimal) error
}

// Chain implements the rate lookup used by settlement and quotes.
type Chain struct {
	sources   []Source
	cache     Cache
	emergency decimal.Decimal
	log       *zap.Logger
}

// NewChain builds a chain.  cache may be nil; a zero emergency disables
// the last resort.
func NewChain(sources []Source, cache Cache, emergency decimal.Decimal, log *zap.Logger) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chain{sources: sources, cache: cache, emergency: emergency, log: log}
}

// GetRate returns the first positive rate along the chain.
func (c *Chain) GetRate(ctx context.Context, pair string) (decimal.Decimal, error) {
	for _, src := range c.sources {
		r, err := src.Fetch(ctx, pair)
		if err == nil && !r.IsPositive() {
			err = fmt.Errorf("non-positive rate %s", r)
		}
		if err != nil {
			c.log.Warn("rate: source failed", zap.String("source", src.Name()), zap.String("pair", pair), zap.Error(err))
			continue
		}
		metrics.RecordRateSource(src.Name())
		if c.cache != nil {
			if err := c.cache.Save(ctx, pair, r); err != nil {
				c.log.Warn("rate: cache save failed", zap.Error(err))
			}
		}
		return r, nil
	}

	if c.cache != nil {
		r, err := c.cache.Last(ctx, pair)
		if err == nil && r.IsPositive() {
			metrics.RecordRateSource("cache")
			c.log.Info("rate: serving last good rate", zap.String("pair", pair), zap.String("rate", r.String()))
			return r, nil
		}
		if err != nil {
			c.log.Warn("rate: cache read failed", zap.Error(err))
		}
	}

	if c.emergency.IsPositive() {
		metrics.RecordRateSource("emergency")
		c.log.Warn("rate: serving emergency rate", zap.String("pair", pair), zap.String("rate", c.emergency.String()))
		return c.emergency, nil
	}
	return decimal.Zero, ErrNoRate
}
