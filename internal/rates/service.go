// Package rates provides the NGN per USD-stablecoin rate used for quoting.
package rates

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Rate is the market rate and the rate offered to users after margin.
type Rate struct {
	Market        decimal.Decimal `json:"marketRate"`
	Offramp       decimal.Decimal `json:"offrampRate"`
	MarginPercent decimal.Decimal `json:"marginPct"`
}

// Service resolves the market rate from its sources in order, falling back
// to a static rate when all fail, and caches the result.
type Service struct {
	sources  []Source
	cache    Cache
	ttl      time.Duration
	fallback decimal.Decimal
	margin   decimal.Decimal
}

// NewService creates a rate service. marginPercent is deducted from the
// market rate to produce the offramp rate.
func NewService(cache Cache, ttl time.Duration, fallback, marginPercent decimal.Decimal, sources ...Source) *Service {
	return &Service{
		sources:  sources,
		cache:    cache,
		ttl:      ttl,
		fallback: fallback,
		margin:   marginPercent,
	}
}

// MarketRate returns the cached rate or fetches a fresh one.
func (s *Service) MarketRate(ctx context.Context) decimal.Decimal {
	if rate, ok := s.cache.Get(ctx); ok {
		return rate
	}
	rate := s.fetch(ctx)
	s.cache.Set(ctx, rate, s.ttl)
	return rate
}

// OfframpRate applies the margin to the market rate, rounded to whole naira.
func (s *Service) OfframpRate(ctx context.Context) Rate {
	market := s.MarketRate(ctx)
	factor := decimal.NewFromInt(1).Sub(s.margin.Div(hundred))
	return Rate{
		Market:        market,
		Offramp:       market.Mul(factor).Round(0),
		MarginPercent: s.margin,
	}
}

// Invalidate drops the cached rate so the next read refetches.
func (s *Service) Invalidate(ctx context.Context) {
	s.cache.Invalidate(ctx)
}

func (s *Service) fetch(ctx context.Context) decimal.Decimal {
	for _, src := range s.sources {
		rate, err := src.Fetch(ctx)
		if err != nil {
			slog.Warn("rate source failed", "source", src.Name(), "err", err)
			continue
		}
		if rate.IsPositive() {
			slog.Info("fetched live rate", "source", src.Name(), "rate", rate.String())
			return rate
		}
	}
	slog.Warn("all rate sources failed, using fallback", "rate", s.fallback.String())
	return s.fallback
}
