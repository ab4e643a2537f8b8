// Package quote prices an offramp: how much NGN a deposit yields after fees.
package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clovapay/offramp-engine/internal/model"
	"github.com/clovapay/offramp-engine/internal/rates"
)

var (
	ErrUnsupportedAsset = errors.New("quote: unsupported asset")
	ErrInvalidAmount    = errors.New("quote: amount must be positive")
)

var bpsDenominator = decimal.NewFromInt(10000)

// RateProvider is the subset of rates.Service a quoter needs.
type RateProvider interface {
	OfframpRate(ctx context.Context) rates.Rate
}

// Quote is a priced offramp offer.
type Quote struct {
	QuoteID      string          `json:"quoteId"`
	Asset        model.Asset     `json:"asset"`
	AmountCrypto decimal.Decimal `json:"amountCrypto"`
	Rate         decimal.Decimal `json:"rate"`
	FeeBps       int64           `json:"feeBps"`
	FeeNgn       decimal.Decimal `json:"feeNgn"`
	ReceiveNgn   decimal.Decimal `json:"receiveNgn"`
	ExpiresAt    time.Time       `json:"expiresAt"`
	RateInfo     rates.Rate      `json:"rateInfo"`
}

// Quoter produces quotes at the current offramp rate.
type Quoter struct {
	rates  RateProvider
	feeBps int64
	ttl    time.Duration
	now    func() time.Time
}

// NewQuoter creates a quoter charging feeBps. Quotes expire after ttl.
func NewQuoter(r RateProvider, feeBps int64, ttl time.Duration) *Quoter {
	return &Quoter{rates: r, feeBps: feeBps, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Make prices amountCrypto of asset.
func (q *Quoter) Make(ctx context.Context, asset model.Asset, amountCrypto decimal.Decimal) (*Quote, error) {
	if !asset.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	if !amountCrypto.IsPositive() {
		return nil, ErrInvalidAmount
	}

	r := q.rates.OfframpRate(ctx)
	gross := amountCrypto.Mul(r.Offramp)
	fee := gross.Mul(decimal.NewFromInt(q.feeBps)).Div(bpsDenominator).Round(2)

	return &Quote{
		QuoteID:      "q_" + uuid.NewString(),
		Asset:        asset,
		AmountCrypto: amountCrypto,
		Rate:         r.Offramp,
		FeeBps:       q.feeBps,
		FeeNgn:       fee,
		ReceiveNgn:   gross.Sub(fee).Round(2),
		ExpiresAt:    q.now().Add(q.ttl),
		RateInfo:     r,
	}, nil
}
