// Package fees computes how a settlement fee is divided between the
// platform and an optional liquidity provider.
package fees

import "github.com/shopspring/decimal"

var bpsDenominator = decimal.NewFromInt(10000)

// Split is one fee distribution in kobo.
type Split struct {
	TotalKobo    int64 `json:"totalFeeKobo"`
	PlatformKobo int64 `json:"platformFeeKobo"`
	LPKobo       int64 `json:"lpFeeKobo"`
}

// Compute splits the fee on baseKobo. The total is feeBps of the base
// rounded to the nearest kobo; the provider share is providerBps of the
// same base, capped at the total. A negative result is clamped to zero.
func Compute(baseKobo, feeBps, providerBps int64) Split {
	return Allocate(ApplyBps(baseKobo, feeBps), baseKobo, providerBps)
}

// Allocate divides an already fixed fee total. The provider share is
// providerBps of baseKobo, capped at the total.
func Allocate(totalKobo, baseKobo, providerBps int64) Split {
	if totalKobo < 0 {
		totalKobo = 0
	}
	lp := ApplyBps(baseKobo, providerBps)
	if lp > totalKobo {
		lp = totalKobo
	}
	return Split{
		TotalKobo:    totalKobo,
		PlatformKobo: totalKobo - lp,
		LPKobo:       lp,
	}
}

// ApplyBps returns round(amount * bps / 10000), never negative.
func ApplyBps(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	v := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(bps)).Div(bpsDenominator).Round(0)
	return v.IntPart()
}

// ToKobo converts a naira amount to kobo, rounding to the nearest kobo.
func ToKobo(ngn decimal.Decimal) int64 {
	return ngn.Shift(2).Round(0).IntPart()
}
