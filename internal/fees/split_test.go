package fees_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/clovapay/offramp-engine/internal/fees"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name                string
		base, feeBps, lpBps int64
		total, platform, lp int64
	}{
		{"no provider", 1_000_000, 150, 0, 15_000, 15_000, 0},
		{"provider share", 1_000_000, 150, 50, 15_000, 10_000, 5_000},
		// Raw provider share 1200 exceeds the total of 1000.
		{"provider capped", 100_000, 100, 120, 1_000, 0, 1_000},
		{"rounds half up", 333, 150, 0, 5, 5, 0},
		{"zero base", 0, 150, 50, 0, 0, 0},
		{"zero fee", 1_000_000, 0, 50, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fees.Compute(tt.base, tt.feeBps, tt.lpBps)
			if got.TotalKobo != tt.total || got.PlatformKobo != tt.platform || got.LPKobo != tt.lp {
				t.Errorf("Compute(%d, %d, %d) = %+v, want total=%d platform=%d lp=%d",
					tt.base, tt.feeBps, tt.lpBps, got, tt.total, tt.platform, tt.lp)
			}
			if got.PlatformKobo+got.LPKobo != got.TotalKobo {
				t.Errorf("components %d+%d do not sum to total %d", got.PlatformKobo, got.LPKobo, got.TotalKobo)
			}
		})
	}
}

func TestAllocate(t *testing.T) {
	// Quoted fee 30.74 NGN on a gross of 2049.62 NGN.
	got := fees.Allocate(3074, 204962, 50)
	if got.TotalKobo != 3074 || got.LPKobo != 1025 || got.PlatformKobo != 2049 {
		t.Errorf("Allocate = %+v", got)
	}

	capped := fees.Allocate(1000, 100_000, 120)
	if capped.LPKobo != 1000 || capped.PlatformKobo != 0 {
		t.Errorf("capped = %+v", capped)
	}

	if neg := fees.Allocate(-5, 100_000, 50); neg.TotalKobo != 0 || neg.LPKobo != 0 {
		t.Errorf("negative total = %+v", neg)
	}
}

func TestToKobo(t *testing.T) {
	tests := []struct {
		ngn  string
		want int64
	}{
		{"1500", 150_000},
		{"14775.00", 1_477_500},
		{"0.005", 1},
		{"12.344", 1_234},
	}
	for _, tt := range tests {
		if got := fees.ToKobo(decimal.RequireFromString(tt.ngn)); got != tt.want {
			t.Errorf("ToKobo(%s) = %d, want %d", tt.ngn, got, tt.want)
		}
	}
}
