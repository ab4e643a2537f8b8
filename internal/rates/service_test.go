package rates_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clovapay/offramp-engine/internal/rates"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type stubSource struct {
	name  string
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(context.Context) (decimal.Decimal, error) {
	s.calls++
	return s.rate, s.err
}

func TestService_SourceOrderAndFallback(t *testing.T) {
	ctx := context.Background()
	down := &stubSource{name: "down", err: errors.New("timeout")}
	zero := &stubSource{name: "zero", rate: decimal.Zero}
	live := &stubSource{name: "live", rate: d("1580")}

	svc := rates.NewService(rates.NewMemoryCache(), time.Minute, d("1500"), d("3"), down, zero, live)
	if got := svc.MarketRate(ctx); !got.Equal(d("1580")) {
		t.Fatalf("market rate = %s, want 1580", got)
	}

	allDown := rates.NewService(rates.NewMemoryCache(), time.Minute, d("1500"), d("3"), down)
	if got := allDown.MarketRate(ctx); !got.Equal(d("1500")) {
		t.Fatalf("fallback rate = %s, want 1500", got)
	}
}

func TestService_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	src := &stubSource{name: "live", rate: d("1580")}
	svc := rates.NewService(rates.NewMemoryCache(), time.Minute, d("1500"), d("3"), src)

	svc.MarketRate(ctx)
	svc.MarketRate(ctx)
	if src.calls != 1 {
		t.Fatalf("expected 1 fetch within ttl, got %d", src.calls)
	}

	src.rate = d("1600")
	svc.Invalidate(ctx)
	if got := svc.MarketRate(ctx); !got.Equal(d("1600")) {
		t.Errorf("after invalidate = %s, want 1600", got)
	}
	if src.calls != 2 {
		t.Errorf("expected refetch after invalidate, calls=%d", src.calls)
	}
}

func TestService_OfframpRate(t *testing.T) {
	src := &stubSource{name: "live", rate: d("1580")}
	svc := rates.NewService(rates.NewMemoryCache(), time.Minute, d("1500"), d("3"), src)

	r := svc.OfframpRate(context.Background())
	// 1580 * 0.97 = 1532.6
	if !r.Offramp.Equal(d("1533")) {
		t.Errorf("offramp rate = %s, want 1533", r.Offramp)
	}
	if !r.Market.Equal(d("1580")) || !r.MarginPercent.Equal(d("3")) {
		t.Errorf("unexpected %+v", r)
	}
}

func TestHTTPSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/binance":
			w.Write([]byte(`{"symbol":"USDTNGN","price":"1581.20000000"}`))
		case "/coingecko":
			w.Write([]byte(`{"tether":{"ngn":1579.4}}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	b := &rates.BinanceSource{URL: srv.URL + "/binance", Client: srv.Client()}
	if got, err := b.Fetch(ctx); err != nil || !got.Equal(d("1581.2")) {
		t.Errorf("binance = %s, %v", got, err)
	}
	c := &rates.CoinGeckoSource{URL: srv.URL + "/coingecko", Client: srv.Client()}
	if got, err := c.Fetch(ctx); err != nil || !got.Equal(d("1579.4")) {
		t.Errorf("coingecko = %s, %v", got, err)
	}
	bad := &rates.BinanceSource{URL: srv.URL + "/down", Client: srv.Client()}
	if _, err := bad.Fetch(ctx); err == nil {
		t.Error("expected error on 503")
	}
}
