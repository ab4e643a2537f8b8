package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// Source fetches a live USDT/NGN market rate.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (decimal.Decimal, error)
}

// BinanceSource reads the public spot ticker (`{"symbol":..,"price":".."}`).
type BinanceSource struct {
	URL    string
	Client *http.Client
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context) (decimal.Decimal, error) {
	var body struct {
		Price string `json:"price"`
	}
	if err := getJSON(ctx, b.Client, b.URL, &body); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(body.Price)
}

// CoinGeckoSource reads the simple price endpoint for tether in NGN.
type CoinGeckoSource struct {
	URL    string
	Client *http.Client
}

func (c *CoinGeckoSource) Name() string { return "coingecko" }

func (c *CoinGeckoSource) Fetch(ctx context.Context) (decimal.Decimal, error) {
	var body struct {
		Tether struct {
			NGN decimal.Decimal `json:"ngn"`
		} `json:"tether"`
	}
	if err := getJSON(ctx, c.Client, c.URL, &body); err != nil {
		return decimal.Zero, err
	}
	return body.Tether.NGN, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
