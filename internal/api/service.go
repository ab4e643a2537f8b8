// Package api provides the HTTP handlers for quoting, order intake,
// deposit notifications, payout callbacks and liquidity providers.
//
// All monetary values use shopspring/decimal or int64 kobo, never float64.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clovapay/offramp-engine/internal/model"
	"github.com/clovapay/offramp-engine/internal/payout"
	"github.com/clovapay/offramp-engine/internal/quote"
	"github.com/clovapay/offramp-engine/internal/rates"
	"github.com/clovapay/offramp-engine/internal/settlement"
	"github.com/clovapay/offramp-engine/internal/store"
)

// Engine is the settlement surface the handlers drive.
// *settlement.Engine implements it.
type Engine interface {
	ProcessCredited(ctx context.Context, ev settlement.Event) (*settlement.Outcome, error)
	ReconcileTransfer(ctx context.Context, u payout.TransferUpdate) (*settlement.Reconciliation, error)
}

// Assets resolves per-asset deposit policy. *chain.Registry implements it.
type Assets interface {
	DepositAddress(asset model.Asset) string
	MinConfirmations(asset model.Asset) int64
}

// RateService is the rate surface exposed over HTTP. *rates.Service implements it.
type RateService interface {
	OfframpRate(ctx context.Context) rates.Rate
	Invalidate(ctx context.Context)
}

// Config holds the HTTP-facing settings.
type Config struct {
	ServiceName   string
	OwnerAPIKey   string
	WatcherToken  string
	WebhookSecret string
	// SkipWebhookSignature accepts unsigned callbacks; only for the mock gateway.
	SkipWebhookSignature bool
	OrderExpiry          time.Duration
	// SettlementTimeout bounds the deposit routes, which wait out chain
	// verification and the payout.
	SettlementTimeout time.Duration
}

// Service holds the handler dependencies.
type Service struct {
	store   store.Store
	engine  Engine
	quoter  *quote.Quoter
	rates   RateService
	assets  Assets
	gateway payout.Gateway
	hub     *WSHub // optional
	cfg     Config
	now     func() time.Time
}

// Deps wires a Service.
type Deps struct {
	Store   store.Store
	Engine  Engine
	Quoter  *quote.Quoter
	Rates   RateService
	Assets  Assets
	Gateway payout.Gateway
	Hub     *WSHub
	Config  Config
}

// NewService creates the HTTP service. Pass a nil Hub if order updates
// need not be streamed.
func NewService(d Deps) *Service {
	if d.Config.ServiceName == "" {
		d.Config.ServiceName = "offramp-engine"
	}
	if d.Config.OrderExpiry <= 0 {
		d.Config.OrderExpiry = 30 * time.Minute
	}
	if d.Config.SettlementTimeout <= 0 {
		d.Config.SettlementTimeout = 150 * time.Second
	}
	return &Service{
		store:   d.Store,
		engine:  d.Engine,
		quoter:  d.Quoter,
		rates:   d.Rates,
		assets:  d.Assets,
		gateway: d.Gateway,
		hub:     d.Hub,
		cfg:     d.Config,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Health handles GET /health
func (s *Service) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": s.cfg.ServiceName})
}

// --- Rates and quotes ---

// QuoteRequest is the JSON body for POST /v1/quotes.
type QuoteRequest struct {
	Asset               model.Asset     `json:"asset"`
	AmountCrypto        decimal.Decimal `json:"amountCrypto"`
	DestinationCurrency string          `json:"destinationCurrency"`
}

// CreateQuote handles POST /v1/quotes
func (s *Service) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DestinationCurrency != model.CurrencyNGN {
		writeError(w, "destinationCurrency must be NGN", http.StatusBadRequest)
		return
	}

	q, err := s.quoter.Make(r.Context(), req.Asset, req.AmountCrypto)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetRate handles GET /v1/rates
func (s *Service) GetRate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rates.OfframpRate(r.Context()))
}

// RefreshRate handles POST /v1/rates/refresh (owner only).
func (s *Service) RefreshRate(w http.ResponseWriter, r *http.Request) {
	s.rates.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, s.rates.OfframpRate(r.Context()))
}

// --- helpers ---

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "err", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// notFound reports whether err is a store miss.
func notFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
