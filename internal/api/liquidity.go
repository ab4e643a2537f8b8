package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clovapay/offramp-engine/internal/model"
)

const defaultProviderFeeBps = 150

// CreateProviderRequest is the JSON body for POST /v1/liquidity/providers.
type CreateProviderRequest struct {
	Name               string `json:"name"`
	FeeBps             *int64 `json:"feeBps"`
	InitialBalanceKobo int64  `json:"initialBalanceKobo"`
}

// AdjustBalanceRequest is the JSON body for the balance adjustment route.
type AdjustBalanceRequest struct {
	DeltaKobo *int64 `json:"deltaKobo"`
}

// CreateProvider handles POST /v1/liquidity/providers (owner only).
func (s *Service) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var req CreateProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	feeBps := int64(defaultProviderFeeBps)
	if req.FeeBps != nil {
		feeBps = *req.FeeBps
	}
	switch {
	case len(req.Name) < 2:
		writeError(w, "name must be at least 2 characters", http.StatusBadRequest)
		return
	case feeBps < 0 || feeBps > 5000:
		writeError(w, "feeBps must be between 0 and 5000", http.StatusBadRequest)
		return
	case req.InitialBalanceKobo < 0:
		writeError(w, "initialBalanceKobo must not be negative", http.StatusBadRequest)
		return
	}

	now := s.now()
	p := &model.LiquidityProvider{
		ProviderID:  "lp_" + uuid.NewString(),
		Name:        req.Name,
		Currency:    model.CurrencyNGN,
		BalanceKobo: req.InitialBalanceKobo,
		FeeBps:      feeBps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.UpsertProvider(r.Context(), p); err != nil {
		slog.Error("create provider", "err", err)
		writeError(w, "failed to create provider", http.StatusInternalServerError)
		return
	}

	slog.Info("liquidity provider created", "provider_id", p.ProviderID, "fee_bps", feeBps)
	writeJSON(w, http.StatusCreated, p)
}

// ListProviders handles GET /v1/liquidity/providers (owner only).
func (s *Service) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.store.ListProviders(r.Context())
	if err != nil {
		writeError(w, "failed to list providers", http.StatusInternalServerError)
		return
	}
	if providers == nil {
		providers = []model.LiquidityProvider{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

// AdjustProviderBalance handles POST /v1/liquidity/providers/{providerId}/adjust (owner only).
func (s *Service) AdjustProviderBalance(w http.ResponseWriter, r *http.Request) {
	var req AdjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeltaKobo == nil {
		writeError(w, "deltaKobo is required", http.StatusBadRequest)
		return
	}

	providerID := chi.URLParam(r, "providerId")
	p, err := s.store.AdjustProviderBalance(r.Context(), providerID, *req.DeltaKobo)
	if notFound(err) {
		writeError(w, "provider_not_found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("adjust provider balance", "provider_id", providerID, "err", err)
		writeError(w, "failed to adjust balance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
