package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clovapay/offramp-engine/internal/metrics"
)

// NewRouter mounts every route on a chi router with the standard
// middleware stack.
func NewRouter(s *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", s.Health)
	r.Handle("/metrics", metrics.Handler())

	if s.hub != nil {
		// Long-lived, so outside the request timeout.
		r.Get("/v1/ws", s.hub.HandleWS)
	}

	// Deposit routes wait out the verification retry budget and the payout.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.SettlementTimeout))

		r.With(s.RequireWatcher).Post("/v1/watchers/deposits", s.WatcherDeposit)
		r.With(s.RequireOwner).Post("/v1/settlements/credited", s.CreditSettlement)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/v1/rates", s.GetRate)
		r.Post("/v1/quotes", s.CreateQuote)
		r.Post("/v1/orders", s.CreateOrder)
		r.Get("/v1/orders/{orderId}", s.GetOrder)
		r.Post("/v1/webhooks/paystack", s.PaystackWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.RequireOwner)

			r.Get("/v1/orders", s.ListOrders)
			r.Post("/v1/payouts", s.CreatePayout)
			r.Get("/v1/payouts", s.ListPayouts)
			r.Post("/v1/rates/refresh", s.RefreshRate)

			r.Post("/v1/liquidity/providers", s.CreateProvider)
			r.Get("/v1/liquidity/providers", s.ListProviders)
			r.Post("/v1/liquidity/providers/{providerId}/adjust", s.AdjustProviderBalance)
		})
	})

	return r
}

// RequireOwner admits requests carrying the owner API key in x-api-key or
// as a bearer token.
func (s *Service) RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.OwnerAPIKey == "" {
			writeError(w, "owner_api_key_not_configured", http.StatusServiceUnavailable)
			return
		}
		key := r.Header.Get("x-api-key")
		if key == "" {
			auth := r.Header.Get("Authorization")
			if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
				key = strings.TrimSpace(auth[7:])
			}
		}
		if !tokenEqual(key, s.cfg.OwnerAPIKey) {
			writeError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireWatcher checks x-watcher-token when a watcher token is configured.
func (s *Service) RequireWatcher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.WatcherToken != "" && !tokenEqual(r.Header.Get("x-watcher-token"), s.cfg.WatcherToken) {
			writeError(w, "invalid_watcher_token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tokenEqual(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// cors allows browser clients from any origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key, x-watcher-token")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
