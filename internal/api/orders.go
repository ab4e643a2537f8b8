package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clovapay/offramp-engine/internal/model"
)

// Recipient is the destination bank account of an order.
type Recipient struct {
	AccountName   string `json:"accountName"`
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
}

// CreateOrderRequest is the JSON body for POST /v1/orders.
type CreateOrderRequest struct {
	Asset        model.Asset     `json:"asset"`
	AmountCrypto decimal.Decimal `json:"amountCrypto"`
	Recipient    Recipient       `json:"recipient"`
}

func (req CreateOrderRequest) validate() string {
	switch {
	case !req.Asset.Valid():
		return "unsupported asset"
	case !req.AmountCrypto.IsPositive():
		return "amountCrypto must be positive"
	case len(req.Recipient.AccountName) < 2:
		return "recipient.accountName must be at least 2 characters"
	case len(req.Recipient.AccountNumber) != 10:
		return "recipient.accountNumber must be 10 digits"
	case len(req.Recipient.BankCode) < 3:
		return "recipient.bankCode must be at least 3 characters"
	}
	return ""
}

// CreateOrder handles POST /v1/orders
// Prices the deposit and opens an order awaiting it.
func (s *Service) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}

	depositAddress := s.assets.DepositAddress(req.Asset)
	if depositAddress == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "no_deposit_wallet",
			"hint":  "No deposit wallet configured for " + string(req.Asset),
		})
		return
	}

	ctx := r.Context()
	q, err := s.quoter.Make(ctx, req.Asset, req.AmountCrypto)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := s.now()
	order := &model.Order{
		OrderID:           "ord_" + uuid.NewString(),
		Asset:             req.Asset,
		AmountCrypto:      req.AmountCrypto,
		Rate:              q.Rate,
		FeeBps:            q.FeeBps,
		FeeNgn:            q.FeeNgn,
		ReceiveNgn:        q.ReceiveNgn,
		DepositAddress:    depositAddress,
		RecipientName:     req.Recipient.AccountName,
		RecipientAccount:  req.Recipient.AccountNumber,
		RecipientBankCode: req.Recipient.BankCode,
		Status:            model.OrderAwaitingDeposit,
		ExpiresAt:         now.Add(s.cfg.OrderExpiry),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		slog.Error("create order", "err", err)
		writeError(w, "failed to create order", http.StatusInternalServerError)
		return
	}

	slog.Info("order created",
		"order_id", order.OrderID,
		"asset", order.Asset,
		"amount", order.AmountCrypto.String(),
		"receive_ngn", order.ReceiveNgn.String(),
	)
	if s.hub != nil {
		s.hub.OrderUpdated(order)
	}

	writeJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /v1/orders/{orderId}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if notFound(err) {
		writeError(w, "order_not_found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load order", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ListOrders handles GET /v1/orders (owner only).
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrders(r.Context())
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}
