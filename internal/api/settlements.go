package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clovapay/offramp-engine/internal/model"
	"github.com/clovapay/offramp-engine/internal/payout"
	"github.com/clovapay/offramp-engine/internal/settlement"
)

const maxWebhookBody = 1 << 20

// CreditedRequest is the JSON body for deposit notifications, from a
// watcher or an operator.
type CreditedRequest struct {
	OrderID       string          `json:"orderId"`
	QuoteID       string          `json:"quoteId"`
	Asset         model.Asset     `json:"asset"`
	AmountCrypto  decimal.Decimal `json:"amountCrypto"`
	TxHash        string          `json:"txHash"`
	Confirmations *int64          `json:"confirmations"` // defaults to 1
	ProviderID    string          `json:"providerId"`
}

func (req CreditedRequest) validate() string {
	switch {
	case req.OrderID == "" && req.QuoteID == "":
		return settlement.ErrReferenceRequired.Error()
	case !req.Asset.Valid():
		return "unsupported asset"
	case model.NormalizeTxHash(req.TxHash) == "":
		return "txHash is required"
	case req.Confirmations != nil && *req.Confirmations < 0:
		return "confirmations must not be negative"
	}
	return ""
}

func (req CreditedRequest) event(source model.SettlementSource) settlement.Event {
	confirmations := int64(1)
	if req.Confirmations != nil {
		confirmations = *req.Confirmations
	}
	return settlement.Event{
		OrderID:       req.OrderID,
		QuoteID:       req.QuoteID,
		Asset:         req.Asset,
		AmountCrypto:  req.AmountCrypto,
		TxHash:        req.TxHash,
		Confirmations: confirmations,
		Source:        source,
		ProviderID:    req.ProviderID,
	}
}

// WatcherDeposit handles POST /v1/watchers/deposits
// Deposits claimed below the asset's confirmation minimum are not processed.
func (s *Service) WatcherDeposit(w http.ResponseWriter, r *http.Request) {
	var req CreditedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}

	ev := req.event(model.SourceWatcher)
	if min := s.assets.MinConfirmations(ev.Asset); ev.Confirmations < min {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"accepted": false,
			"reason":   "insufficient_confirmations",
			"required": min,
			"current":  ev.Confirmations,
		})
		return
	}

	s.processCredited(w, r, ev, true)
}

// CreditSettlement handles POST /v1/settlements/credited (owner only).
func (s *Service) CreditSettlement(w http.ResponseWriter, r *http.Request) {
	var req CreditedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}
	s.processCredited(w, r, req.event(model.SourceManual), false)
}

type watcherResponse struct {
	Accepted bool `json:"accepted"`
	*settlement.Outcome
}

func (s *Service) processCredited(w http.ResponseWriter, r *http.Request, ev settlement.Event, watcher bool) {
	out, err := s.engine.ProcessCredited(r.Context(), ev)
	switch {
	case errors.Is(err, settlement.ErrReferenceRequired), errors.Is(err, settlement.ErrTxHashRequired):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, settlement.ErrOrderNotFound):
		writeError(w, "order_not_found", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("process credited deposit", "tx_hash", ev.TxHash, "err", err)
		writeError(w, "settlement_failed", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	switch out.Status {
	case settlement.StatusRejected:
		status = http.StatusUnprocessableEntity
	case settlement.StatusFailed:
		status = http.StatusBadGateway
	}

	if watcher {
		writeJSON(w, status, watcherResponse{Accepted: true, Outcome: out})
		return
	}
	writeJSON(w, status, out)
}

// PaystackWebhook handles POST /v1/webhooks/paystack
// Terminal transfer events are reconciled; everything else is acknowledged
// and ignored.
func (s *Service) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !s.cfg.SkipWebhookSignature && !payout.VerifySignature(s.cfg.WebhookSecret, body, r.Header.Get(payout.SignatureHeader)) {
		writeError(w, "invalid_signature", http.StatusUnauthorized)
		return
	}

	update, ok, err := payout.ParseWebhook(body)
	if err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "ignored": true})
		return
	}

	res, err := s.engine.ReconcileTransfer(r.Context(), update)
	if errors.Is(err, settlement.ErrPayoutNotFound) {
		slog.Warn("webhook for unknown payout", "ref", update.Ref(), "event", update.Event)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "ignored": true})
		return
	}
	if err != nil {
		slog.Error("reconcile transfer", "ref", update.Ref(), "err", err)
		writeError(w, "reconcile_failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "changed": res.Changed})
}

// CreatePayoutRequest is the JSON body for POST /v1/payouts.
type CreatePayoutRequest struct {
	QuoteID       string `json:"quoteId"`
	RecipientCode string `json:"recipientCode"`
	AmountKobo    int64  `json:"amountKobo"`
	Reason        string `json:"reason"`
}

// CreatePayout handles POST /v1/payouts (owner only).
// Sends a transfer to an existing recipient outside the order flow; fees
// are accrued later when the quote's deposit is credited.
func (s *Service) CreatePayout(w http.ResponseWriter, r *http.Request) {
	var req CreatePayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch {
	case req.QuoteID == "":
		writeError(w, "quoteId is required", http.StatusBadRequest)
		return
	case req.RecipientCode == "":
		writeError(w, "recipientCode is required", http.StatusBadRequest)
		return
	case req.AmountKobo <= 0:
		writeError(w, "amountKobo must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	payoutID := "po_" + uuid.NewString()
	tr, err := s.gateway.CreateTransfer(ctx, payout.TransferRequest{
		AmountKobo:    req.AmountKobo,
		Currency:      model.CurrencyNGN,
		RecipientCode: req.RecipientCode,
		Reason:        req.Reason,
		Reference:     payoutID,
	})
	if err != nil {
		slog.Error("manual payout transfer", "quote_id", req.QuoteID, "err", err)
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}

	now := s.now()
	p := &model.Payout{
		PayoutID:      payoutID,
		QuoteID:       req.QuoteID,
		AmountKobo:    req.AmountKobo,
		Currency:      model.CurrencyNGN,
		RecipientCode: req.RecipientCode,
		Reason:        req.Reason,
		Status:        model.PayoutProcessing,
		Provider:      tr.Provider,
		TransferCode:  tr.TransferCode,
		TransferRef:   tr.TransferRef,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreatePayout(ctx, p); err != nil {
		slog.Error("persist manual payout", "payout_id", payoutID, "transfer_code", tr.TransferCode, "err", err)
		writeError(w, "failed to record payout", http.StatusInternalServerError)
		return
	}

	slog.Info("manual payout created", "payout_id", payoutID, "quote_id", req.QuoteID, "amount_kobo", req.AmountKobo)
	writeJSON(w, http.StatusOK, map[string]any{
		"payoutId": p.PayoutID,
		"quoteId":  p.QuoteID,
		"status":   p.Status,
		"transfer": tr,
	})
}

// ListPayouts handles GET /v1/payouts (owner only).
func (s *Service) ListPayouts(w http.ResponseWriter, r *http.Request) {
	payouts, err := s.store.ListPayouts(r.Context())
	if err != nil {
		writeError(w, "failed to list payouts", http.StatusInternalServerError)
		return
	}
	if payouts == nil {
		payouts = []model.Payout{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payouts": payouts})
}
