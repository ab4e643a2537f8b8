// Package settlement turns credited on-chain deposits into settlements,
// fee accruals and bank payouts.
//
// Every notification passes through ProcessCredited. Deposits against an
// order are verified on chain before anything is written; the store's
// atomic insert keyed by transaction hash is the only dedup mechanism, and
// the invocation that wins the awaiting_deposit -> confirming transition is
// the only one that pays out.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clovapay/offramp-engine/internal/chain"
	"github.com/clovapay/offramp-engine/internal/fees"
	"github.com/clovapay/offramp-engine/internal/metrics"
	"github.com/clovapay/offramp-engine/internal/model"
	"github.com/clovapay/offramp-engine/internal/payout"
	"github.com/clovapay/offramp-engine/internal/store"
)

var (
	ErrReferenceRequired = errors.New("quoteId_or_orderId_required")
	ErrTxHashRequired    = errors.New("tx_hash_required")
	ErrOrderNotFound     = errors.New("order_not_found")
	ErrPayoutNotFound    = errors.New("payout_not_found")
)

// Outcome error codes and warnings.
const (
	ErrCodeVerificationFailed = "deposit_verification_failed"
	ErrCodePayoutFailed       = "payout_failed"

	WarnPayoutNotFound   = "payout_not_found_for_quote"
	WarnOrderNotAwaiting = "order_not_awaiting_deposit"
	WarnFeeAccrualFailed = "fee_accrual_failed"
)

// Status summarizes what a ProcessCredited call achieved.
type Status string

const (
	StatusRejected Status = "rejected"
	StatusCredited Status = "credited"
	StatusPaidOut  Status = "paid_out"
	StatusFailed   Status = "failed"
)

// Event is a credited-deposit notification from a watcher or an operator.
type Event struct {
	OrderID       string                 `json:"orderId,omitempty"`
	QuoteID       string                 `json:"quoteId,omitempty"`
	Asset         model.Asset            `json:"asset"`
	AmountCrypto  decimal.Decimal        `json:"amountCrypto"`
	TxHash        string                 `json:"txHash"`
	Confirmations int64                  `json:"confirmations"`
	Source        model.SettlementSource `json:"source"`
	ProviderID    string                 `json:"providerId,omitempty"`
}

// Fees reports the fee split accrued for a settlement.
type Fees struct {
	fees.Split
	ProviderID string `json:"providerId,omitempty"`
}

// Outcome is the structured result of ProcessCredited.
type Outcome struct {
	Idempotent   bool              `json:"idempotent"`
	Status       Status            `json:"status"`
	Error        string            `json:"error,omitempty"`
	Detail       string            `json:"detail,omitempty"`
	Verification *chain.Verdict    `json:"verification,omitempty"`
	Settlement   *model.Settlement `json:"settlement,omitempty"`
	Order        *model.Order      `json:"order,omitempty"`
	PayoutID     string            `json:"payoutId,omitempty"`
	Fees         *Fees             `json:"fees,omitempty"`
	Warning      string            `json:"warning,omitempty"`
}

// Verifier checks a deposit against chain state. *chain.Verifier implements it.
type Verifier interface {
	Verify(ctx context.Context, req chain.Request) chain.Verdict
}

// AssetPolicy supplies per-asset confirmation requirements.
// *chain.Registry implements it.
type AssetPolicy interface {
	MinConfirmations(asset model.Asset) int64
}

// Notifier is told about every order status change.
type Notifier interface {
	OrderUpdated(o *model.Order)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) OrderUpdated(*model.Order) {}

// Config holds the engine's retry and fee policy.
type Config struct {
	MaxVerifyAttempts int
	RetryDelay        time.Duration
	PreCheckDelay     time.Duration
	DefaultFeeBps     int64
	// PayoutTimeout bounds claim, transfer, persistence and fee accrual
	// once a settlement is recorded. That work ignores caller cancellation.
	PayoutTimeout time.Duration
}

// Deps wires the engine to its collaborators. Now and Sleep default to
// the wall clock and a context-aware timer.
type Deps struct {
	Store    store.Store
	Verifier Verifier
	Gateway  payout.Gateway
	Assets   AssetPolicy
	Notifier Notifier
	Config   Config
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Engine orchestrates verification, settlement, payout and fee accrual.
type Engine struct {
	store    store.Store
	verifier Verifier
	gateway  payout.Gateway
	assets   AssetPolicy
	notifier Notifier
	cfg      Config
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates an engine.
func New(d Deps) *Engine {
	e := &Engine{
		store:    d.Store,
		verifier: d.Verifier,
		gateway:  d.Gateway,
		assets:   d.Assets,
		notifier: d.Notifier,
		cfg:      d.Config,
		now:      d.Now,
		sleep:    d.Sleep,
	}
	if e.notifier == nil {
		e.notifier = NopNotifier{}
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	if e.cfg.MaxVerifyAttempts <= 0 {
		e.cfg.MaxVerifyAttempts = 1
	}
	if e.cfg.PayoutTimeout <= 0 {
		e.cfg.PayoutTimeout = 2 * time.Minute
	}
	return e
}

// ProcessCredited handles one credited-deposit notification.
//
// Input errors (ErrReferenceRequired, ErrTxHashRequired, ErrOrderNotFound)
// and store failures are returned as errors. Verification rejections,
// duplicate deliveries and payout failures are reported in the Outcome.
func (e *Engine) ProcessCredited(ctx context.Context, ev Event) (*Outcome, error) {
	if ev.OrderID == "" && ev.QuoteID == "" {
		return nil, ErrReferenceRequired
	}
	if model.NormalizeTxHash(ev.TxHash) == "" {
		return nil, ErrTxHashRequired
	}
	if ev.Source == "" {
		ev.Source = model.SourceManual
	}

	order, err := e.resolveOrder(ctx, ev)
	if err != nil {
		return nil, err
	}

	out, err := e.process(ctx, ev, order)
	if err != nil {
		return nil, err
	}
	metrics.SettlementsTotal.WithLabelValues(string(out.Status), string(ev.Source)).Inc()
	return out, nil
}

func (e *Engine) resolveOrder(ctx context.Context, ev Event) (*model.Order, error) {
	id := ev.OrderID
	if id == "" {
		id = ev.QuoteID
	}
	order, err := e.store.GetOrder(ctx, id)
	switch {
	case err == nil:
		return order, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("resolve order %s: %w", id, err)
	case ev.OrderID != "":
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, ev.OrderID)
	default:
		// A bare quote id with no order is the legacy flow.
		return nil, nil
	}
}

func (e *Engine) process(ctx context.Context, ev Event, order *model.Order) (*Outcome, error) {
	now := e.now()
	record := &model.Settlement{
		SettlementID:  "st_" + uuid.NewString(),
		TxHash:        model.NormalizeTxHash(ev.TxHash),
		QuoteID:       ev.QuoteID,
		Asset:         ev.Asset,
		AmountCrypto:  ev.AmountCrypto,
		Confirmations: ev.Confirmations,
		Source:        ev.Source,
		Status:        model.SettlementCredited,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var verdict *chain.Verdict
	if order != nil {
		record.QuoteID = order.OrderID
		record.Asset = order.Asset

		if order.DepositAddress != "" {
			v, err := e.verifyDeposit(ctx, ev, order)
			if err != nil {
				return nil, err
			}
			verdict = &v
			if !v.Verified {
				slog.Warn("deposit verification failed",
					"order_id", order.OrderID,
					"tx_hash", record.TxHash,
					"reason", v.Reason,
					"detail", v.Detail,
				)
				return &Outcome{
					Status:       StatusRejected,
					Error:        ErrCodeVerificationFailed,
					Detail:       fmt.Sprintf("%s: %s", v.Reason, v.Detail),
					Verification: verdict,
				}, nil
			}
			record.AmountCrypto = v.Amount
			record.Confirmations = v.Confirmations
		}
	}

	stored, inserted, err := e.store.CreateSettlementIfAbsent(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("record settlement: %w", err)
	}
	if !inserted {
		slog.Info("duplicate credited notification", "tx_hash", stored.TxHash, "source", ev.Source)
		return &Outcome{
			Idempotent:   true,
			Status:       StatusCredited,
			Settlement:   stored,
			Verification: verdict,
		}, nil
	}

	slog.Info("settlement credited",
		"settlement_id", stored.SettlementID,
		"tx_hash", stored.TxHash,
		"quote_id", stored.QuoteID,
		"source", stored.Source,
	)

	// Redeliveries are no-ops from here on, so the rest must finish even if
	// the caller gives up.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.PayoutTimeout)
	defer cancel()

	out := &Outcome{Status: StatusCredited, Settlement: stored, Verification: verdict}
	if order == nil {
		e.accrueLegacy(settleCtx, ev, stored, out)
		return out, nil
	}
	e.settleOrder(settleCtx, ev, order, stored, out)
	return out, nil
}

// settleOrder claims the order for payout and drives it.
func (e *Engine) settleOrder(ctx context.Context, ev Event, order *model.Order, s *model.Settlement, out *Outcome) {
	claimed, err := e.store.TransitionOrder(ctx, order.OrderID, model.OrderConfirming, model.OrderPatch{TxHash: s.TxHash})
	if err != nil {
		if !errors.Is(err, store.ErrIllegalTransition) {
			slog.Error("claim order for payout", "order_id", order.OrderID, "err", err)
		}
		out.Warning = WarnOrderNotAwaiting
		if current, gerr := e.store.GetOrder(ctx, order.OrderID); gerr == nil {
			out.Order = current
		}
		return
	}
	e.notifier.OrderUpdated(claimed)
	e.autoPayout(ctx, ev, claimed, s, out)
}

// accrueLegacy books fees for a quote with no order against the payout
// already created for it.
func (e *Engine) accrueLegacy(ctx context.Context, ev Event, s *model.Settlement, out *Outcome) {
	p, err := e.store.FindPayoutByQuote(ctx, s.QuoteID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("find payout for quote", "quote_id", s.QuoteID, "err", err)
		}
		out.Warning = WarnPayoutNotFound
		return
	}
	out.PayoutID = p.PayoutID

	f, err := e.accrueFees(ctx, accrual{
		quoteID:    p.QuoteID,
		payoutID:   p.PayoutID,
		txHash:     s.TxHash,
		totalKobo:  fees.ApplyBps(p.AmountKobo, e.cfg.DefaultFeeBps),
		baseKobo:   p.AmountKobo,
		providerID: ev.ProviderID,
	})
	if err != nil {
		slog.Error("fee accrual failed", "quote_id", s.QuoteID, "tx_hash", s.TxHash, "err", err)
		out.Warning = WarnFeeAccrualFailed
	}
	out.Fees = f
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
