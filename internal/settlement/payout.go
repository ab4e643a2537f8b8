package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/clovapay/offramp-engine/internal/fees"
	"github.com/clovapay/offramp-engine/internal/metrics"
	"github.com/clovapay/offramp-engine/internal/model"
	"github.com/clovapay/offramp-engine/internal/payout"
	"github.com/clovapay/offramp-engine/internal/store"
)

// autoPayout sends the order's receive amount to its recipient. Any failure
// before the order reaches paid_out fails the order; the settlement stays.
// A recipient created before a failed transfer is left for the operator.
func (e *Engine) autoPayout(ctx context.Context, ev Event, order *model.Order, s *model.Settlement, out *Outcome) {
	p, err := e.sendPayout(ctx, order)
	if err != nil {
		reason := err.Error()
		slog.Error("auto payout failed", "order_id", order.OrderID, "tx_hash", s.TxHash, "err", err)
		out.Status = StatusFailed
		out.Error = ErrCodePayoutFailed
		out.Detail = reason
		out.Order = e.failOrder(ctx, order, reason)
		return
	}
	metrics.PayoutsTotal.WithLabelValues(string(p.Status)).Inc()
	out.PayoutID = p.PayoutID

	paid, err := e.store.TransitionOrder(ctx, order.OrderID, model.OrderPaidOut, model.OrderPatch{
		PayoutID:     p.PayoutID,
		TransferCode: p.TransferCode,
		TxHash:       s.TxHash,
	})
	if err != nil {
		// A fast provider callback may already have moved the order on.
		slog.Warn("advance order to paid_out", "order_id", order.OrderID, "payout_id", p.PayoutID, "err", err)
		if current, gerr := e.store.GetOrder(ctx, order.OrderID); gerr == nil {
			paid = current
		}
	} else {
		e.notifier.OrderUpdated(paid)
	}
	out.Order = paid
	out.Status = StatusPaidOut

	slog.Info("order paid out",
		"order_id", order.OrderID,
		"payout_id", p.PayoutID,
		"transfer_code", p.TransferCode,
		"amount_kobo", p.AmountKobo,
	)

	f, err := e.accrueFees(ctx, accrual{
		quoteID:    order.OrderID,
		payoutID:   p.PayoutID,
		txHash:     s.TxHash,
		totalKobo:  fees.ToKobo(order.FeeNgn),
		baseKobo:   fees.ToKobo(order.GrossNgn()),
		providerID: ev.ProviderID,
	})
	if err != nil {
		slog.Error("fee accrual failed", "order_id", order.OrderID, "tx_hash", s.TxHash, "err", err)
		out.Warning = WarnFeeAccrualFailed
	}
	out.Fees = f
}

func (e *Engine) sendPayout(ctx context.Context, order *model.Order) (*model.Payout, error) {
	amountKobo := fees.ToKobo(order.ReceiveNgn)
	if amountKobo <= 0 {
		return nil, fmt.Errorf("payout amount must be positive, got %d kobo", amountKobo)
	}

	recipientCode, err := e.gateway.CreateRecipient(ctx, payout.RecipientRequest{
		Name:          order.RecipientName,
		AccountNumber: order.RecipientAccount,
		BankCode:      order.RecipientBankCode,
		Currency:      model.CurrencyNGN,
	})
	if err != nil {
		return nil, fmt.Errorf("create recipient: %w", err)
	}

	payoutID := "po_" + uuid.NewString()
	reason := "Offramp order " + order.OrderID
	tr, err := e.gateway.CreateTransfer(ctx, payout.TransferRequest{
		AmountKobo:    amountKobo,
		Currency:      model.CurrencyNGN,
		RecipientCode: recipientCode,
		Reason:        reason,
		Reference:     payoutID,
	})
	if err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}

	now := e.now()
	p := &model.Payout{
		PayoutID:      payoutID,
		QuoteID:       order.OrderID,
		AmountKobo:    amountKobo,
		Currency:      model.CurrencyNGN,
		RecipientCode: recipientCode,
		Reason:        reason,
		Status:        model.PayoutProcessing,
		Provider:      tr.Provider,
		TransferCode:  tr.TransferCode,
		TransferRef:   tr.TransferRef,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.CreatePayout(ctx, p); err != nil {
		return nil, fmt.Errorf("persist payout %s (transfer %s): %w", payoutID, tr.TransferCode, err)
	}
	return p, nil
}

func (e *Engine) failOrder(ctx context.Context, order *model.Order, reason string) *model.Order {
	failed, err := e.store.TransitionOrder(ctx, order.OrderID, model.OrderFailed, model.OrderPatch{FailureReason: reason})
	if err != nil {
		slog.Error("mark order failed", "order_id", order.OrderID, "err", err)
		return order
	}
	e.notifier.OrderUpdated(failed)
	return failed
}

type accrual struct {
	quoteID    string
	payoutID   string
	txHash     string
	totalKobo  int64
	baseKobo   int64
	providerID string
}

// accrueFees appends one ledger entry per non-zero fee component and
// credits the provider's share to its balance. The total is fixed by the
// caller; the provider's bps only divide it. An unknown provider is
// dropped and the whole fee goes to the platform.
func (e *Engine) accrueFees(ctx context.Context, a accrual) (*Fees, error) {
	var providerBps int64
	providerID := a.providerID
	if providerID != "" {
		lp, err := e.store.GetProvider(ctx, providerID)
		switch {
		case err == nil:
			providerBps = lp.FeeBps
		case errors.Is(err, store.ErrNotFound):
			slog.Warn("unknown liquidity provider, fee attributed to platform", "provider_id", providerID)
			providerID = ""
		default:
			return nil, fmt.Errorf("get provider %s: %w", providerID, err)
		}
	}

	split := fees.Allocate(a.totalKobo, a.baseKobo, providerBps)
	out := &Fees{Split: split}
	if split.LPKobo > 0 {
		out.ProviderID = providerID
	}
	now := e.now()

	if split.PlatformKobo > 0 {
		err := e.store.AppendLedgerEntry(ctx, &model.LedgerEntry{
			EntryID:    "le_" + uuid.NewString(),
			QuoteID:    a.quoteID,
			PayoutID:   a.payoutID,
			Kind:       model.KindPlatformFee,
			Currency:   model.CurrencyNGN,
			AmountKobo: split.PlatformKobo,
			Memo:       "Fee accrual on settlement tx " + a.txHash,
			CreatedAt:  now,
		})
		if err != nil {
			return out, fmt.Errorf("append platform fee: %w", err)
		}
		metrics.FeesKobo.WithLabelValues(string(model.KindPlatformFee)).Add(float64(split.PlatformKobo))
	}

	if split.LPKobo > 0 {
		err := e.store.AppendLedgerEntry(ctx, &model.LedgerEntry{
			EntryID:    "le_" + uuid.NewString(),
			QuoteID:    a.quoteID,
			PayoutID:   a.payoutID,
			ProviderID: providerID,
			Kind:       model.KindLPFee,
			Currency:   model.CurrencyNGN,
			AmountKobo: split.LPKobo,
			Memo:       "LP fee accrual on settlement tx " + a.txHash,
			CreatedAt:  now,
		})
		if err != nil {
			return out, fmt.Errorf("append lp fee: %w", err)
		}
		if _, err := e.store.AdjustProviderBalance(ctx, providerID, split.LPKobo); err != nil {
			return out, fmt.Errorf("credit provider %s: %w", providerID, err)
		}
		metrics.FeesKobo.WithLabelValues(string(model.KindLPFee)).Add(float64(split.LPKobo))
	}

	slog.Info("fees accrued",
		"quote_id", a.quoteID,
		"payout_id", a.payoutID,
		"total_kobo", split.TotalKobo,
		"platform_kobo", split.PlatformKobo,
		"lp_kobo", split.LPKobo,
		"provider_id", providerID,
	)
	return out, nil
}
