package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clovapay/offramp-engine/internal/metrics"
	"github.com/clovapay/offramp-engine/internal/model"
	"github.com/clovapay/offramp-engine/internal/payout"
	"github.com/clovapay/offramp-engine/internal/store"
)

// Reconciliation reports what a provider callback changed.
type Reconciliation struct {
	Payout  *model.Payout `json:"payout"`
	Order   *model.Order  `json:"order,omitempty"`
	Changed bool          `json:"changed"`
}

// ReconcileTransfer applies a terminal transfer status reported by the
// payout provider. Payouts already terminal are left as they are, and the
// linked order only moves forward through the guarded transition.
func (e *Engine) ReconcileTransfer(ctx context.Context, u payout.TransferUpdate) (*Reconciliation, error) {
	if !u.Status.IsTerminal() {
		return nil, fmt.Errorf("reconcile %s: status %q is not terminal", u.Ref(), u.Status)
	}

	p, err := e.store.FindPayoutByTransferRef(ctx, u.Ref())
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPayoutNotFound, u.Ref())
	}
	if err != nil {
		return nil, fmt.Errorf("find payout %s: %w", u.Ref(), err)
	}

	// A retried callback finds the payout terminal and stops, so the order
	// must follow even if the caller gives up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.PayoutTimeout)
	defer cancel()

	updated, changed, err := e.store.UpdatePayoutStatus(ctx, p.PayoutID, u.Status, u.Reason)
	if err != nil {
		return nil, fmt.Errorf("update payout %s: %w", p.PayoutID, err)
	}
	res := &Reconciliation{Payout: updated, Changed: changed}
	if !changed {
		slog.Info("payout already terminal, ignoring callback",
			"payout_id", p.PayoutID,
			"status", updated.Status,
			"event", u.Event,
		)
		return res, nil
	}
	metrics.PayoutsTotal.WithLabelValues(string(updated.Status)).Inc()

	order, err := e.store.GetOrder(ctx, updated.QuoteID)
	if errors.Is(err, store.ErrNotFound) {
		// Payouts created outside the order flow have no order to follow.
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", updated.QuoteID, err)
	}

	target := model.OrderSettled
	patch := model.OrderPatch{}
	if updated.Status == model.PayoutFailed {
		target = model.OrderFailed
		patch.FailureReason = updated.FailureReason
		if patch.FailureReason == "" {
			patch.FailureReason = "payout_failed"
		}
	}

	next, err := e.store.TransitionOrder(ctx, order.OrderID, target, patch)
	if errors.Is(err, store.ErrIllegalTransition) {
		slog.Warn("order cannot follow payout status",
			"order_id", order.OrderID,
			"order_status", order.Status,
			"payout_status", updated.Status,
		)
		res.Order = order
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transition order %s: %w", order.OrderID, err)
	}
	e.notifier.OrderUpdated(next)
	res.Order = next

	slog.Info("payout reconciled",
		"payout_id", updated.PayoutID,
		"order_id", next.OrderID,
		"payout_status", updated.Status,
		"order_status", next.Status,
	)
	return res, nil
}
