package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/clovapay/offramp-engine/internal/chain"
	"github.com/clovapay/offramp-engine/internal/metrics"
	"github.com/clovapay/offramp-engine/internal/model"
)

// verifyDeposit checks the claimed transaction against the order. Watcher
// events get a propagation grace period first. Only retryable verdicts are
// retried, at most MaxVerifyAttempts calls in total. The returned error is
// non-nil only when ctx ends during a wait.
func (e *Engine) verifyDeposit(ctx context.Context, ev Event, order *model.Order) (chain.Verdict, error) {
	start := time.Now()
	defer func() {
		metrics.VerificationLatency.WithLabelValues(string(order.Asset)).Observe(time.Since(start).Seconds())
	}()

	if ev.Source == model.SourceWatcher {
		if err := e.sleep(ctx, e.cfg.PreCheckDelay); err != nil {
			return chain.Verdict{}, err
		}
	}

	req := chain.Request{
		TxHash:            ev.TxHash,
		Asset:             order.Asset,
		ExpectedAmount:    order.AmountCrypto,
		ExpectedRecipient: order.DepositAddress,
	}
	if e.assets != nil {
		req.MinConfirmations = e.assets.MinConfirmations(order.Asset)
	}

	var verdict chain.Verdict
	for attempt := 1; attempt <= e.cfg.MaxVerifyAttempts; attempt++ {
		verdict = e.verifier.Verify(ctx, req)
		metrics.VerificationsTotal.WithLabelValues(string(order.Asset), string(verdict.Reason)).Inc()

		if verdict.Verified || !verdict.Reason.Retryable() || attempt == e.cfg.MaxVerifyAttempts {
			break
		}
		slog.Info("deposit not yet verifiable, retrying",
			"order_id", order.OrderID,
			"tx_hash", ev.TxHash,
			"reason", verdict.Reason,
			"attempt", attempt,
		)
		if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
			return chain.Verdict{}, err
		}
	}
	return verdict, nil
}
