// Package worker runs the engine's periodic background jobs.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/clovapay/offramp-engine/internal/metrics"
)

// Expirer marks overdue orders expired. store.Store implements it.
type Expirer interface {
	ExpireOrders(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper expires orders whose deposit window has passed.
type Sweeper struct {
	Store    Expirer
	Interval time.Duration
	Now      func() time.Time
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			slog.Error("order expiry sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce expires overdue orders and reports how many changed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	n, err := s.Store.ExpireOrders(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ExpiredOrders.Add(float64(n))
		slog.Info("expired overdue orders", "count", n)
	}
	return n, nil
}
