// Package store defines the persistence interface for the offramp engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache) and in-memory (for testing and local development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/clovapay/offramp-engine/internal/model"
)

var (
	// ErrNotFound is returned (wrapped) when a keyed lookup has no row.
	ErrNotFound = errors.New("store: not found")

	// ErrIllegalTransition is returned when an order status change would
	// violate the order state machine.
	ErrIllegalTransition = errors.New("store: illegal order transition")

	// ErrConflict is returned when a create collides with an existing key.
	ErrConflict = errors.New("store: already exists")
)

// Store is the ledger persistence interface. PostgreSQL is the source of
// truth; Redis provides a read-through cache layer.
type Store interface {
	// --- Settlements (idempotency keyed by normalized tx hash) ---

	// CreateSettlementIfAbsent inserts s unless a settlement with the same
	// tx hash exists. It returns the stored record and whether this call
	// inserted it. The check and the insert are one atomic operation.
	CreateSettlementIfAbsent(ctx context.Context, s *model.Settlement) (*model.Settlement, bool, error)

	// GetSettlement retrieves a settlement by tx hash.
	GetSettlement(ctx context.Context, txHash string) (*model.Settlement, error)

	// ListSettlementsByQuote returns all settlements recorded for a quote/order id.
	ListSettlementsByQuote(ctx context.Context, quoteID string) ([]model.Settlement, error)

	// --- Orders ---

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)

	// TransitionOrder moves an order to status `to` and applies patch, but
	// only if the current status may legally transition there.
	TransitionOrder(ctx context.Context, orderID string, to model.OrderStatus, patch model.OrderPatch) (*model.Order, error)

	// ExpireOrders marks awaiting_deposit orders past their expiry as expired.
	ExpireOrders(ctx context.Context, now time.Time) (int64, error)

	// --- Payouts ---

	CreatePayout(ctx context.Context, p *model.Payout) error
	GetPayout(ctx context.Context, payoutID string) (*model.Payout, error)
	FindPayoutByQuote(ctx context.Context, quoteID string) (*model.Payout, error)

	// FindPayoutByTransferRef matches either the transfer reference or the
	// transfer code reported by the payout provider.
	FindPayoutByTransferRef(ctx context.Context, ref string) (*model.Payout, error)
	ListPayouts(ctx context.Context) ([]model.Payout, error)

	// UpdatePayoutStatus moves a processing payout to a terminal status.
	// Terminal payouts are left untouched and reported with changed=false.
	UpdatePayoutStatus(ctx context.Context, payoutID string, status model.PayoutStatus, failureReason string) (p *model.Payout, changed bool, err error)

	// --- Immutable fee ledger ---

	AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
	ListLedgerEntriesByQuote(ctx context.Context, quoteID string) ([]model.LedgerEntry, error)

	// --- Liquidity providers ---

	UpsertProvider(ctx context.Context, p *model.LiquidityProvider) error
	GetProvider(ctx context.Context, providerID string) (*model.LiquidityProvider, error)
	ListProviders(ctx context.Context) ([]model.LiquidityProvider, error)

	// AdjustProviderBalance adds deltaKobo to the provider balance atomically.
	AdjustProviderBalance(ctx context.Context, providerID string, deltaKobo int64) (*model.LiquidityProvider, error)
}
