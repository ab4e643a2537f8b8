package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clovapay/offramp-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Only single-record lookups are cached. Settlement creation and every
// guarded update always go to the primary so the atomic checks stay there.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.CreateOrder(ctx, o); err != nil {
		return err
	}
	s.cache(ctx, orderKey(o.OrderID), o)
	return nil
}

func (s *CachedStore) TransitionOrder(ctx context.Context, orderID string, to model.OrderStatus, patch model.OrderPatch) (*model.Order, error) {
	o, err := s.primary.TransitionOrder(ctx, orderID, to, patch)
	// Invalidate even on failure: a rejected transition means the cached
	// status is probably stale.
	s.rdb.Del(ctx, orderKey(orderID))
	return o, err
}

func (s *CachedStore) ExpireOrders(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.primary.ExpireOrders(ctx, now)
	if err != nil || n == 0 {
		return n, err
	}
	// Expired ids are not returned; drop every cached order.
	s.deletePattern(ctx, "offramp:order:*")
	return n, nil
}

func (s *CachedStore) CreatePayout(ctx context.Context, p *model.Payout) error {
	if err := s.primary.CreatePayout(ctx, p); err != nil {
		return err
	}
	s.cache(ctx, payoutKey(p.PayoutID), p)
	return nil
}

func (s *CachedStore) UpdatePayoutStatus(ctx context.Context, payoutID string, status model.PayoutStatus, failureReason string) (*model.Payout, bool, error) {
	p, changed, err := s.primary.UpdatePayoutStatus(ctx, payoutID, status, failureReason)
	if changed {
		s.rdb.Del(ctx, payoutKey(payoutID))
	}
	return p, changed, err
}

func (s *CachedStore) CreateSettlementIfAbsent(ctx context.Context, st *model.Settlement) (*model.Settlement, bool, error) {
	return s.primary.CreateSettlementIfAbsent(ctx, st)
}

func (s *CachedStore) AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	return s.primary.AppendLedgerEntry(ctx, e)
}

func (s *CachedStore) UpsertProvider(ctx context.Context, p *model.LiquidityProvider) error {
	if err := s.primary.UpsertProvider(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, providerKey(p.ProviderID))
	return nil
}

func (s *CachedStore) AdjustProviderBalance(ctx context.Context, providerID string, deltaKobo int64) (*model.LiquidityProvider, error) {
	p, err := s.primary.AdjustProviderBalance(ctx, providerID, deltaKobo)
	s.rdb.Del(ctx, providerKey(providerID))
	return p, err
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var o model.Order
	if s.lookup(ctx, orderKey(orderID), &o) {
		return &o, nil
	}

	// Cache miss: read from primary.
	fresh, err := s.primary.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, orderKey(orderID), fresh)
	return fresh, nil
}

func (s *CachedStore) GetPayout(ctx context.Context, payoutID string) (*model.Payout, error) {
	var p model.Payout
	if s.lookup(ctx, payoutKey(payoutID), &p) {
		return &p, nil
	}

	fresh, err := s.primary.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, payoutKey(payoutID), fresh)
	return fresh, nil
}

func (s *CachedStore) GetProvider(ctx context.Context, providerID string) (*model.LiquidityProvider, error) {
	var p model.LiquidityProvider
	if s.lookup(ctx, providerKey(providerID), &p) {
		return &p, nil
	}

	fresh, err := s.primary.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, providerKey(providerID), fresh)
	return fresh, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetSettlement(ctx context.Context, txHash string) (*model.Settlement, error) {
	return s.primary.GetSettlement(ctx, txHash)
}

func (s *CachedStore) ListSettlementsByQuote(ctx context.Context, quoteID string) ([]model.Settlement, error) {
	return s.primary.ListSettlementsByQuote(ctx, quoteID)
}

func (s *CachedStore) ListOrders(ctx context.Context) ([]model.Order, error) {
	return s.primary.ListOrders(ctx)
}

func (s *CachedStore) FindPayoutByQuote(ctx context.Context, quoteID string) (*model.Payout, error) {
	return s.primary.FindPayoutByQuote(ctx, quoteID)
}

func (s *CachedStore) FindPayoutByTransferRef(ctx context.Context, ref string) (*model.Payout, error) {
	return s.primary.FindPayoutByTransferRef(ctx, ref)
}

func (s *CachedStore) ListPayouts(ctx context.Context) ([]model.Payout, error) {
	return s.primary.ListPayouts(ctx)
}

func (s *CachedStore) ListLedgerEntriesByQuote(ctx context.Context, quoteID string) ([]model.LedgerEntry, error) {
	return s.primary.ListLedgerEntriesByQuote(ctx, quoteID)
}

func (s *CachedStore) ListProviders(ctx context.Context) ([]model.LiquidityProvider, error) {
	return s.primary.ListProviders(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) deletePattern(ctx context.Context, pattern string) {
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
}

func orderKey(id string) string    { return fmt.Sprintf("offramp:order:%s", id) }
func payoutKey(id string) string   { return fmt.Sprintf("offramp:payout:%s", id) }
func providerKey(id string) string { return fmt.Sprintf("offramp:provider:%s", id) }
