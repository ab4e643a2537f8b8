package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clovapay/offramp-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	orders      map[string]*model.Order
	settlements map[string]*model.Settlement // keyed by normalized tx hash
	payouts     map[string]*model.Payout
	providers   map[string]*model.LiquidityProvider
	ledger      []model.LedgerEntry
	now         func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[string]*model.Order),
		settlements: make(map[string]*model.Settlement),
		payouts:     make(map[string]*model.Payout),
		providers:   make(map[string]*model.LiquidityProvider),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateSettlementIfAbsent(_ context.Context, st *model.Settlement) (*model.Settlement, bool, error) {
	key := model.NormalizeTxHash(st.TxHash)

	// Check and insert happen under the same write lock.
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.settlements[key]; ok {
		copy := *existing
		return &copy, false, nil
	}
	stored := *st
	stored.TxHash = key
	s.settlements[key] = &stored
	copy := stored
	return &copy, true, nil
}

func (s *MemoryStore) GetSettlement(_ context.Context, txHash string) (*model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settlements[model.NormalizeTxHash(txHash)]
	if !ok {
		return nil, fmt.Errorf("settlement %s: %w", txHash, ErrNotFound)
	}
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) ListSettlementsByQuote(_ context.Context, quoteID string) ([]model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Settlement
	for _, st := range s.settlements {
		if st.QuoteID == quoteID {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.OrderID]; ok {
		return fmt.Errorf("order %s: %w", o.OrderID, ErrConflict)
	}
	// Store a copy to avoid external mutation.
	copy := *o
	s.orders[o.OrderID] = &copy
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, orderID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) ListOrders(_ context.Context) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (s *MemoryStore) TransitionOrder(_ context.Context, orderID string, to model.OrderStatus, patch model.OrderPatch) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if !model.CanTransition(o.Status, to) {
		return nil, fmt.Errorf("order %s %s -> %s: %w", orderID, o.Status, to, ErrIllegalTransition)
	}
	o.Status = to
	patch.Apply(o)
	o.UpdatedAt = s.now()
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) ExpireOrders(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, o := range s.orders {
		if o.Status == model.OrderAwaitingDeposit && o.ExpiresAt.Before(now) {
			o.Status = model.OrderExpired
			o.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreatePayout(_ context.Context, p *model.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payouts[p.PayoutID]; ok {
		return fmt.Errorf("payout %s: %w", p.PayoutID, ErrConflict)
	}
	copy := *p
	s.payouts[p.PayoutID] = &copy
	return nil
}

func (s *MemoryStore) GetPayout(_ context.Context, payoutID string) (*model.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payouts[payoutID]
	if !ok {
		return nil, fmt.Errorf("payout %s: %w", payoutID, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) FindPayoutByQuote(_ context.Context, quoteID string) (*model.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *model.Payout
	for _, p := range s.payouts {
		if p.QuoteID != quoteID {
			continue
		}
		if found == nil || p.CreatedAt.After(found.CreatedAt) {
			found = p
		}
	}
	if found == nil {
		return nil, fmt.Errorf("payout for quote %s: %w", quoteID, ErrNotFound)
	}
	copy := *found
	return &copy, nil
}

func (s *MemoryStore) FindPayoutByTransferRef(_ context.Context, ref string) (*model.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.payouts {
		if p.TransferRef == ref || p.TransferCode == ref {
			copy := *p
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("payout for transfer %s: %w", ref, ErrNotFound)
}

func (s *MemoryStore) ListPayouts(_ context.Context) ([]model.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payouts := make([]model.Payout, 0, len(s.payouts))
	for _, p := range s.payouts {
		payouts = append(payouts, *p)
	}
	sort.Slice(payouts, func(i, j int) bool { return payouts[i].CreatedAt.After(payouts[j].CreatedAt) })
	return payouts, nil
}

func (s *MemoryStore) UpdatePayoutStatus(_ context.Context, payoutID string, status model.PayoutStatus, failureReason string) (*model.Payout, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payouts[payoutID]
	if !ok {
		return nil, false, fmt.Errorf("payout %s: %w", payoutID, ErrNotFound)
	}
	if p.Status.IsTerminal() || p.Status == status {
		copy := *p
		return &copy, false, nil
	}
	p.Status = status
	if failureReason != "" {
		p.FailureReason = failureReason
	}
	p.UpdatedAt = s.now()
	copy := *p
	return &copy, true, nil
}

func (s *MemoryStore) AppendLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *e)
	return nil
}

func (s *MemoryStore) ListLedgerEntriesByQuote(_ context.Context, quoteID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.QuoteID == quoteID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) UpsertProvider(_ context.Context, p *model.LiquidityProvider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	s.providers[p.ProviderID] = &copy
	return nil
}

func (s *MemoryStore) GetProvider(_ context.Context, providerID string) (*model.LiquidityProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", providerID, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListProviders(_ context.Context) ([]model.LiquidityProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	providers := make([]model.LiquidityProvider, 0, len(s.providers))
	for _, p := range s.providers {
		providers = append(providers, *p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].CreatedAt.After(providers[j].CreatedAt) })
	return providers, nil
}

func (s *MemoryStore) AdjustProviderBalance(_ context.Context, providerID string, deltaKobo int64) (*model.LiquidityProvider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", providerID, ErrNotFound)
	}
	p.BalanceKobo += deltaKobo
	p.UpdatedAt = s.now()
	copy := *p
	return &copy, nil
}
