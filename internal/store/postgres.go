package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clovapay/offramp-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Crypto and NGN amounts are stored as NUMERIC for exact decimal precision;
// kobo amounts are BIGINT.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// --- Settlements ---

const settlementColumns = `settlement_id, tx_hash, quote_id, asset, amount_crypto::TEXT,
	confirmations, source, status, created_at, updated_at`

func scanSettlement(row rowScanner) (*model.Settlement, error) {
	var st model.Settlement
	var amount string
	if err := row.Scan(&st.SettlementID, &st.TxHash, &st.QuoteID, &st.Asset, &amount,
		&st.Confirmations, &st.Source, &st.Status, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.AmountCrypto, _ = decimal.NewFromString(amount)
	return &st, nil
}

func (s *PostgresStore) CreateSettlementIfAbsent(ctx context.Context, st *model.Settlement) (*model.Settlement, bool, error) {
	txHash := model.NormalizeTxHash(st.TxHash)

	// RETURNING yields no row when the unique key already exists.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO settlements (settlement_id, tx_hash, quote_id, asset, amount_crypto,
		                          confirmations, source, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9, $10)
		 ON CONFLICT (tx_hash) DO NOTHING
		 RETURNING `+settlementColumns,
		st.SettlementID, txHash, st.QuoteID, st.Asset, st.AmountCrypto.String(),
		st.Confirmations, st.Source, st.Status, st.CreatedAt, st.UpdatedAt,
	)
	created, err := scanSettlement(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert settlement %s: %w", txHash, err)
	}

	existing, err := s.GetSettlement(ctx, txHash)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) GetSettlement(ctx context.Context, txHash string) (*model.Settlement, error) {
	txHash = model.NormalizeTxHash(txHash)
	st, err := scanSettlement(s.pool.QueryRow(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE tx_hash = $1`, txHash))
	if err != nil {
		return nil, notFound(err, "get settlement "+txHash)
	}
	return st, nil
}

func (s *PostgresStore) ListSettlementsByQuote(ctx context.Context, quoteID string) ([]model.Settlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE quote_id = $1 ORDER BY created_at`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// --- Orders ---

const orderColumns = `order_id, asset, amount_crypto::TEXT, rate::TEXT, fee_bps, fee_ngn::TEXT,
	receive_ngn::TEXT, deposit_address, recipient_name, recipient_account, recipient_bank_code,
	status, payout_id, transfer_code, tx_hash, failure_reason, expires_at, created_at, updated_at`

func scanOrder(row rowScanner) (*model.Order, error) {
	var o model.Order
	var amount, rate, feeNgn, receiveNgn string
	if err := row.Scan(&o.OrderID, &o.Asset, &amount, &rate, &o.FeeBps, &feeNgn,
		&receiveNgn, &o.DepositAddress, &o.RecipientName, &o.RecipientAccount, &o.RecipientBankCode,
		&o.Status, &o.PayoutID, &o.TransferCode, &o.TxHash, &o.FailureReason,
		&o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.AmountCrypto, _ = decimal.NewFromString(amount)
	o.Rate, _ = decimal.NewFromString(rate)
	o.FeeNgn, _ = decimal.NewFromString(feeNgn)
	o.ReceiveNgn, _ = decimal.NewFromString(receiveNgn)
	return &o, nil
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO orders (order_id, asset, amount_crypto, rate, fee_bps, fee_ngn, receive_ngn,
		                     deposit_address, recipient_name, recipient_account, recipient_bank_code,
		                     status, payout_id, transfer_code, tx_hash, failure_reason,
		                     expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6::NUMERIC, $7::NUMERIC,
		         $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (order_id) DO NOTHING`,
		o.OrderID, o.Asset, o.AmountCrypto.String(), o.Rate.String(), o.FeeBps, o.FeeNgn.String(), o.ReceiveNgn.String(),
		o.DepositAddress, o.RecipientName, o.RecipientAccount, o.RecipientBankCode,
		o.Status, o.PayoutID, o.TransferCode, o.TxHash, o.FailureReason,
		o.ExpiresAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", o.OrderID, ErrConflict)
	}
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID))
	if err != nil {
		return nil, notFound(err, "get order "+orderID)
	}
	return o, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) TransitionOrder(ctx context.Context, orderID string, to model.OrderStatus, patch model.OrderPatch) (*model.Order, error) {
	allowed := model.AllowedFrom(to)
	from := make([]string, len(allowed))
	for i, st := range allowed {
		from[i] = string(st)
	}

	// The status guard makes the transition a compare-and-set.
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`UPDATE orders
		 SET status = $2,
		     payout_id = COALESCE(NULLIF($4, ''), payout_id),
		     transfer_code = COALESCE(NULLIF($5, ''), transfer_code),
		     tx_hash = COALESCE(NULLIF($6, ''), tx_hash),
		     failure_reason = COALESCE(NULLIF($7, ''), failure_reason),
		     updated_at = now()
		 WHERE order_id = $1 AND status = ANY($3::TEXT[])
		 RETURNING `+orderColumns,
		orderID, to, from, patch.PayoutID, patch.TransferCode, patch.TxHash, patch.FailureReason,
	))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition order %s: %w", orderID, err)
	}

	current, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("order %s %s -> %s: %w", orderID, current.Status, to, ErrIllegalTransition)
}

func (s *PostgresStore) ExpireOrders(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders
		 SET status = 'expired', updated_at = now()
		 WHERE status = 'awaiting_deposit' AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Payouts ---

const payoutColumns = `payout_id, quote_id, amount_kobo, currency, recipient_code, reason, status,
	provider, transfer_code, transfer_ref, failure_reason, created_at, updated_at`

func scanPayout(row rowScanner) (*model.Payout, error) {
	var p model.Payout
	if err := row.Scan(&p.PayoutID, &p.QuoteID, &p.AmountKobo, &p.Currency, &p.RecipientCode, &p.Reason, &p.Status,
		&p.Provider, &p.TransferCode, &p.TransferRef, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) CreatePayout(ctx context.Context, p *model.Payout) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO payouts (`+payoutColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (payout_id) DO NOTHING`,
		p.PayoutID, p.QuoteID, p.AmountKobo, p.Currency, p.RecipientCode, p.Reason, p.Status,
		p.Provider, p.TransferCode, p.TransferRef, p.FailureReason, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payout %s: %w", p.PayoutID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payout %s: %w", p.PayoutID, ErrConflict)
	}
	return nil
}

func (s *PostgresStore) GetPayout(ctx context.Context, payoutID string) (*model.Payout, error) {
	p, err := scanPayout(s.pool.QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE payout_id = $1`, payoutID))
	if err != nil {
		return nil, notFound(err, "get payout "+payoutID)
	}
	return p, nil
}

func (s *PostgresStore) FindPayoutByQuote(ctx context.Context, quoteID string) (*model.Payout, error) {
	p, err := scanPayout(s.pool.QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE quote_id = $1
		 ORDER BY created_at DESC LIMIT 1`, quoteID))
	if err != nil {
		return nil, notFound(err, "payout for quote "+quoteID)
	}
	return p, nil
}

func (s *PostgresStore) FindPayoutByTransferRef(ctx context.Context, ref string) (*model.Payout, error) {
	p, err := scanPayout(s.pool.QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payouts
		 WHERE transfer_ref = $1 OR transfer_code = $1
		 LIMIT 1`, ref))
	if err != nil {
		return nil, notFound(err, "payout for transfer "+ref)
	}
	return p, nil
}

func (s *PostgresStore) ListPayouts(ctx context.Context) ([]model.Payout, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+payoutColumns+` FROM payouts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []model.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}

func (s *PostgresStore) UpdatePayoutStatus(ctx context.Context, payoutID string, status model.PayoutStatus, failureReason string) (*model.Payout, bool, error) {
	p, err := scanPayout(s.pool.QueryRow(ctx,
		`UPDATE payouts
		 SET status = $2,
		     failure_reason = COALESCE(NULLIF($3, ''), failure_reason),
		     updated_at = now()
		 WHERE payout_id = $1 AND status = 'processing' AND status <> $2
		 RETURNING `+payoutColumns,
		payoutID, status, failureReason,
	))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("update payout %s: %w", payoutID, err)
	}

	current, err := s.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// --- Ledger ---

func (s *PostgresStore) AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (entry_id, quote_id, payout_id, provider_id, kind, currency, amount_kobo, memo, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.EntryID, e.QuoteID, e.PayoutID, e.ProviderID, e.Kind, e.Currency, e.AmountKobo, e.Memo, e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListLedgerEntriesByQuote(ctx context.Context, quoteID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entry_id, quote_id, payout_id, provider_id, kind, currency, amount_kobo, memo, created_at
		 FROM ledger_entries WHERE quote_id = $1 ORDER BY created_at`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.EntryID, &e.QuoteID, &e.PayoutID, &e.ProviderID, &e.Kind,
			&e.Currency, &e.AmountKobo, &e.Memo, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Liquidity providers ---

const providerColumns = `provider_id, name, currency, balance_kobo, fee_bps, created_at, updated_at`

func scanProvider(row rowScanner) (*model.LiquidityProvider, error) {
	var p model.LiquidityProvider
	if err := row.Scan(&p.ProviderID, &p.Name, &p.Currency, &p.BalanceKobo, &p.FeeBps,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) UpsertProvider(ctx context.Context, p *model.LiquidityProvider) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO liquidity_providers (`+providerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (provider_id) DO UPDATE
		 SET name = EXCLUDED.name, currency = EXCLUDED.currency,
		     fee_bps = EXCLUDED.fee_bps, updated_at = EXCLUDED.updated_at`,
		p.ProviderID, p.Name, p.Currency, p.BalanceKobo, p.FeeBps, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetProvider(ctx context.Context, providerID string) (*model.LiquidityProvider, error) {
	p, err := scanProvider(s.pool.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM liquidity_providers WHERE provider_id = $1`, providerID))
	if err != nil {
		return nil, notFound(err, "get provider "+providerID)
	}
	return p, nil
}

func (s *PostgresStore) ListProviders(ctx context.Context) ([]model.LiquidityProvider, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+providerColumns+` FROM liquidity_providers ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []model.LiquidityProvider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, *p)
	}
	return providers, rows.Err()
}

func (s *PostgresStore) AdjustProviderBalance(ctx context.Context, providerID string, deltaKobo int64) (*model.LiquidityProvider, error) {
	p, err := scanProvider(s.pool.QueryRow(ctx,
		`UPDATE liquidity_providers
		 SET balance_kobo = balance_kobo + $2, updated_at = now()
		 WHERE provider_id = $1
		 RETURNING `+providerColumns,
		providerID, deltaKobo,
	))
	if err != nil {
		return nil, notFound(err, "adjust provider "+providerID)
	}
	return p, nil
}
