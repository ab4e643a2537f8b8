// Package model defines the core domain types shared across the offramp engine.
// Crypto amounts and fiat quotes use shopspring/decimal; money that moves
// through the banking partner is held in kobo (int64 minor units).
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Asset identifies a deposit token on a specific chain.
type Asset string

const (
	AssetCUSDCelo    Asset = "cUSD_CELO"
	AssetUSDCBase    Asset = "USDC_BASE"
	AssetUSDCxStacks Asset = "USDCX_STACKS"
)

// Valid reports whether a is one of the supported deposit assets.
func (a Asset) Valid() bool {
	switch a {
	case AssetCUSDCelo, AssetUSDCBase, AssetUSDCxStacks:
		return true
	}
	return false
}

// CurrencyNGN is the only payout currency.
const CurrencyNGN = "NGN"

// Order is one offramp intent: a user deposits AmountCrypto of Asset to
// DepositAddress and receives ReceiveNgn in the recipient bank account.
type Order struct {
	OrderID           string          `json:"orderId" db:"order_id"`
	Asset             Asset           `json:"asset" db:"asset"`
	AmountCrypto      decimal.Decimal `json:"amountCrypto" db:"amount_crypto"`
	Rate              decimal.Decimal `json:"rate" db:"rate"` // NGN per unit of asset
	FeeBps            int64           `json:"feeBps" db:"fee_bps"`
	FeeNgn            decimal.Decimal `json:"feeNgn" db:"fee_ngn"`
	ReceiveNgn        decimal.Decimal `json:"receiveNgn" db:"receive_ngn"`
	DepositAddress    string          `json:"depositAddress" db:"deposit_address"`
	RecipientName     string          `json:"recipientName" db:"recipient_name"`
	RecipientAccount  string          `json:"recipientAccount" db:"recipient_account"`
	RecipientBankCode string          `json:"recipientBankCode" db:"recipient_bank_code"`
	Status            OrderStatus     `json:"status" db:"status"`
	PayoutID          string          `json:"payoutId,omitempty" db:"payout_id"`
	TransferCode      string          `json:"transferCode,omitempty" db:"transfer_code"`
	TxHash            string          `json:"txHash,omitempty" db:"tx_hash"`
	FailureReason     string          `json:"failureReason,omitempty" db:"failure_reason"`
	ExpiresAt         time.Time       `json:"expiresAt" db:"expires_at"`
	CreatedAt         time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time       `json:"updatedAt" db:"updated_at"`
}

// GrossNgn is the quoted fiat value of the deposit before fees.
func (o *Order) GrossNgn() decimal.Decimal {
	return o.AmountCrypto.Mul(o.Rate)
}

// OrderPatch carries the optional fields written alongside a status
// transition. Empty strings leave the stored value untouched.
type OrderPatch struct {
	PayoutID      string
	TransferCode  string
	TxHash        string
	FailureReason string
}

// Apply copies the non-empty fields of p onto o.
func (p OrderPatch) Apply(o *Order) {
	if p.PayoutID != "" {
		o.PayoutID = p.PayoutID
	}
	if p.TransferCode != "" {
		o.TransferCode = p.TransferCode
	}
	if p.TxHash != "" {
		o.TxHash = p.TxHash
	}
	if p.FailureReason != "" {
		o.FailureReason = p.FailureReason
	}
}

// SettlementSource tags where a deposit notification came from.
type SettlementSource string

const (
	SourceWatcher SettlementSource = "watcher"
	SourceManual  SettlementSource = "manual"
)

// SettlementCredited is the only status a settlement record ever has.
// Rejected verifications never produce a record.
const SettlementCredited = "credited"

// Settlement is one verified, credited on-chain deposit. TxHash is the
// idempotency key: at most one settlement exists per normalized hash.
type Settlement struct {
	SettlementID  string           `json:"settlementId" db:"settlement_id"`
	TxHash        string           `json:"txHash" db:"tx_hash"`
	QuoteID       string           `json:"quoteId" db:"quote_id"`
	Asset         Asset            `json:"asset" db:"asset"`
	AmountCrypto  decimal.Decimal  `json:"amountCrypto" db:"amount_crypto"`
	Confirmations int64            `json:"confirmations" db:"confirmations"`
	Source        SettlementSource `json:"source" db:"source"`
	Status        string           `json:"status" db:"status"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time        `json:"updatedAt" db:"updated_at"`
}

// NormalizeTxHash returns the canonical form of a transaction hash used as
// the settlement idempotency key.
func NormalizeTxHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// PayoutStatus is the lifecycle of a bank transfer attempt.
type PayoutStatus string

const (
	PayoutProcessing PayoutStatus = "processing"
	PayoutSettled    PayoutStatus = "settled"
	PayoutFailed     PayoutStatus = "failed"
)

// IsTerminal reports whether s can no longer change.
func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutSettled || s == PayoutFailed
}

// Payout is one money-movement attempt against the banking partner,
// linked to an order through QuoteID.
type Payout struct {
	PayoutID      string       `json:"payoutId" db:"payout_id"`
	QuoteID       string       `json:"quoteId" db:"quote_id"`
	AmountKobo    int64        `json:"amountKobo" db:"amount_kobo"`
	Currency      string       `json:"currency" db:"currency"`
	RecipientCode string       `json:"recipientCode" db:"recipient_code"`
	Reason        string       `json:"reason,omitempty" db:"reason"`
	Status        PayoutStatus `json:"status" db:"status"`
	Provider      string       `json:"provider" db:"provider"`
	TransferCode  string       `json:"transferCode,omitempty" db:"transfer_code"`
	TransferRef   string       `json:"transferRef,omitempty" db:"transfer_ref"`
	FailureReason string       `json:"failureReason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time    `json:"updatedAt" db:"updated_at"`
}

// LedgerKind classifies a fee accrual.
type LedgerKind string

const (
	KindPlatformFee LedgerKind = "platform_fee"
	KindLPFee       LedgerKind = "lp_fee"
)

// LedgerEntry is an immutable fee-accrual record.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	EntryID    string     `json:"entryId" db:"entry_id"`
	QuoteID    string     `json:"quoteId" db:"quote_id"`
	PayoutID   string     `json:"payoutId,omitempty" db:"payout_id"`
	ProviderID string     `json:"providerId,omitempty" db:"provider_id"`
	Kind       LedgerKind `json:"kind" db:"kind"`
	Currency   string     `json:"currency" db:"currency"`
	AmountKobo int64      `json:"amountKobo" db:"amount_kobo"`
	Memo       string     `json:"memo" db:"memo"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
}

// LiquidityProvider is a fee-sharing counterparty. BalanceKobo only changes
// through a single atomic additive adjustment.
type LiquidityProvider struct {
	ProviderID  string    `json:"providerId" db:"provider_id"`
	Name        string    `json:"name" db:"name"`
	Currency    string    `json:"currency" db:"currency"`
	BalanceKobo int64     `json:"balanceKobo" db:"balance_kobo"`
	FeeBps      int64     `json:"feeBps" db:"fee_bps"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}
