// Package payout adapts the banking partner that moves naira to the
// recipient's bank account.
package payout

import (
	"context"
	"errors"
)

// ErrProvider wraps every failure reported by a payout provider.
var ErrProvider = errors.New("payout: provider error")

// RecipientRequest identifies the destination bank account.
type RecipientRequest struct {
	Name          string
	AccountNumber string
	BankCode      string
	Currency      string
}

// TransferRequest moves AmountKobo to a previously created recipient.
// Reference is the caller's idempotency reference, echoed back by the
// provider in webhooks.
type TransferRequest struct {
	AmountKobo    int64
	Currency      string
	RecipientCode string
	Reason        string
	Reference     string
}

// Transfer is the provider's acknowledgement of a transfer request.
type Transfer struct {
	Provider     string `json:"provider"`
	TransferCode string `json:"transferCode"`
	TransferRef  string `json:"transferRef"`
	Status       string `json:"status"`
}

// Gateway is the payout provider contract consumed by the settlement engine.
type Gateway interface {
	CreateRecipient(ctx context.Context, req RecipientRequest) (string, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
}
