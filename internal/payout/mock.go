package payout

import (
	"context"
	"fmt"
	"sync/atomic"
)

// MockGateway accepts every request without moving money. Codes are
// deterministic per instance so local runs are reproducible.
type MockGateway struct {
	seq atomic.Int64
}

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (m *MockGateway) CreateRecipient(_ context.Context, req RecipientRequest) (string, error) {
	if req.AccountNumber == "" || req.BankCode == "" {
		return "", fmt.Errorf("mock recipient: missing account details: %w", ErrProvider)
	}
	return fmt.Sprintf("RCP_mock_%s_%s", req.BankCode, req.AccountNumber), nil
}

func (m *MockGateway) CreateTransfer(_ context.Context, req TransferRequest) (*Transfer, error) {
	if req.AmountKobo <= 0 {
		return nil, fmt.Errorf("mock transfer: amount must be positive: %w", ErrProvider)
	}
	n := m.seq.Add(1)
	ref := req.Reference
	if ref == "" {
		ref = fmt.Sprintf("mock_ref_%d", n)
	}
	return &Transfer{
		Provider:     "paystack-mock",
		TransferCode: fmt.Sprintf("TRF_mock_%d", n),
		TransferRef:  ref,
		Status:       "pending",
	}, nil
}
