package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const PaystackBaseURL = "https://api.paystack.co"

type Option func(*Options)

func WithBaseURL(url string) Option {
	return func(o *Options) {
		o.baseURL = strings.TrimRight(url, "/")
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) {
		o.client = c
	}
}

type Options struct {
	baseURL string
	client  *http.Client
}

// PaystackClient calls the Paystack transfer API.
type PaystackClient struct {
	client    *http.Client
	baseURL   string
	secretKey string
}

// NewPaystackClient creates a client authenticated with secretKey.
func NewPaystackClient(secretKey string, timeout time.Duration, options ...Option) *PaystackClient {
	opts := Options{
		baseURL: PaystackBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
	for _, option := range options {
		option(&opts)
	}
	return &PaystackClient{
		client:    opts.client,
		baseURL:   opts.baseURL,
		secretKey: secretKey,
	}
}

// envelope is the common Paystack response wrapper.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *PaystackClient) CreateRecipient(ctx context.Context, req RecipientRequest) (string, error) {
	body := map[string]string{
		"type":           "nuban",
		"name":           req.Name,
		"account_number": req.AccountNumber,
		"bank_code":      req.BankCode,
		"currency":       req.Currency,
	}
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := p.post(ctx, "/transferrecipient", body, &data); err != nil {
		return "", fmt.Errorf("create recipient: %w", err)
	}
	if data.RecipientCode == "" {
		return "", fmt.Errorf("create recipient: empty recipient_code: %w", ErrProvider)
	}
	return data.RecipientCode, nil
}

func (p *PaystackClient) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	body := map[string]any{
		"source":    "balance",
		"amount":    req.AmountKobo,
		"currency":  req.Currency,
		"recipient": req.RecipientCode,
		"reason":    req.Reason,
		"reference": req.Reference,
	}
	var data struct {
		TransferCode string `json:"transfer_code"`
		Reference    string `json:"reference"`
		Status       string `json:"status"`
	}
	if err := p.post(ctx, "/transfer", body, &data); err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}
	ref := data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return &Transfer{
		Provider:     "paystack",
		TransferCode: data.TransferCode,
		TransferRef:  ref,
		Status:       data.Status,
	}, nil
}

func (p *PaystackClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unexpected status code: %d: %w, body: %s", resp.StatusCode, ErrProvider, raw)
	}
	if resp.StatusCode >= 400 || !env.Status {
		return fmt.Errorf("paystack %s (%d): %w", env.Message, resp.StatusCode, ErrProvider)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
