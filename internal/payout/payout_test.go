package payout_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clovapay/offramp-engine/internal/model"
	"github.com/clovapay/offramp-engine/internal/payout"
)

func TestPaystackClient_RecipientAndTransfer(t *testing.T) {
	var transferBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/transferrecipient":
			w.Write([]byte(`{"status":true,"message":"Transfer recipient created","data":{"recipient_code":"RCP_123"}}`))
		case "/transfer":
			json.NewDecoder(r.Body).Decode(&transferBody)
			w.Write([]byte(`{"status":true,"message":"Transfer queued","data":{"transfer_code":"TRF_9","reference":"po_1","status":"pending"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := payout.NewPaystackClient("sk_test", time.Second, payout.WithBaseURL(srv.URL+"/"))
	ctx := context.Background()

	code, err := c.CreateRecipient(ctx, payout.RecipientRequest{Name: "Ada", AccountNumber: "0123456789", BankCode: "058", Currency: "NGN"})
	if err != nil {
		t.Fatalf("recipient: %v", err)
	}
	if code != "RCP_123" {
		t.Errorf("recipient code = %q", code)
	}

	tr, err := c.CreateTransfer(ctx, payout.TransferRequest{AmountKobo: 1_477_500, Currency: "NGN", RecipientCode: code, Reference: "po_1"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tr.TransferCode != "TRF_9" || tr.TransferRef != "po_1" || tr.Provider != "paystack" {
		t.Errorf("unexpected transfer %+v", tr)
	}
	if transferBody["amount"].(float64) != 1_477_500 || transferBody["source"] != "balance" {
		t.Errorf("unexpected request body %v", transferBody)
	}
}

func TestPaystackClient_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":false,"message":"Insufficient balance"}`))
	}))
	defer srv.Close()

	c := payout.NewPaystackClient("sk_test", time.Second, payout.WithBaseURL(srv.URL))
	_, err := c.CreateTransfer(context.Background(), payout.TransferRequest{AmountKobo: 100, RecipientCode: "RCP_1"})
	if !errors.Is(err, payout.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestPaystackClient_NonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer srv.Close()

	c := payout.NewPaystackClient("sk_test", time.Second, payout.WithBaseURL(srv.URL))
	if _, err := c.CreateRecipient(context.Background(), payout.RecipientRequest{}); !errors.Is(err, payout.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestMockGateway(t *testing.T) {
	g := payout.NewMockGateway()
	ctx := context.Background()

	code, err := g.CreateRecipient(ctx, payout.RecipientRequest{AccountNumber: "0123456789", BankCode: "058"})
	if err != nil || code != "RCP_mock_058_0123456789" {
		t.Fatalf("recipient: %q %v", code, err)
	}
	a, _ := g.CreateTransfer(ctx, payout.TransferRequest{AmountKobo: 10, Reference: "po_a"})
	b, _ := g.CreateTransfer(ctx, payout.TransferRequest{AmountKobo: 10})
	if a.TransferCode == b.TransferCode {
		t.Error("transfer codes must be unique")
	}
	if a.TransferRef != "po_a" {
		t.Errorf("reference not echoed: %q", a.TransferRef)
	}
	if _, err := g.CreateTransfer(ctx, payout.TransferRequest{}); !errors.Is(err, payout.ErrProvider) {
		t.Errorf("zero amount: expected ErrProvider, got %v", err)
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"transfer.success"}`)
	good := sign("whsec", body)

	if !payout.VerifySignature("whsec", body, good) {
		t.Error("valid signature rejected")
	}
	if payout.VerifySignature("other", body, good) {
		t.Error("signature with wrong secret accepted")
	}
	if payout.VerifySignature("whsec", append(body, ' '), good) {
		t.Error("tampered body accepted")
	}
	if payout.VerifySignature("", body, good) {
		t.Error("empty secret must never verify")
	}
	if payout.VerifySignature("whsec", body, "not-hex") {
		t.Error("garbage signature accepted")
	}
}

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		ok     bool
		status model.PayoutStatus
		ref    string
		reason string
	}{
		{"success", `{"event":"transfer.success","data":{"reference":"po_1","transfer_code":"TRF_1"}}`, true, model.PayoutSettled, "po_1", ""},
		{"failed with reason", `{"event":"transfer.failed","data":{"transfer_code":"TRF_2","reason":"Account closed"}}`, true, model.PayoutFailed, "TRF_2", "Account closed"},
		{"reversed", `{"event":"transfer.reversed","data":{"reference":"po_3"}}`, true, model.PayoutFailed, "po_3", "transfer.reversed"},
		{"charge event ignored", `{"event":"charge.success","data":{"reference":"x"}}`, false, "", "", ""},
		{"no identifier", `{"event":"transfer.success","data":{}}`, false, model.PayoutSettled, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, ok, err := payout.ParseWebhook([]byte(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if u.Status != tt.status || u.Ref() != tt.ref || u.Reason != tt.reason {
				t.Errorf("got %+v", u)
			}
		})
	}

	if _, _, err := payout.ParseWebhook([]byte(`{`)); err == nil {
		t.Error("malformed body must error")
	}
}
