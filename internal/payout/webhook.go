package payout

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clovapay/offramp-engine/internal/model"
)

// SignatureHeader carries the HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "x-paystack-signature"

// VerifySignature reports whether signature is the hex HMAC-SHA512 of body
// keyed with secret. An empty secret never verifies.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// TransferUpdate is a provider-reported terminal transfer outcome.
type TransferUpdate struct {
	Event        string             `json:"event"`
	Reference    string             `json:"reference,omitempty"`
	TransferCode string             `json:"transferCode,omitempty"`
	Status       model.PayoutStatus `json:"status"`
	Reason       string             `json:"reason,omitempty"`
}

// Ref returns the identifier used to find the payout: the reference when
// present, else the transfer code.
func (u TransferUpdate) Ref() string {
	if u.Reference != "" {
		return u.Reference
	}
	return u.TransferCode
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference    string `json:"reference"`
		TransferCode string `json:"transfer_code"`
		Reason       string `json:"reason"`
	} `json:"data"`
}

// ParseWebhook decodes a webhook body. ok is false for events that do not
// carry a terminal transfer outcome or lack any transfer identifier.
func ParseWebhook(body []byte) (update TransferUpdate, ok bool, err error) {
	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return TransferUpdate{}, false, fmt.Errorf("decode webhook: %w", err)
	}

	update = TransferUpdate{
		Event:        ev.Event,
		Reference:    ev.Data.Reference,
		TransferCode: ev.Data.TransferCode,
	}
	switch ev.Event {
	case "transfer.success":
		update.Status = model.PayoutSettled
	case "transfer.failed", "transfer.reversed":
		update.Status = model.PayoutFailed
		update.Reason = ev.Data.Reason
		if update.Reason == "" {
			update.Reason = ev.Event
		}
	default:
		return update, false, nil
	}
	if update.Ref() == "" {
		return update, false, nil
	}
	return update, true, nil
}
