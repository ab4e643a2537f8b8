package model

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderAwaitingDeposit, OrderConfirming, true},
		{OrderConfirming, OrderPaidOut, true},
		{OrderPaidOut, OrderSettled, true},
		{OrderAwaitingDeposit, OrderPaidOut, false},
		{OrderAwaitingDeposit, OrderFailed, true},
		{OrderConfirming, OrderExpired, true},
		{OrderPaidOut, OrderFailed, true},
		{OrderPaidOut, OrderConfirming, false},
		{OrderPaidOut, OrderAwaitingDeposit, false},
		{OrderConfirming, OrderConfirming, false},
		{OrderSettled, OrderFailed, false},
		{OrderFailed, OrderSettled, false},
		{OrderExpired, OrderConfirming, false},
		{OrderStatus("bogus"), OrderConfirming, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanTransition_NeverRegressesFromPaidOut(t *testing.T) {
	all := []OrderStatus{OrderAwaitingDeposit, OrderConfirming, OrderPaidOut, OrderSettled, OrderFailed, OrderExpired}
	for _, from := range []OrderStatus{OrderPaidOut, OrderSettled, OrderFailed, OrderExpired} {
		for _, to := range all {
			if (to == OrderAwaitingDeposit || to == OrderConfirming) && CanTransition(from, to) {
				t.Errorf("%s must not regress to %s", from, to)
			}
		}
	}
}

func TestAllowedFrom(t *testing.T) {
	got := AllowedFrom(OrderFailed)
	if len(got) != 3 {
		t.Fatalf("expected 3 sources for failed, got %v", got)
	}
	got = AllowedFrom(OrderPaidOut)
	if len(got) != 1 || got[0] != OrderConfirming {
		t.Errorf("expected [confirming], got %v", got)
	}
	if got := AllowedFrom(OrderAwaitingDeposit); len(got) != 0 {
		t.Errorf("nothing transitions into awaiting_deposit, got %v", got)
	}
}

func TestNormalizeTxHash(t *testing.T) {
	if got := NormalizeTxHash("  0xABCdef  "); got != "0xabcdef" {
		t.Errorf("got %q", got)
	}
}
