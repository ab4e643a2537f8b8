package chain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/clovapay/offramp-engine/internal/chain"
)

type countingReader struct {
	head  uint64
	err   error
	calls int
}

func (c *countingReader) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	c.calls++
	return nil, c.err
}

func (c *countingReader) BlockNumber(context.Context) (uint64, error) {
	c.calls++
	return c.head, c.err
}

func TestFailoverClient_RotatesAfterThreshold(t *testing.T) {
	bad := &countingReader{err: errors.New("503")}
	good := &countingReader{head: 42}
	f := chain.NewFailoverClient([]string{"bad", "good"}, []chain.ReceiptReader{bad, good}, 3)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		head, err := f.BlockNumber(ctx)
		if err != nil || head != 42 {
			t.Fatalf("call %d: head=%d err=%v, want fallback to second endpoint", i, head, err)
		}
		if f.Active() != "bad" {
			t.Fatalf("call %d: rotated before threshold, active = %s", i, f.Active())
		}
	}

	if _, err := f.BlockNumber(ctx); err != nil {
		t.Fatal(err)
	}
	if f.Active() != "good" {
		t.Fatalf("active = %s after 3 failures, want good", f.Active())
	}

	// Later calls go straight to the healthy endpoint.
	f.BlockNumber(ctx)
	if bad.calls != 3 || good.calls != 4 {
		t.Errorf("calls bad=%d good=%d, want 3 and 4", bad.calls, good.calls)
	}
}

func TestFailoverClient_SuccessResetsFailures(t *testing.T) {
	flaky := &countingReader{err: errors.New("timeout")}
	spare := &countingReader{head: 7}
	f := chain.NewFailoverClient([]string{"flaky", "spare"}, []chain.ReceiptReader{flaky, spare}, 2)
	ctx := context.Background()

	f.BlockNumber(ctx)
	flaky.err = nil
	flaky.head = 8
	if head, _ := f.BlockNumber(ctx); head != 8 {
		t.Fatalf("head = %d, want answer from active endpoint", head)
	}
	flaky.err = errors.New("timeout")
	f.BlockNumber(ctx)

	if f.Active() != "flaky" {
		t.Errorf("failures not consecutive, but active = %s", f.Active())
	}
}

func TestFailoverClient_ThresholdOneRotatesImmediately(t *testing.T) {
	bad := &countingReader{err: errors.New("503")}
	good := &countingReader{head: 1}
	f := chain.NewFailoverClient([]string{"bad", "good"}, []chain.ReceiptReader{bad, good}, 1)

	if _, err := f.BlockNumber(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.Active() != "good" {
		t.Errorf("active = %s, want good", f.Active())
	}
}

func TestFailoverClient_NotFoundDoesNotRotate(t *testing.T) {
	first := &countingReader{err: ethereum.NotFound}
	second := &countingReader{}
	f := chain.NewFailoverClient([]string{"a", "b"}, []chain.ReceiptReader{first, second}, 1)

	_, err := f.TransactionReceipt(context.Background(), common.Hash{})
	if !errors.Is(err, ethereum.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if second.calls != 0 || f.Active() != "a" {
		t.Errorf("not-found must not fail over (second calls=%d, active=%s)", second.calls, f.Active())
	}
}

func TestFailoverClient_AllFail(t *testing.T) {
	a := &countingReader{err: errors.New("a down")}
	b := &countingReader{err: errors.New("b down")}
	f := chain.NewFailoverClient([]string{"a", "b"}, []chain.ReceiptReader{a, b}, 3)

	if _, err := f.BlockNumber(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("each endpoint should be tried once, got a=%d b=%d", a.calls, b.calls)
	}
}
