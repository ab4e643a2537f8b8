package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// FailoverClient spreads calls over several RPC endpoints of the same
// chain. The active endpoint is kept until it fails failThreshold times in
// a row; meanwhile a failed call is retried once on every other endpoint
// without moving the active one.
type FailoverClient struct {
	names         []string
	readers       []ReceiptReader
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

// DialFailover connects an ethclient to each distinct endpoint.
func DialFailover(ctx context.Context, endpoints []string, failThreshold int) (*FailoverClient, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, errors.New("rpc endpoints is empty")
	}
	readers := make([]ReceiptReader, 0, len(list))
	for _, ep := range list {
		c, err := ethclient.DialContext(ctx, ep)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", ep, err)
		}
		readers = append(readers, c)
	}
	return NewFailoverClient(list, readers, failThreshold), nil
}

// NewFailoverClient wraps already-constructed readers. names label the
// readers in logs and must have the same length.
func NewFailoverClient(names []string, readers []ReceiptReader, failThreshold int) *FailoverClient {
	if failThreshold <= 0 {
		failThreshold = 3
	}
	return &FailoverClient{
		names:         names,
		readers:       readers,
		failThreshold: failThreshold,
	}
}

// Active returns the label of the endpoint currently in use.
func (f *FailoverClient) Active() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[f.index]
}

func (f *FailoverClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var out *types.Receipt
	err := f.do(ctx, func(r ReceiptReader) error {
		var err error
		out, err = r.TransactionReceipt(ctx, txHash)
		return err
	})
	return out, err
}

func (f *FailoverClient) BlockNumber(ctx context.Context) (uint64, error) {
	var out uint64
	err := f.do(ctx, func(r ReceiptReader) error {
		var err error
		out, err = r.BlockNumber(ctx)
		return err
	})
	return out, err
}

func (f *FailoverClient) do(ctx context.Context, call func(ReceiptReader) error) error {
	reader, idx := f.current()
	err := call(reader)
	// A missing receipt is an answer, not an endpoint failure.
	if err == nil || errors.Is(err, ethereum.NotFound) {
		f.resetFailures(idx)
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	slog.Warn("rpc call failed", "endpoint", f.names[idx], "err", err)
	f.noteFailure(idx)

	// Fall back for this call only; the active endpoint moves on threshold.
	lastErr := err
	for i := 1; i < len(f.readers); i++ {
		j := (idx + i) % len(f.readers)
		err := call(f.readers[j])
		if err == nil || errors.Is(err, ethereum.NotFound) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			return err
		}
		slog.Warn("rpc fallback failed", "endpoint", f.names[j], "err", err)
	}
	return lastErr
}

func (f *FailoverClient) current() (ReceiptReader, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readers[f.index], f.index
}

func (f *FailoverClient) resetFailures(idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index == idx {
		f.failCount = 0
	}
}

// noteFailure counts a failure of idx and advances the active endpoint
// once the threshold is reached, unless another caller already moved it.
func (f *FailoverClient) noteFailure(idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != idx {
		return
	}
	f.failCount++
	if f.failCount < f.failThreshold || len(f.readers) < 2 {
		return
	}
	f.index = (f.index + 1) % len(f.readers)
	f.failCount = 0
	slog.Warn("rpc endpoint rotated", "from", f.names[idx], "to", f.names[f.index])
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimRight(strings.TrimSpace(ep), "/")
		if ep == "" {
			continue
		}
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
