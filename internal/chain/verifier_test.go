package chain_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/clovapay/offramp-engine/internal/chain"
	"github.com/clovapay/offramp-engine/internal/model"
)

var (
	usdc      = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	depositTo = common.HexToAddress("0x1111111111111111111111111111111111111111")
	sender    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	txHash    = "0x" + strings.Repeat("ab", 32)
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeReader struct {
	receipt *types.Receipt
	err     error
	head    uint64
	headErr error
}

func (f *fakeReader) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, f.err
}

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) {
	return f.head, f.headErr
}

func transferLog(token, from, to common.Address, raw *big.Int) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			chain.TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(raw.Bytes(), 32),
	}
}

func receipt(block int64, logs ...*types.Log) *types.Receipt {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(block),
		Logs:        logs,
	}
}

// usdcUnits converts a decimal USDC amount to its 6-decimal raw value.
func usdcUnits(s string) *big.Int {
	return d(s).Shift(6).BigInt()
}

func newVerifier(r chain.ReceiptReader) *chain.Verifier {
	reg := chain.NewRegistry(chain.AssetConfig{
		Asset:         model.AssetUSDCBase,
		TokenContract: usdc,
		Decimals:      6,
	}, chain.AssetConfig{
		Asset:    model.AssetUSDCxStacks,
		Decimals: 6,
	})
	return chain.NewVerifier(reg, map[model.Asset]chain.ReceiptReader{model.AssetUSDCBase: r}, time.Second)
}

func request(amount string, minConf int64) chain.Request {
	return chain.Request{
		TxHash:            txHash,
		Asset:             model.AssetUSDCBase,
		ExpectedAmount:    d(amount),
		ExpectedRecipient: depositTo.Hex(),
		MinConfirmations:  minConf,
	}
}

func TestTransferTopic(t *testing.T) {
	want := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	if chain.TransferTopic != want {
		t.Fatalf("got %s", chain.TransferTopic.Hex())
	}
}

func TestVerify_Verified(t *testing.T) {
	r := &fakeReader{
		receipt: receipt(100, transferLog(usdc, sender, depositTo, usdcUnits("100"))),
		head:    104,
	}
	v := newVerifier(r).Verify(context.Background(), request("100", 3))

	if !v.Verified || v.Reason != chain.ReasonVerified {
		t.Fatalf("expected verified, got %+v", v)
	}
	if v.Confirmations != 5 {
		t.Errorf("confirmations = %d, want 5", v.Confirmations)
	}
	if !v.Amount.Equal(d("100")) {
		t.Errorf("amount = %s", v.Amount)
	}
	if v.From != sender.Hex() || v.BlockNumber != 100 {
		t.Errorf("audit fields: %+v", v)
	}
}

func TestVerify_InsufficientConfirmations(t *testing.T) {
	// head - tx = 1 gives 2 confirmations, below the required 3.
	r := &fakeReader{
		receipt: receipt(100, transferLog(usdc, sender, depositTo, usdcUnits("100"))),
		head:    101,
	}
	v := newVerifier(r).Verify(context.Background(), request("100", 3))

	if v.Reason != chain.ReasonInsufficientConfirms {
		t.Fatalf("expected insufficient_confirmations, got %s", v.Reason)
	}
	if v.Confirmations != 2 || v.Required != 3 {
		t.Errorf("reported %d/%d, want 2/3", v.Confirmations, v.Required)
	}
	if v.Reason.Retryable() {
		t.Error("insufficient_confirmations must be terminal")
	}
}

func TestVerify_AmountTolerance(t *testing.T) {
	tests := []struct {
		onChain string
		want    chain.Reason
	}{
		{"99.5", chain.ReasonVerified},
		{"99", chain.ReasonVerified},
		{"98.5", chain.ReasonAmountMismatch},
		{"250", chain.ReasonVerified},
	}
	for _, tt := range tests {
		r := &fakeReader{
			receipt: receipt(10, transferLog(usdc, sender, depositTo, usdcUnits(tt.onChain))),
			head:    20,
		}
		v := newVerifier(r).Verify(context.Background(), request("100", 1))
		if v.Reason != tt.want {
			t.Errorf("on-chain %s: got %s (%s), want %s", tt.onChain, v.Reason, v.Detail, tt.want)
		}
	}
}

func TestVerify_Rejections(t *testing.T) {
	other := common.HexToAddress("0x3333333333333333333333333333333333333333")
	reverted := receipt(10, transferLog(usdc, sender, depositTo, usdcUnits("100")))
	reverted.Status = types.ReceiptStatusFailed

	tests := []struct {
		name string
		r    *fakeReader
		want chain.Reason
	}{
		{"not found", &fakeReader{err: ethereum.NotFound}, chain.ReasonNotFoundOrPending},
		{"pending receipt", &fakeReader{receipt: &types.Receipt{Status: 1}}, chain.ReasonNotFoundOrPending},
		{"reverted", &fakeReader{receipt: reverted, head: 20}, chain.ReasonReverted},
		{"other token", &fakeReader{receipt: receipt(10, transferLog(other, sender, depositTo, usdcUnits("100"))), head: 20}, chain.ReasonNoTransferEvent},
		{"no logs", &fakeReader{receipt: receipt(10), head: 20}, chain.ReasonNoTransferEvent},
		{"wrong recipient", &fakeReader{receipt: receipt(10, transferLog(usdc, sender, other, usdcUnits("100"))), head: 20}, chain.ReasonWrongRecipient},
		{"receipt rpc failure", &fakeReader{err: errors.New("connection refused")}, chain.ReasonRPCError},
		{"head rpc failure", &fakeReader{receipt: receipt(10), headErr: errors.New("timeout")}, chain.ReasonRPCError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVerifier(tt.r).Verify(context.Background(), request("100", 1))
			if v.Verified || v.Reason != tt.want {
				t.Fatalf("got %s (%s), want %s", v.Reason, v.Detail, tt.want)
			}
		})
	}
}

func TestVerify_WrongRecipientReportsActual(t *testing.T) {
	other := common.HexToAddress("0x3333333333333333333333333333333333333333")
	r := &fakeReader{receipt: receipt(10, transferLog(usdc, sender, other, usdcUnits("100"))), head: 20}
	v := newVerifier(r).Verify(context.Background(), request("100", 1))
	if v.To != other.Hex() {
		t.Errorf("actual recipient = %s, want %s", v.To, other.Hex())
	}
}

func TestVerify_RecipientCaseInsensitive(t *testing.T) {
	r := &fakeReader{receipt: receipt(10, transferLog(usdc, sender, depositTo, usdcUnits("100"))), head: 20}
	req := request("100", 1)
	req.ExpectedRecipient = "0x1111111111111111111111111111111111111111"
	if v := newVerifier(r).Verify(context.Background(), req); !v.Verified {
		t.Fatalf("expected verified, got %s", v.Reason)
	}
}

func TestVerify_InputChecks(t *testing.T) {
	v := newVerifier(&fakeReader{})

	req := request("100", 1)
	req.TxHash = "0x1234"
	if got := v.Verify(context.Background(), req); got.Reason != chain.ReasonInvalidTxHash {
		t.Errorf("short hash: got %s", got.Reason)
	}

	req = request("100", 1)
	req.Asset = model.AssetUSDCxStacks
	if got := v.Verify(context.Background(), req); got.Reason != chain.ReasonUnsupportedAsset {
		t.Errorf("non-EVM asset: got %s", got.Reason)
	}

	req.Asset = model.AssetCUSDCelo
	if got := v.Verify(context.Background(), req); got.Reason != chain.ReasonUnsupportedAsset {
		t.Errorf("unregistered asset: got %s", got.Reason)
	}
}

// jsonRPC answers every call with result, echoing the request id.
func jsonRPC(t *testing.T, result string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
	}))
}

func TestVerify_EthclientHTTPFailureIsRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := ethclient.Dial(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	v := newVerifier(client).Verify(context.Background(), request("100", 1))
	if v.Reason != chain.ReasonRPCError || !v.Reason.Retryable() {
		t.Fatalf("expected retryable rpc_error, got %s (%s)", v.Reason, v.Detail)
	}
}

func TestVerify_EthclientNullReceiptIsPending(t *testing.T) {
	srv := jsonRPC(t, "null")
	defer srv.Close()

	client, err := ethclient.Dial(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	v := newVerifier(client).Verify(context.Background(), request("100", 1))
	if v.Reason != chain.ReasonNotFoundOrPending || !v.Reason.Retryable() {
		t.Fatalf("expected tx_not_found_or_pending, got %s (%s)", v.Reason, v.Detail)
	}
}
