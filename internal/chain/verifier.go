package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/clovapay/offramp-engine/internal/model"
)

// TransferTopic is the ERC-20 Transfer(address,address,uint256) event signature.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Underpayment of up to 1% of the expected amount is accepted.
// Overpayment is not bounded.
var amountTolerance = decimal.New(1, -2)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ReceiptReader is the subset of the JSON-RPC API the verifier needs.
// *ethclient.Client and *FailoverClient satisfy it.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Reason is a machine-readable verification outcome.
type Reason string

const (
	ReasonVerified             Reason = "verified"
	ReasonNotFoundOrPending    Reason = "tx_not_found_or_pending"
	ReasonReverted             Reason = "tx_reverted"
	ReasonInsufficientConfirms Reason = "insufficient_confirmations"
	ReasonNoTransferEvent      Reason = "no_transfer_event_for_token"
	ReasonWrongRecipient       Reason = "wrong_recipient"
	ReasonAmountMismatch       Reason = "amount_mismatch"
	ReasonRPCError             Reason = "rpc_error"
	ReasonUnsupportedAsset     Reason = "unsupported_asset"
	ReasonInvalidTxHash        Reason = "invalid_tx_hash"
)

// Retryable reports whether the same request may succeed later.
func (r Reason) Retryable() bool {
	return r == ReasonNotFoundOrPending || r == ReasonRPCError
}

// Request describes the deposit a caller expects to find on chain.
type Request struct {
	TxHash            string
	Asset             model.Asset
	ExpectedAmount    decimal.Decimal
	ExpectedRecipient string
	MinConfirmations  int64
}

// Verdict is the structured result of a verification. Fields beyond
// Reason and Detail are filled as far as the checks progressed.
type Verdict struct {
	Verified      bool            `json:"verified"`
	Reason        Reason          `json:"reason"`
	Detail        string          `json:"detail,omitempty"`
	From          string          `json:"from,omitempty"`
	To            string          `json:"to,omitempty"`
	TokenContract string          `json:"tokenContract,omitempty"`
	Amount        decimal.Decimal `json:"amountOnChain"`
	Confirmations int64           `json:"confirmations,omitempty"`
	Required      int64           `json:"required,omitempty"`
	BlockNumber   uint64          `json:"blockNumber,omitempty"`
}

func reject(reason Reason, format string, args ...any) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Verifier checks deposits against chain state.
type Verifier struct {
	registry *Registry
	readers  map[model.Asset]ReceiptReader
	timeout  time.Duration
}

// NewVerifier creates a verifier. readers maps each EVM asset to the RPC
// client for its chain; timeout bounds every individual RPC call.
func NewVerifier(registry *Registry, readers map[model.Asset]ReceiptReader, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Verifier{registry: registry, readers: readers, timeout: timeout}
}

// Verify runs the deposit checks in order and returns at the first failure.
func (v *Verifier) Verify(ctx context.Context, req Request) Verdict {
	asset, ok := v.registry.Lookup(req.Asset)
	if !ok || !asset.EVM() {
		return reject(ReasonUnsupportedAsset, "no token contract for %s", req.Asset)
	}
	reader, ok := v.readers[req.Asset]
	if !ok {
		return reject(ReasonUnsupportedAsset, "no rpc client for %s", req.Asset)
	}
	txHash := strings.TrimSpace(req.TxHash)
	if !txHashPattern.MatchString(txHash) {
		return reject(ReasonInvalidTxHash, "malformed transaction hash %q", req.TxHash)
	}

	receipt, err := v.receipt(ctx, reader, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) || (err == nil && (receipt == nil || receipt.BlockNumber == nil)) {
		return reject(ReasonNotFoundOrPending, "no receipt for %s", txHash)
	}
	if err != nil {
		return reject(ReasonRPCError, "get receipt: %v", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return reject(ReasonReverted, "receipt status %d", receipt.Status)
	}

	head, err := v.blockNumber(ctx, reader)
	if err != nil {
		return reject(ReasonRPCError, "get block number: %v", err)
	}
	txBlock := receipt.BlockNumber.Uint64()
	var confirmations int64
	if head >= txBlock {
		confirmations = int64(head-txBlock) + 1
	}
	if confirmations < req.MinConfirmations {
		out := reject(ReasonInsufficientConfirms, "%d/%d", confirmations, req.MinConfirmations)
		out.Confirmations = confirmations
		out.Required = req.MinConfirmations
		out.BlockNumber = txBlock
		return out
	}

	transfer := findTransfer(receipt.Logs, asset.TokenContract)
	if transfer == nil {
		out := reject(ReasonNoTransferEvent, "no Transfer log from %s", asset.TokenContract.Hex())
		out.Confirmations = confirmations
		out.BlockNumber = txBlock
		return out
	}

	from := common.BytesToAddress(transfer.Topics[1].Bytes())
	to := common.BytesToAddress(transfer.Topics[2].Bytes())
	raw := new(big.Int).SetBytes(transfer.Data)
	amount := decimal.NewFromBigInt(raw, -asset.Decimals)

	out := Verdict{
		From:          from.Hex(),
		To:            to.Hex(),
		TokenContract: asset.TokenContract.Hex(),
		Amount:        amount,
		Confirmations: confirmations,
		Required:      req.MinConfirmations,
		BlockNumber:   txBlock,
	}

	if !strings.EqualFold(to.Hex(), strings.TrimSpace(req.ExpectedRecipient)) {
		out.Reason = ReasonWrongRecipient
		out.Detail = fmt.Sprintf("sent to %s, expected %s", to.Hex(), req.ExpectedRecipient)
		return out
	}

	floor := req.ExpectedAmount.Sub(req.ExpectedAmount.Mul(amountTolerance))
	if amount.LessThan(floor) {
		out.Reason = ReasonAmountMismatch
		out.Detail = fmt.Sprintf("on-chain=%s, expected=%s", amount, req.ExpectedAmount)
		return out
	}

	out.Verified = true
	out.Reason = ReasonVerified
	return out
}

func (v *Verifier) receipt(ctx context.Context, reader ReceiptReader, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return reader.TransactionReceipt(ctx, hash)
}

func (v *Verifier) blockNumber(ctx context.Context, reader ReceiptReader) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return reader.BlockNumber(ctx)
}

// findTransfer returns the first Transfer log emitted by token.
func findTransfer(logs []*types.Log, token common.Address) *types.Log {
	for _, l := range logs {
		if l == nil || l.Address != token {
			continue
		}
		if len(l.Topics) < 3 || l.Topics[0] != TransferTopic {
			continue
		}
		return l
	}
	return nil
}
