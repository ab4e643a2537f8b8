// Package chain verifies ERC-20 deposits against on-chain state through a
// JSON-RPC endpoint. It holds no local state: a verdict depends only on the
// request and what the chain reports.
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clovapay/offramp-engine/internal/model"
)

// AssetConfig binds a deposit asset to its token contract, precision and
// RPC endpoints.
type AssetConfig struct {
	Asset            model.Asset
	TokenContract    common.Address
	Decimals         int32
	RPCEndpoints     []string
	DepositAddress   string
	MinConfirmations int64
}

// EVM reports whether the asset is an ERC-20 token on an EVM chain.
func (a AssetConfig) EVM() bool {
	return a.TokenContract != (common.Address{})
}

// Registry resolves asset ids to their configuration.
type Registry struct {
	assets map[model.Asset]AssetConfig
}

// NewRegistry builds a registry from the given asset configurations.
// Later entries replace earlier ones with the same asset id.
func NewRegistry(assets ...AssetConfig) *Registry {
	r := &Registry{assets: make(map[model.Asset]AssetConfig, len(assets))}
	for _, a := range assets {
		a.DepositAddress = strings.TrimSpace(a.DepositAddress)
		r.assets[a.Asset] = a
	}
	return r
}

// Lookup returns the configuration for asset.
func (r *Registry) Lookup(asset model.Asset) (AssetConfig, bool) {
	a, ok := r.assets[asset]
	return a, ok
}

// DepositAddress returns the configured deposit wallet, or "" when none is set.
func (r *Registry) DepositAddress(asset model.Asset) string {
	return r.assets[asset].DepositAddress
}

// MinConfirmations returns the confirmation threshold for asset.
func (r *Registry) MinConfirmations(asset model.Asset) int64 {
	return r.assets[asset].MinConfirmations
}

// Assets lists every configured asset.
func (r *Registry) Assets() []AssetConfig {
	out := make([]AssetConfig, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	return out
}

// ParseAddress parses a 0x-prefixed hex address. It returns false for
// anything that is not a 20-byte hex string.
func ParseAddress(s string) (common.Address, bool) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}
