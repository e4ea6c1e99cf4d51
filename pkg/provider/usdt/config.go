// Package usdt implements the USDT on-chain ERC-20 PaymentProvider: event
// scanning, confirmation counting, receipt validation, deduplication, reorg
// protection, and rate-limit backoff, grounded on the teacher's
// blockchain_service.go pattern of calling ethclient directly rather than
// abigen-generated bindings.
package usdt

import (
	"strings"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/ethereum/go-ethereum/common"
)

// Network identifies one of the two supported USDT deployments.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkSepolia Network = "sepolia"
	// NetworkGoerli is deprecated and rejected at startup (§4.3.1 item 6).
	NetworkGoerli Network = "goerli"
)

// NetworkConfig is the resolved per-network configuration §4.3.1 step 2 asks for.
type NetworkConfig struct {
	ChainID                int64
	BlockTimeSeconds        float64
	DefaultConfirmations    int
	DefaultMaxGasPriceGwei  float64
	USDTContractAddress     common.Address
}

// usdt contract addresses from §6's "Blockchain interface" table.
var networkConfigs = map[Network]NetworkConfig{
	NetworkMainnet: {
		ChainID:                1,
		BlockTimeSeconds:       12,
		DefaultConfirmations:   12,
		DefaultMaxGasPriceGwei: 200,
		USDTContractAddress:    common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
	},
	NetworkSepolia: {
		ChainID:                11155111,
		BlockTimeSeconds:       12,
		DefaultConfirmations:   3,
		DefaultMaxGasPriceGwei: 500,
		USDTContractAddress:    common.HexToAddress("0x7169D38820dfd117C3FA1f22a697dBA58d90BA06"),
	},
}

// ResolveNetwork implements §4.3.1 step 2/6: known networks resolve to a
// config; goerli and anything unrecognized fail startup.
func ResolveNetwork(n Network) (NetworkConfig, error) {
	if n == NetworkGoerli {
		return NetworkConfig{}, payerrors.Configuration("network is deprecated", map[string]any{"network": n})
	}
	cfg, ok := networkConfigs[n]
	if !ok {
		return NetworkConfig{}, payerrors.Configuration("unknown network", map[string]any{"network": n})
	}
	return cfg, nil
}

// ValidateWalletAddress implements §4.3.1 step 1: reject malformed hex or a
// checksum mismatch, returning the EIP-55 checksummed form.
func ValidateWalletAddress(raw string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, payerrors.Configuration("wallet address is required", nil)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, payerrors.Validation("wallet_address", raw, "not a valid hex address")
	}
	addr := common.HexToAddress(raw)
	// If the caller supplied a mixed-case string, it must already be the
	// canonical EIP-55 checksum of itself.
	body := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if strings.ToLower(body) != body && strings.ToUpper(body) != body {
		if addr.Hex()[2:] != body {
			return common.Address{}, payerrors.Validation("wallet_address", raw, "checksum mismatch")
		}
	}
	return addr, nil
}

// isDummyProjectID flags the common placeholder Infura project ids so
// startup can refuse them in production (§4.3.1 step 6).
func isDummyProjectID(id string) bool {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "", "your-project-id", "dummy", "test", "changeme", "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx":
		return true
	}
	return false
}

// rpcTimeout bounds every blockchain RPC call (§5: "RPC HTTP calls: 30s default").
const rpcTimeout = 30 * time.Second
