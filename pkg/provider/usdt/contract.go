package usdt

import (
	"context"
	"math/big"
	"strings"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// erc20MinimalABI declares only the handful of calls §4.3 needs: the read
// views used at startup/health-check and the Transfer event used by the
// scan. Hand-rolled rather than abigen-generated, per SPEC_FULL.md §4.3.
const erc20MinimalABI = `[
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":false,"name":"value","type":"uint256"}
	],"name":"Transfer","type":"event"}
]`

// TransferEventSignature is the keccak256 topic0 of Transfer(address,address,uint256),
// computed rather than hardcoded so the derivation is auditable.
var TransferEventSignature = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// erc20Contract wraps a bound USDT contract for the read-only calls §4.3.1
// and §4.3.9 need.
type erc20Contract struct {
	address common.Address
	bound   *bind.BoundContract
}

func bindERC20(client *ethclient.Client, address common.Address) (*erc20Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20MinimalABI))
	if err != nil {
		return nil, payerrors.Configuration("failed to parse ERC-20 ABI", map[string]any{"error": err.Error()})
	}
	return &erc20Contract{
		address: address,
		bound:   bind.NewBoundContract(address, parsed, client, client, client),
	}, nil
}

func (c *erc20Contract) Decimals(ctx context.Context) (uint8, error) {
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, payerrors.Provider("failed to read contract decimals", map[string]any{"error": err.Error()})
	}
	return out[0].(uint8), nil
}

func (c *erc20Contract) Symbol(ctx context.Context) (string, error) {
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "symbol"); err != nil {
		return "", payerrors.Provider("failed to read contract symbol", map[string]any{"error": err.Error()})
	}
	return out[0].(string), nil
}

func (c *erc20Contract) Name(ctx context.Context) (string, error) {
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "name"); err != nil {
		return "", payerrors.Provider("failed to read contract name", map[string]any{"error": err.Error()})
	}
	return out[0].(string), nil
}

func (c *erc20Contract) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner); err != nil {
		return nil, payerrors.Provider("failed to read balance", map[string]any{"error": err.Error()})
	}
	return out[0].(*big.Int), nil
}

// TransferEvent is the decoded shape of an ERC-20 Transfer log.
type TransferEvent struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	TxHash      common.Hash
	BlockNumber uint64
	BlockHash   common.Hash
	LogIndex    uint
}

// decodeTransferLog decodes a raw log known to match the Transfer topic
// into a TransferEvent. Indexed params live in topics; the only
// non-indexed param (value) lives in Data.
func decodeTransferLog(l types.Log) TransferEvent {
	return TransferEvent{
		From:        common.BytesToAddress(l.Topics[1].Bytes()),
		To:          common.BytesToAddress(l.Topics[2].Bytes()),
		Value:       new(big.Int).SetBytes(l.Data),
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		LogIndex:    l.Index,
	}
}
