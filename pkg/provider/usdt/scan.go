package usdt

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/logging"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	batchBlocks         = 100
	maxBlocksScanned    = 1000
	maxRateLimitErrors  = 3
	gasPriceSkipSample  = 10
	gasPriceRelaxFactor = 1.5
	confirmationMargin  = 5
	amountToleranceBps  = 0.001 // 0.1%
)

// scanState accumulates the running counters §4.3.6 asks to be carried
// across the whole scan and eventually persisted onto the transaction's
// metadata.
type scanState struct {
	eventsProcessed       int
	blocksScanned         int
	gasPriceSkips         int
	gasPriceInspected     int
	totalTransactionsScan int
	rateLimitErrors       int
	relaxedGasCeiling     bool
}

// filterTracker models the "pre-register a local filter-id BEFORE the RPC
// call so it can be uninstalled even if creation fails" requirement. The
// go-ethereum ethclient FilterLogs call is a single stateless eth_getLogs
// RPC with no server-side filter handle to install/uninstall, so this
// tracker is the in-process adaptation of that lifecycle: registered
// before the call, cleared after, persisted-failures survive for the
// sweep described at the end of §4.3.6.
type filterTracker struct {
	pending map[string]bool
}

func newFilterTracker() *filterTracker { return &filterTracker{pending: make(map[string]bool)} }

func (f *filterTracker) register(localID string)  { f.pending[localID] = true }
func (f *filterTracker) resolve(localID string)    { delete(f.pending, localID) }
func (f *filterTracker) outstanding() []string {
	ids := make([]string, 0, len(f.pending))
	for id := range f.pending {
		ids = append(ids, id)
	}
	return ids
}

// scanForTransfer runs §4.3.6 against tx, looking for a Transfer event
// matching expectedWeiStr. Returns the matched event's tx hash on success,
// nil on no match (never an error for "no match found"). Failing to read the
// chain head or the starting block returns an error; a log fetch that still
// fails after backoff (including rate limiting) abandons the scan, persists
// the scan counters, and returns nil, nil.
func (p *Provider) scanForTransfer(ctx context.Context, tx *domain.PaymentTransaction, expectedWeiStr string) (*string, error) {
	expectedWei, ok := new(big.Int).SetString(expectedWeiStr, 10)
	if !ok {
		return nil, nil
	}
	senderHex, _ := tx.Metadata["sender_address"].(string)
	sender := common.HexToAddress(senderHex)

	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	fromBlock, err := p.estimateFromBlock(ctx, tx.CreatedAt, head)
	if err != nil {
		return nil, err
	}

	state := &scanState{}
	tracker := newFilterTracker()
	var matchedTxHash *string

	for start := fromBlock; start <= head && matchedTxHash == nil; start += batchBlocks {
		end := start + batchBlocks - 1
		if end > head {
			end = head
		}

		localID := strconv.FormatUint(start, 10) + "-" + strconv.FormatUint(end, 10)
		tracker.register(localID)

		logs, err := p.fetchLogsWithBackoff(ctx, start, end, state)
		tracker.resolve(localID)
		if err != nil {
			logging.Log.Warn("transfer scan aborted", zap.Error(err), zap.String("tx_id", tx.ID))
			p.persistScanCounters(ctx, tx, state)
			return nil, nil
		}

		state.totalTransactionsScan += len(logs)
		state.blocksScanned += int(end - start + 1)
		if state.totalTransactionsScan > maxBlocksScanned {
			p.persistScanCounters(ctx, tx, state)
			return nil, nil
		}

		for _, l := range logs {
			event := decodeTransferLog(l)
			state.eventsProcessed++

			if ok, err := p.passesAllGates(ctx, tx, event, expectedWei, sender, head, state); err != nil {
				return nil, err
			} else if !ok {
				continue
			}

			txHash := event.TxHash.Hex()
			if err := p.enrichVerifiedMetadata(ctx, tx, event, head, state); err != nil {
				return nil, err
			}
			if err := p.markTransferAsUsed(ctx, tx, txHash, event.Value.String()); err != nil {
				return nil, err
			}
			matchedTxHash = &txHash
			break
		}
	}

	if len(tracker.outstanding()) > 0 {
		logging.Log.Warn("transfer scan finished with unresolved filter tracker entries",
			zap.Strings("outstanding", tracker.outstanding()), zap.String("tx_id", tx.ID))
	}
	return matchedTxHash, nil
}

// estimateFromBlock implements the dynamic block-time sampler: average the
// delta between the last 10 blocks' timestamps, clamp to [1s, 60s], derive
// seconds-per-block, and use it to estimate the block at created_at-5m.
func (p *Provider) estimateFromBlock(ctx context.Context, createdAt time.Time, head uint64) (uint64, error) {
	secondsPerBlock := p.netCfg.BlockTimeSeconds
	if sampled, err := p.sampleBlockTime(ctx, head); err == nil {
		secondsPerBlock = sampled
	}

	lookback := time.Since(createdAt.Add(-5 * time.Minute)).Seconds()
	if lookback < 0 {
		lookback = 300
	}
	blocksBack := uint64(lookback / secondsPerBlock)
	if blocksBack > maxBlocksScanned {
		blocksBack = maxBlocksScanned
	}
	if blocksBack >= head {
		return 0, nil
	}
	return head - blocksBack, nil
}

func (p *Provider) sampleBlockTime(ctx context.Context, head uint64) (float64, error) {
	if head < 10 {
		return p.netCfg.BlockTimeSeconds, nil
	}
	newest, err := p.client.HeaderByNumber(ctx, new(big.Int).SetUint64(head))
	if err != nil {
		return 0, err
	}
	oldest, err := p.client.HeaderByNumber(ctx, new(big.Int).SetUint64(head-10))
	if err != nil {
		return 0, err
	}
	delta := float64(newest.Time-oldest.Time) / 10
	if delta < 1 {
		delta = 1
	}
	if delta > 60 {
		delta = 60
	}
	return delta, nil
}

// fetchLogsWithBackoff fetches Transfer logs for [start, end], retrying on
// 429/rate-limit errors with 2s/4s/8s backoff up to maxRateLimitErrors times
// total across the scan.
func (p *Provider) fetchLogsWithBackoff(ctx context.Context, start, end uint64, state *scanState) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(start),
		ToBlock:   new(big.Int).SetUint64(end),
		Addresses: []common.Address{p.netCfg.USDTContractAddress},
		Topics: [][]common.Hash{
			{TransferEventSignature},
			{},
			{common.BytesToHash(p.wallet.Bytes())},
		},
	}

	backoffSeconds := []int{2, 4, 8}
	for attempt := 0; ; attempt++ {
		logs, err := p.client.FilterLogs(ctx, query)
		if err == nil {
			return logs, nil
		}
		if !isRateLimitError(err) || state.rateLimitErrors >= maxRateLimitErrors {
			return nil, err
		}
		state.rateLimitErrors++
		wait := backoffSeconds[min(attempt, len(backoffSeconds)-1)]
		logging.Log.Warn("rate limited while scanning transfer logs, backing off",
			zap.Int("wait_seconds", wait), zap.Int("rate_limit_errors", state.rateLimitErrors))
		select {
		case <-time.After(time.Duration(wait) * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if state.rateLimitErrors >= maxRateLimitErrors {
			return nil, err
		}
	}
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// persistScanCounters writes the accumulated scan counters onto the
// transaction's metadata even on an abandoned scan, per §4.3.6's "abandon
// ... with counters persisted."
func (p *Provider) persistScanCounters(ctx context.Context, tx *domain.PaymentTransaction, state *scanState) {
	if tx.Metadata == nil {
		tx.Metadata = map[string]any{}
	}
	tx.Metadata["events_processed"] = state.eventsProcessed
	tx.Metadata["blocks_scanned"] = state.blocksScanned
	tx.Metadata["gas_price_skips"] = state.gasPriceSkips
	tx.Metadata["total_transactions_scanned"] = state.totalTransactionsScan
	tx.Metadata["rate_limit_errors"] = state.rateLimitErrors
	_ = p.Backend.UpdateTransaction(ctx, tx)
}

// passesAllGates runs the seven ordered gates of §4.3.6.
func (p *Provider) passesAllGates(
	ctx context.Context,
	tx *domain.PaymentTransaction,
	event TransferEvent,
	expectedWei *big.Int,
	sender common.Address,
	head uint64,
	state *scanState,
) (bool, error) {
	// 1. sender match
	if !strings.EqualFold(event.From.Hex(), sender.Hex()) {
		return false, nil
	}

	// 2. gas-price sanity, with the >50%-of-sample relaxation rule
	gwei, err := p.eventGasPriceGwei(ctx, event.TxHash)
	if err == nil {
		state.gasPriceInspected++
		ceiling := p.maxGasPriceGwei
		if state.relaxedGasCeiling {
			ceiling *= gasPriceRelaxFactor
		}
		if gwei > ceiling {
			state.gasPriceSkips++
			if state.gasPriceInspected >= gasPriceSkipSample &&
				float64(state.gasPriceSkips)/float64(state.gasPriceInspected) > 0.5 {
				state.relaxedGasCeiling = true
			}
			return false, nil
		}
	}

	// 3. uniqueness: no other completed transaction already claims this transfer
	completed, err := p.Backend.ListTransactions(ctx, nil, txStatusPtr(domain.TransactionCompleted), 0)
	if err != nil {
		return false, err
	}
	for _, other := range completed {
		if other.ID == tx.ID {
			continue
		}
		if other.Metadata["confirmed_tx_hash"] == event.TxHash.Hex() && other.Metadata["actual_amount_wei"] == event.Value.String() {
			return false, nil
		}
	}

	// 4. amount match within 0.1%
	diff := new(big.Int).Sub(event.Value, expectedWei)
	diff.Abs(diff)
	tolerance := new(big.Int).Div(new(big.Int).Mul(expectedWei, big.NewInt(1)), big.NewInt(1000))
	if diff.Cmp(tolerance) > 0 {
		return false, nil
	}

	// 5. receipt success
	receipt, err := p.client.TransactionReceipt(ctx, event.TxHash)
	if err != nil || receipt == nil {
		if !p.IsDevMode() {
			return false, nil
		}
		logging.Log.Info("proceeding without a receipt in dev mode", zap.String("tx_hash", event.TxHash.Hex()))
	} else {
		if receipt.Status != 1 {
			return false, nil
		}
		if receipt.GasUsed == receipt.GasLimit {
			logging.Log.Warn("gas used equals gas limit, possible out-of-gas signature", zap.String("tx_hash", event.TxHash.Hex()))
		}
	}

	// 6. confirmations with +5 safety margin
	required := uint64(p.confirmationsRequired + confirmationMargin)
	if head < event.BlockNumber || head-event.BlockNumber < required {
		return false, nil
	}

	// 7. canonical-chain check
	header, err := p.client.HeaderByNumber(ctx, new(big.Int).SetUint64(event.BlockNumber))
	if err != nil {
		return false, err
	}
	if header.Hash() != event.BlockHash {
		return false, nil // reorg
	}

	return true, nil
}

func (p *Provider) eventGasPriceGwei(ctx context.Context, txHash common.Hash) (float64, error) {
	chainTx, _, err := p.client.TransactionByHash(ctx, txHash)
	if err != nil {
		return 0, err
	}
	gwei := decimal.NewFromBigInt(chainTx.GasPrice(), -9)
	f, _ := gwei.Float64()
	return f, nil
}

// enrichVerifiedMetadata enriches tx.Metadata with the verification detail
// fields listed at the end of §4.3.6, ahead of mark_transfer_as_used.
func (p *Provider) enrichVerifiedMetadata(_ context.Context, tx *domain.PaymentTransaction, event TransferEvent, head uint64, state *scanState) error {
	if tx.Metadata == nil {
		tx.Metadata = map[string]any{}
	}
	actualUSDT := decimal.NewFromBigInt(event.Value, -6)
	var effectiveConfirmations int64
	if head >= event.BlockNumber {
		effectiveConfirmations = int64(head - event.BlockNumber)
	}
	tx.Metadata["confirmed_block"] = event.BlockNumber
	tx.Metadata["confirmations"] = p.confirmationsRequired
	tx.Metadata["safety_margin_applied"] = confirmationMargin
	tx.Metadata["effective_confirmations"] = effectiveConfirmations
	tx.Metadata["from_address"] = event.From.Hex()
	tx.Metadata["actual_amount_wei"] = event.Value.String()
	tx.Metadata["actual_amount_usdt"] = actualUSDT.String()
	tx.Metadata["verification_method"] = "transfer_event"
	tx.Metadata["canonical_chain_verified"] = true
	tx.Metadata["block_hash_verified"] = event.BlockHash.Hex()
	tx.Metadata["reorg_protection_applied"] = true
	tx.Metadata["receipt_validation_applied"] = true
	tx.Metadata["receipt_status"] = 1
	tx.Metadata["events_processed"] = state.eventsProcessed
	tx.Metadata["blocks_scanned"] = state.blocksScanned
	tx.Metadata["gas_price_skips"] = state.gasPriceSkips
	tx.Metadata["total_transactions_scanned"] = state.totalTransactionsScan
	tx.Metadata["rate_limit_errors"] = state.rateLimitErrors
	return nil
}

func txStatusPtr(s domain.TransactionStatus) *domain.TransactionStatus { return &s }
