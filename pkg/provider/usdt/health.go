package usdt

import (
	"context"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/logging"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HealthCheck implements §4.3.9: RPC connectivity, head block, contract
// decimals, wallet balance, gas price, production-readiness assertions,
// introspection, and finally a storage round-trip.
func (p *Provider) HealthCheck(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		return false, payerrors.Provider("RPC connectivity check failed", map[string]any{"error": err.Error()})
	}
	if head == 0 {
		return false, payerrors.Provider("head block number is zero", nil)
	}

	if _, err := p.token.Decimals(ctx); err != nil {
		return false, err
	}

	balance, err := p.token.BalanceOf(ctx, p.wallet)
	if err != nil {
		return false, err
	}

	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return false, payerrors.Provider("failed to read gas price", map[string]any{"error": err.Error()})
	}
	gwei := decimal.NewFromBigInt(gasPrice, -9)
	gweiFloat, _ := gwei.Float64()
	if gweiFloat > p.maxGasPriceGwei {
		logging.Log.Warn("current gas price exceeds configured ceiling", zap.Float64("gas_price_gwei", gweiFloat))
	}

	if !p.IsDevMode() {
		if p.maxGasPriceGwei <= 0 {
			return false, payerrors.Configuration("production readiness check failed: max gas price not configured", nil)
		}
		if p.confirmationsRequired <= 0 {
			return false, payerrors.Configuration("production readiness check failed: confirmations_required not configured", nil)
		}
	}

	congestion, _ := p.sampleBlockTime(ctx, head)
	logging.Log.Info("usdt provider health check introspection",
		zap.Uint64("head_block", head),
		zap.String("wallet_balance_wei", balance.String()),
		zap.Int64("contention_count", p.scopeLock.ContentionCount()),
		zap.Int64("rate_limit_errors", p.rateLimitCount),
		zap.Float64("seconds_per_block", congestion),
	)

	if err := p.storageRoundTrip(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) storageRoundTrip(ctx context.Context) error {
	scratch := &domain.PaymentTransaction{
		ID: "__usdt_health_check__", UserID: "__health_check__", Currency: "USD",
		Status: domain.TransactionPending, CreatedAt: time.Now().UTC(),
		Amount: decimal.Zero,
	}
	if err := p.Backend.SaveTransaction(ctx, scratch); err != nil {
		// tolerate a leftover scratch record from a previous health check by
		// overwriting it in place
		existing, getErr := p.Backend.GetTransaction(ctx, scratch.ID)
		if getErr != nil || existing == nil {
			return err
		}
		if err := p.Backend.UpdateTransaction(ctx, scratch); err != nil {
			return err
		}
	}
	got, err := p.Backend.GetTransaction(ctx, scratch.ID)
	if err != nil {
		return err
	}
	if got == nil || got.ID != scratch.ID {
		return payerrors.Storage("health check round-trip mismatch", nil)
	}
	return p.cleanupScratch(ctx, scratch.ID)
}

// cleanupScratch marks the scratch health-check record cancelled; the
// Backend contract has no delete operation, so the round trip leaves a
// single terminal-state row per backend rather than accumulating pending ones.
func (p *Provider) cleanupScratch(ctx context.Context, id string) error {
	tx, err := p.Backend.GetTransaction(ctx, id)
	if err != nil || tx == nil {
		return err
	}
	if tx.Status == domain.TransactionCancelled {
		return nil
	}
	if err := tx.MarkCancelled(); err != nil {
		return nil // best-effort; a stale scratch row doesn't fail the health check
	}
	return p.Backend.UpdateTransaction(ctx, tx)
}
