package usdt

import (
	"context"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/logging"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/provider"
	"go.uber.org/zap"
)

const maxVerifySaveAttempts = 3

// VerifyPayment implements §4.3.5. The entire check runs inside one
// transaction scope so status transitions are atomic relative to other
// verifiers running concurrently against other transactions.
func (p *Provider) VerifyPayment(ctx context.Context, txID string) (bool, error) {
	var result bool
	err := p.withScope(ctx, func(ctx context.Context) error {
		tx, err := p.Backend.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if tx == nil {
			result = false
			return nil
		}
		if tx.Status == domain.TransactionCompleted {
			result = true
			return nil
		}

		weiStr, okWei := tx.Metadata["usdt_amount_wei"].(string)
		contractAddr, okAddr := tx.Metadata["contract_address"].(string)
		timeoutAtRaw, _ := tx.Metadata["timeout_at"].(string)
		if !okWei || !okAddr || weiStr == "" || contractAddr == "" {
			return p.failVerification(ctx, tx, "missing or invalid required metadata")
		}

		if contractAddr != p.netCfg.USDTContractAddress.Hex() {
			return p.failVerification(ctx, tx, "contract_address does not match configured network contract")
		}

		timeoutAt, err := time.Parse(time.RFC3339, timeoutAtRaw)
		if err != nil {
			timeoutAt = tx.CreatedAt.Add(paymentTimeout)
		}
		if time.Now().UTC().After(timeoutAt) {
			if err := p.failVerification(ctx, tx, "timed out"); err != nil {
				return err
			}
			result = false
			return nil
		}

		match, err := p.scanForTransfer(ctx, tx, weiStr)
		if err != nil {
			return err
		}
		if match == nil {
			result = false
			return nil
		}

		now := time.Now().UTC()
		tx.Metadata["completed_at"] = now.Format(time.RFC3339)
		if err := tx.MarkCompleted(); err != nil {
			return err
		}
		saved, err := provider.SaveWithRetry(ctx, p.Backend, tx, maxVerifySaveAttempts, func(_, reread *domain.PaymentTransaction) bool {
			return reread.Status == domain.TransactionCompleted && reread.CompletedAt != nil
		})
		if err != nil {
			return err
		}
		p.ResolveReservation(saved)
		result = true
		return nil
	})
	return result, err
}

// failVerification marks tx failed with reason and persists it with retry,
// per §4.3.5 step 2/4.
func (p *Provider) failVerification(ctx context.Context, tx *domain.PaymentTransaction, reason string) error {
	if tx.Metadata == nil {
		tx.Metadata = map[string]any{}
	}
	tx.Metadata["failure_reason"] = reason
	if err := tx.MarkFailed(); err != nil {
		return err
	}
	saved, err := provider.SaveWithRetry(ctx, p.Backend, tx, maxVerifySaveAttempts, func(_, reread *domain.PaymentTransaction) bool {
		return reread.Status == domain.TransactionFailed
	})
	if err != nil {
		logging.Log.Error("failed to persist failed verification status", zap.String("tx_id", tx.ID), zap.Error(err))
		return err
	}
	p.ResolveReservation(saved)
	return nil
}

// markTransferAsUsed implements §4.3.7: record the confirmed transfer on
// the target transaction's metadata, persisted with retry and a read-back
// assertion that the metadata keys survived.
func (p *Provider) markTransferAsUsed(ctx context.Context, tx *domain.PaymentTransaction, txHash, amountWei string) error {
	if tx.Metadata == nil {
		tx.Metadata = map[string]any{}
	}
	tx.Metadata["confirmed_tx_hash"] = txHash
	tx.Metadata["actual_amount_wei"] = amountWei
	tx.Metadata["marked_as_used"] = true
	tx.Metadata["mark_timestamp"] = time.Now().UTC().Format(time.RFC3339)

	_, err := provider.SaveWithRetry(ctx, p.Backend, tx, maxVerifySaveAttempts, func(_, reread *domain.PaymentTransaction) bool {
		return reread.Metadata["confirmed_tx_hash"] == txHash &&
			reread.Metadata["actual_amount_wei"] == amountWei &&
			reread.Metadata["marked_as_used"] == true
	})
	if err != nil {
		return payerrors.Storage("failed to persist transfer-used marker", map[string]any{"tx_id": tx.ID, "error": err.Error()})
	}
	return nil
}
