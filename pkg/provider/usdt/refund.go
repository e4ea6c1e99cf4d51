package usdt

import (
	"context"
	"fmt"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/provider"
)

// RefundPayment implements §4.3.8: advisory only. On-chain USDT transfers
// cannot be reversed by this SDK; it returns a rendered instruction block
// a human operator follows to send USDT back manually.
func (p *Provider) RefundPayment(ctx context.Context, txID string, amount *float64) (*provider.RefundInfo, error) {
	tx, err := p.Backend.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, payerrors.Storage("transaction not found", map[string]any{"id": txID})
	}
	if tx.Status != domain.TransactionCompleted {
		return nil, payerrors.Validation("status", tx.Status, "only completed transactions can be refunded")
	}

	payerAddress, _ := tx.Metadata["sender_address"].(string)
	refundAmount := tx.Amount.InexactFloat64()
	if amount != nil {
		refundAmount = *amount
	}

	instructions := fmt.Sprintf(
		"Manual USDT refund required (on-chain transfers are not reversible by this SDK):\n"+
			"  1. Confirm transaction %s is completed and eligible for refund.\n"+
			"  2. Send %.6f USDT on %s from wallet %s back to payer %s.\n"+
			"  3. Record the refund transaction hash against this transaction's metadata once sent.",
		tx.ID, refundAmount, p.network, p.wallet.Hex(), payerAddress,
	)

	return &provider.RefundInfo{
		TransactionID: tx.ID,
		Amount:        refundAmount,
		Instructions:  instructions,
		Details: map[string]any{
			"network":         string(p.network),
			"from_wallet":      p.wallet.Hex(),
			"payer_address":    payerAddress,
			"contract_address": p.netCfg.USDTContractAddress.Hex(),
		},
	}, nil
}
