package usdt

import (
	"context"
	"math/big"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/logging"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxProcessSaveAttempts = 3
	paymentTimeout         = 30 * time.Minute
)

// usdtAmountWei converts a fiat amount to USDT using rate, then to integer
// wei (10^6 units), per §4.3.4. Returns the rounded USDT amount and wei, or
// a ValidationError if the round trip doesn't hold within 1e-6 or wei <= 0.
func usdtAmountWei(amount float64, rate decimal.Decimal) (decimal.Decimal, *big.Int, error) {
	if rate.Sign() <= 0 {
		return decimal.Zero, nil, payerrors.Validation("rate", rate.String(), "price oracle rate must be positive")
	}
	amt := decimal.NewFromFloat(amount)
	usdtAmount := amt.Div(rate).Round(6)

	scaled := usdtAmount.Mul(decimal.New(1, 6))
	wei := new(big.Int).SetInt64(scaled.IntPart()) // usdtAmount has at most 6 decimals, so scaled is integral and IntPart is exact

	reconstructed := decimal.NewFromBigInt(wei, -6)
	diff := reconstructed.Sub(usdtAmount).Abs()
	if diff.GreaterThan(decimal.New(1, -6)) {
		return decimal.Zero, nil, payerrors.Validation("amount", amount, "usdt round-trip precision check failed")
	}
	if wei.Sign() <= 0 {
		return decimal.Zero, nil, payerrors.Validation("amount", amount, "must convert to a positive wei amount")
	}
	return usdtAmount, wei, nil
}

// ProcessPayment implements §4.3.4.
func (p *Provider) ProcessPayment(ctx context.Context, userID string, amount float64, currency string, metadata map[string]any) (*domain.PaymentTransaction, error) {
	caps := p.Capabilities()
	if err := p.ValidateDispatch(caps, amount, currency); err != nil {
		return nil, err
	}
	if err := p.ValidateMetadata(metadata); err != nil {
		return nil, err
	}

	senderRaw, _ := metadata["sender_address"].(string)
	sender, err := ValidateWalletAddress(senderRaw)
	if err != nil {
		return nil, payerrors.Validation("metadata.sender_address", senderRaw, "must be a checksum-valid Ethereum address")
	}

	rate, err := p.oracle.Rate(currency)
	if err != nil {
		return nil, payerrors.Provider("failed to read price oracle", map[string]any{"error": err.Error()})
	}
	usdtAmount, wei, err := usdtAmountWei(amount, rate)
	if err != nil {
		return nil, err
	}

	id, err := p.ReserveTransactionID(ctx)
	if err != nil {
		return nil, err
	}

	gasPrice, err := p.currentGasPriceGwei(ctx)
	if err != nil {
		logging.Log.Warn("failed to sample gas price at creation", zap.Error(err))
		gasPrice = 0
	}
	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		p.CleanupReservation(id)
		return nil, payerrors.Provider("failed to read current block number", map[string]any{"error": err.Error()})
	}

	now := time.Now().UTC()
	tx := &domain.PaymentTransaction{
		ID:            id,
		UserID:        userID,
		Amount:        decimal.NewFromFloat(amount),
		Currency:      currency,
		PaymentMethod: "crypto",
		Status:        domain.TransactionPending,
		CreatedAt:     now,
		Metadata: map[string]any{
			"crypto_type":                "USDT",
			"network":                    string(p.network),
			"wallet_address":             p.wallet.Hex(),
			"usdt_price":                 rate.String(),
			"usdt_amount":                usdtAmount.String(),
			"usdt_amount_wei":            wei.String(),
			"contract_address":           p.netCfg.USDTContractAddress.Hex(),
			"contract_symbol":            p.contractSymbol,
			"contract_name":              p.contractName,
			"confirmations_required":     p.confirmationsRequired,
			"created_block":              head,
			"gas_price_at_creation_gwei": gasPrice,
			"timeout_at":                 now.Add(paymentTimeout).Format(time.RFC3339),
			"timeout_minutes":            30,
			"timeout_validated":          true,
			"sender_address":             sender.Hex(),
		},
	}
	if err := tx.Validate(); err != nil {
		p.CleanupReservation(id)
		return nil, err
	}
	p.ResolveReservation(tx)

	var saved *domain.PaymentTransaction
	var lastErr error
	for attempt := 1; attempt <= maxProcessSaveAttempts; attempt++ {
		err := p.withScope(ctx, func(ctx context.Context) error {
			return p.Backend.SaveTransaction(ctx, tx)
		})
		if err != nil {
			lastErr = err
			logging.Log.Warn("process_payment save attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		reread, err := p.Backend.GetTransaction(ctx, tx.ID)
		if err != nil || reread == nil || !processPaymentRoundTripOK(tx, reread) {
			lastErr = payerrors.Storage("read-back mismatch after process_payment save", map[string]any{"tx_id": tx.ID})
			continue
		}
		saved = reread
		break
	}

	if saved == nil {
		if p.IsDevMode() {
			tx.Metadata["storage_failed"] = true
			p.ResolveReservation(tx)
			return tx, nil
		}
		p.CleanupReservation(id)
		return nil, payerrors.Storage("exhausted process_payment save retries", map[string]any{"tx_id": id, "cause": lastErr})
	}
	p.ResolveReservation(saved)
	return saved, nil
}

func processPaymentRoundTripOK(original, reread *domain.PaymentTransaction) bool {
	return original.ID == reread.ID && original.UserID == reread.UserID &&
		original.Amount.Equal(reread.Amount) && original.Status == reread.Status
}

// currentGasPriceGwei samples the network's suggested gas price in gwei.
func (p *Provider) currentGasPriceGwei(ctx context.Context) (float64, error) {
	wei, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return 0, err
	}
	gwei := decimal.NewFromBigInt(wei, -9)
	f, _ := gwei.Float64()
	return f, nil
}
