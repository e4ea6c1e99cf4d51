// Package mockprovider is a fully in-memory PaymentProvider fixture for
// tests and local CLI use, exercising the provider.BaseProvider reservation
// protocol without touching any external network.
package mockprovider

import (
	"context"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/provider"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/storage"
	"github.com/shopspring/decimal"
)

// Provider always succeeds immediately; it never reaches the network.
type Provider struct {
	*provider.BaseProvider
}

func New(backend storage.Backend) *Provider {
	return &Provider{BaseProvider: provider.NewBaseProvider(backend)}
}

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsRefunds: true, SupportsWebhooks: true, SupportsPartialRefunds: true,
		SupportsSubscriptions: true, SupportsMetadata: true,
		SupportedCurrencies: []string{"USD", "EUR"}, MinAmount: 0.01, MaxAmount: 1_000_000,
		ExpectedProcessingTime: "instant",
	}
}

func (p *Provider) ProcessPayment(ctx context.Context, userID string, amount float64, currency string, metadata map[string]any) (*domain.PaymentTransaction, error) {
	if err := p.ValidateDispatch(p.Capabilities(), amount, currency); err != nil {
		return nil, err
	}
	if err := p.ValidateMetadata(metadata); err != nil {
		return nil, err
	}

	id, err := p.ReserveTransactionID(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	tx := &domain.PaymentTransaction{
		ID: id, UserID: userID, Amount: decimal.NewFromFloat(amount), Currency: currency,
		PaymentMethod: "mock", Status: domain.TransactionPending, CreatedAt: now, Metadata: metadata,
	}
	if err := tx.Validate(); err != nil {
		p.CleanupReservation(id)
		return nil, err
	}
	if err := tx.MarkCompleted(); err != nil {
		p.CleanupReservation(id)
		return nil, err
	}
	if err := p.Backend.SaveTransaction(ctx, tx); err != nil {
		p.CleanupReservation(id)
		return nil, err
	}
	p.ResolveReservation(tx)
	return tx, nil
}

func (p *Provider) VerifyPayment(ctx context.Context, txID string) (bool, error) {
	tx, err := p.Backend.GetTransaction(ctx, txID)
	if err != nil || tx == nil {
		return false, err
	}
	return tx.Status == domain.TransactionCompleted, nil
}

func (p *Provider) RefundPayment(ctx context.Context, txID string, amount *float64) (*provider.RefundInfo, error) {
	tx, err := p.Backend.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, payerrors.Storage("transaction not found", map[string]any{"id": txID})
	}
	if err := tx.MarkRefunded(); err != nil {
		return nil, err
	}
	if err := p.Backend.UpdateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	refundAmount := tx.Amount.InexactFloat64()
	if amount != nil {
		refundAmount = *amount
	}
	return &provider.RefundInfo{TransactionID: tx.ID, Amount: refundAmount, Instructions: "refunded instantly (mock)"}, nil
}

func (p *Provider) GetPaymentStatus(ctx context.Context, txID string) (domain.TransactionStatus, error) {
	tx, err := p.Backend.GetTransaction(ctx, txID)
	if err != nil {
		return "", err
	}
	if tx == nil {
		return "", payerrors.Storage("transaction not found", map[string]any{"id": txID})
	}
	return tx.Status, nil
}

func (p *Provider) VerifyWebhookSignature(_ []byte, _ map[string]string) (bool, error) { return true, nil }

func (p *Provider) CreateCheckoutSession(_ context.Context, userID string, _ float64, _ string, _ map[string]any) (*provider.CheckoutSession, error) {
	return &provider.CheckoutSession{SessionID: "mock-session-" + userID, CheckoutURL: "https://mock.invalid/checkout"}, nil
}

func (p *Provider) HealthCheck(_ context.Context) (bool, error) { return true, nil }
