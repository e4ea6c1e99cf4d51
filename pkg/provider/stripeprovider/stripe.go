// Package stripeprovider is a thin adapter over stripe-go/v82: it creates a
// PaymentIntent per payment, maps Stripe's status vocabulary onto the
// domain's TransactionStatus, and verifies webhook signatures. It never
// renders a hosted checkout UI.
package stripeprovider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/logging"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/provider"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/storage"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

type Config struct {
	APIKey        string
	WebhookSecret string
	Backend       storage.Backend
}

type Provider struct {
	*provider.BaseProvider
	client        *stripe.Client
	webhookSecret string
}

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, payerrors.Configuration("stripe API key is required", nil)
	}
	if cfg.Backend == nil {
		return nil, payerrors.Configuration("a storage backend is required", nil)
	}
	return &Provider{
		BaseProvider:  provider.NewBaseProvider(cfg.Backend),
		client:        stripe.NewClient(cfg.APIKey, nil),
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsRefunds: true, SupportsWebhooks: true, SupportsPartialRefunds: true,
		SupportsSubscriptions: true, SupportsMetadata: true,
		SupportedCurrencies:    []string{"USD", "EUR", "GBP", "CAD", "AUD"},
		MinAmount:              0.5,
		MaxAmount:              1_000_000,
		ExpectedProcessingTime: "seconds",
	}
}

// ProcessPayment creates a Stripe PaymentIntent and maps its status onto a
// PaymentTransaction, saved via the reservation protocol shared with every
// other provider.
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

	merged := map[string]string{"user_id": userID}
	for k, v := range metadata {
		merged[k] = fmt.Sprintf("%v", v)
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(int64(amount * 100)),
		Currency: stripe.String(stripeCurrency(currency)),
		Metadata: merged,
	}

	intent, err := p.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		p.CleanupReservation(id)
		return nil, payerrors.Provider("stripe payment intent creation failed", map[string]any{"error": err.Error()})
	}

	now := time.Now().UTC()
	status, completedAt := mapStripeStatus(string(intent.Status), now)

	tx := &domain.PaymentTransaction{
		ID: id, UserID: userID, Amount: decimal.NewFromFloat(amount), Currency: currency,
		PaymentMethod: "stripe", Status: status, CreatedAt: now, CompletedAt: completedAt,
		Metadata: map[string]any{
			"stripe_payment_intent_id": intent.ID,
			"stripe_status":            string(intent.Status),
		},
	}
	for k, v := range metadata {
		tx.Metadata[k] = v
	}
	if err := tx.Validate(); err != nil {
		p.CleanupReservation(id)
		return nil, err
	}

	if err := p.Backend.SaveTransaction(ctx, tx); err != nil {
		logging.Log.Error("failed to persist stripe transaction", zap.String("tx_id", id), zap.Error(err))
		if !p.IsDevMode() {
			tx.Metadata["storage_failed"] = true
		}
	}
	p.ResolveReservation(tx)
	return tx, nil
}

func (p *Provider) VerifyPayment(ctx context.Context, txID string) (bool, error) {
	tx, err := p.Backend.GetTransaction(ctx, txID)
	if err != nil || tx == nil {
		return false, err
	}
	intentID, _ := tx.Metadata["stripe_payment_intent_id"].(string)
	if intentID == "" {
		return tx.Status == domain.TransactionCompleted, nil
	}
	intent, err := p.client.V1PaymentIntents.Retrieve(ctx, intentID, nil)
	if err != nil {
		return false, payerrors.Provider("failed to retrieve payment intent", map[string]any{"error": err.Error()})
	}
	if intent.Status == stripe.PaymentIntentStatusSucceeded && tx.Status != domain.TransactionCompleted {
		tx.Metadata["stripe_status"] = string(intent.Status)
		if err := tx.MarkCompleted(); err == nil {
			_ = p.Backend.UpdateTransaction(ctx, tx)
		}
	}
	return intent.Status == stripe.PaymentIntentStatusSucceeded, nil
}

func (p *Provider) RefundPayment(ctx context.Context, txID string, amount *float64) (*provider.RefundInfo, error) {
	tx, err := p.Backend.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, payerrors.Storage("transaction not found", map[string]any{"id": txID})
	}
	intentID, _ := tx.Metadata["stripe_payment_intent_id"].(string)
	if intentID == "" {
		return nil, payerrors.Validation("transaction", txID, "no stripe payment intent on record")
	}

	params := &stripe.RefundCreateParams{PaymentIntent: stripe.String(intentID)}
	if amount != nil {
		params.Amount = stripe.Int64(int64(*amount * 100))
	}
	refund, err := p.client.V1Refunds.Create(ctx, params)
	if err != nil {
		return nil, payerrors.Provider("stripe refund failed", map[string]any{"error": err.Error()})
	}

	if err := tx.MarkRefunded(); err != nil {
		return nil, err
	}
	_ = p.Backend.UpdateTransaction(ctx, tx)

	refundAmount := tx.Amount.InexactFloat64()
	if amount != nil {
		refundAmount = *amount
	}
	return &provider.RefundInfo{
		TransactionID: tx.ID, Amount: refundAmount, Instructions: "refunded via Stripe",
		Details: map[string]any{"stripe_refund_id": refund.ID},
	}, nil
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

// VerifyWebhookSignature validates the signature via stripe-go's webhook
// package and reports validity without raising on a bad signature.
func (p *Provider) VerifyWebhookSignature(payload []byte, headers map[string]string) (bool, error) {
	if p.webhookSecret == "" {
		return false, payerrors.Configuration("stripe webhook secret not configured", nil)
	}
	sig := headers["Stripe-Signature"]
	if sig == "" {
		sig = headers["stripe-signature"]
	}
	if _, err := webhook.ConstructEvent(payload, sig, p.webhookSecret); err != nil {
		return false, nil
	}
	return true, nil
}

func (p *Provider) CreateCheckoutSession(_ context.Context, _ string, _ float64, _ string, _ map[string]any) (*provider.CheckoutSession, error) {
	return nil, payerrors.Provider("hosted checkout sessions are not supported", nil)
}

func (p *Provider) HealthCheck(ctx context.Context) (bool, error) {
	if _, err := p.client.V1Accounts.Retrieve(ctx, &stripe.AccountRetrieveParams{}); err != nil {
		return false, payerrors.Provider("stripe health check failed", map[string]any{"error": err.Error()})
	}
	return true, nil
}

func stripeCurrency(currency string) string {
	return strings.ToLower(currency)
}

// mapStripeStatus mirrors the original provider's status mapping: Stripe's
// vocabulary collapses onto the domain's four terminal/non-terminal states.
func mapStripeStatus(stripeStatus string, now time.Time) (domain.TransactionStatus, *time.Time) {
	switch stripeStatus {
	case "succeeded":
		return domain.TransactionCompleted, &now
	case "requires_payment_method", "requires_confirmation", "requires_action", "processing":
		return domain.TransactionPending, nil
	case "canceled":
		return domain.TransactionCancelled, nil
	default:
		return domain.TransactionFailed, nil
	}
}
