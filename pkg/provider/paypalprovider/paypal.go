// Package paypalprovider is a thin adapter over the PayPal Orders v2 REST
// API. It is intentionally shallow: PayPal's HTTP surface is vendor detail,
// not engineering depth. Unlike the UUID-keyed USDT and Stripe providers,
// this one keys local transactions by PayPal's own order id, so
// deduplication here is "one local transaction per order id" rather than
// the reservation protocol the other providers use.
package paypalprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/provider"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/storage"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	sandboxBaseURL = "https://api-m.sandbox.paypal.com"
	liveBaseURL    = "https://api-m.paypal.com"
)

type Config struct {
	ClientID     string
	ClientSecret string
	Sandbox      bool
	Backend      storage.Backend
}

type Provider struct {
	*provider.BaseProvider
	baseURL    string
	httpClient *http.Client
}

func New(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, payerrors.Configuration("paypal client id and secret are required", nil)
	}
	if cfg.Backend == nil {
		return nil, payerrors.Configuration("a storage backend is required", nil)
	}
	baseURL := liveBaseURL
	if cfg.Sandbox {
		baseURL = sandboxBaseURL
	}
	tokenCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
	}
	return &Provider{
		BaseProvider: provider.NewBaseProvider(cfg.Backend),
		baseURL:      baseURL,
		httpClient:   tokenCfg.Client(context.Background()),
	}, nil
}

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsRefunds: true, SupportsWebhooks: true, SupportsPartialRefunds: true,
		SupportsSubscriptions: false, SupportsMetadata: true,
		SupportedCurrencies:    []string{"USD", "EUR", "GBP"},
		MinAmount:              0.01,
		MaxAmount:              10_000,
		ExpectedProcessingTime: "seconds",
	}
}

type orderCreateRequest struct {
	Intent        string        `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

type purchaseUnit struct {
	Amount      amount            `json:"amount"`
	CustomID    string            `json:"custom_id,omitempty"`
	Description string            `json:"description,omitempty"`
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ProcessPayment creates a PayPal order and keys the local transaction by
// the order id rather than a generated UUID; see the package doc comment.
func (p *Provider) ProcessPayment(ctx context.Context, userID string, amountValue float64, currency string, metadata map[string]any) (*domain.PaymentTransaction, error) {
	if err := p.ValidateDispatch(p.Capabilities(), amountValue, currency); err != nil {
		return nil, err
	}
	if err := p.ValidateMetadata(metadata); err != nil {
		return nil, err
	}

	reqBody := orderCreateRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			Amount:   amount{CurrencyCode: currency, Value: fmt.Sprintf("%.2f", amountValue)},
			CustomID: userID,
		}},
	}
	var order orderResponse
	if err := p.post(ctx, "/v2/checkout/orders", reqBody, &order); err != nil {
		return nil, err
	}

	if existing, err := p.Backend.GetTransaction(ctx, order.ID); err == nil && existing != nil {
		return nil, payerrors.Storage("duplicate paypal order id", map[string]any{"order_id": order.ID})
	}

	now := time.Now().UTC()
	tx := &domain.PaymentTransaction{
		ID: order.ID, UserID: userID, Amount: decimal.NewFromFloat(amountValue), Currency: currency,
		PaymentMethod: "paypal", Status: mapOrderStatus(order.Status), CreatedAt: now,
		Metadata: map[string]any{"paypal_order_id": order.ID, "paypal_status": order.Status},
	}
	for k, v := range metadata {
		tx.Metadata[k] = v
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	if err := p.Backend.SaveTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// CaptureOrder completes an approved PayPal order, updating the matching
// local transaction's status from its order-id capture response.
func (p *Provider) CaptureOrder(ctx context.Context, orderID string) (*domain.PaymentTransaction, error) {
	var captured orderResponse
	if err := p.post(ctx, fmt.Sprintf("/v2/checkout/orders/%s/capture", orderID), nil, &captured); err != nil {
		return nil, err
	}
	tx, err := p.Backend.GetTransaction(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, payerrors.Storage("transaction not found for paypal order", map[string]any{"order_id": orderID})
	}
	tx.Metadata["paypal_status"] = captured.Status
	if mapOrderStatus(captured.Status) == domain.TransactionCompleted {
		if err := tx.MarkCompleted(); err != nil {
			return nil, err
		}
	}
	if err := p.Backend.UpdateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (p *Provider) VerifyPayment(ctx context.Context, txID string) (bool, error) {
	tx, err := p.Backend.GetTransaction(ctx, txID)
	if err != nil || tx == nil {
		return false, err
	}
	return tx.Status == domain.TransactionCompleted, nil
}

func (p *Provider) RefundPayment(ctx context.Context, txID string, amountPtr *float64) (*provider.RefundInfo, error) {
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
	if amountPtr != nil {
		refundAmount = *amountPtr
	}
	return &provider.RefundInfo{TransactionID: tx.ID, Amount: refundAmount, Instructions: "refunded via PayPal"}, nil
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

func (p *Provider) VerifyWebhookSignature(_ []byte, _ map[string]string) (bool, error) {
	return false, payerrors.Provider("paypal webhook signature verification is not implemented", nil)
}

func (p *Provider) CreateCheckoutSession(_ context.Context, _ string, _ float64, _ string, _ map[string]any) (*provider.CheckoutSession, error) {
	return nil, payerrors.Provider("hosted checkout sessions are not supported", nil)
}

func (p *Provider) HealthCheck(ctx context.Context) (bool, error) {
	var order orderResponse
	err := p.post(ctx, "/v2/checkout/orders", orderCreateRequest{
		Intent:        "CAPTURE",
		PurchaseUnits: []purchaseUnit{{Amount: amount{CurrencyCode: "USD", Value: "1.00"}, Description: "health check"}},
	}, &order)
	if err != nil {
		return false, payerrors.Provider("paypal health check failed", map[string]any{"error": err.Error()})
	}
	return order.ID != "", nil
}

func (p *Provider) post(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return payerrors.Provider("paypal request failed", map[string]any{"path": path, "error": err.Error()})
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return payerrors.Provider("paypal returned an error response", map[string]any{"path": path, "status": resp.StatusCode})
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return payerrors.Provider("failed to decode paypal response", map[string]any{"path": path, "error": err.Error()})
		}
	}
	return nil
}

func mapOrderStatus(paypalStatus string) domain.TransactionStatus {
	switch paypalStatus {
	case "COMPLETED":
		return domain.TransactionCompleted
	case "VOIDED":
		return domain.TransactionCancelled
	case "CREATED", "SAVED", "APPROVED", "PAYER_ACTION_REQUIRED":
		return domain.TransactionPending
	default:
		return domain.TransactionFailed
	}
}
