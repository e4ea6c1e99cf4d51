// Package provider defines the PaymentProvider contract §4.2 describes and
// a BaseProvider helper embeddable by concrete providers (USDT, mock,
// Stripe, PayPal), the way the teacher's services package shares small
// embeddable helper structs across concrete service types.
package provider

//go:generate go run go.uber.org/mock/mockgen -source=provider.go -destination=providermock/provider_mock.go -package=providermock

import (
	"context"
	"os"
	"strings"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
)

// Capabilities is what a provider declares about itself; each provider checks
// a request against it (via BaseProvider.ValidateDispatch) before dispatching
// and rejects what it can't honour.
type Capabilities struct {
	SupportsRefunds        bool
	SupportsWebhooks       bool
	SupportsPartialRefunds bool
	SupportsSubscriptions  bool
	SupportsMetadata       bool
	SupportedCurrencies    []string
	MinAmount              float64
	MaxAmount              float64
	ExpectedProcessingTime string
}

// SupportsCurrency reports whether currency is in the declared set.
func (c Capabilities) SupportsCurrency(currency string) bool {
	for _, cur := range c.SupportedCurrencies {
		if strings.EqualFold(cur, currency) {
			return true
		}
	}
	return false
}

// RefundInfo is the advisory result refund_payment returns; for on-chain
// providers this never touches the chain (§4.3.8).
type RefundInfo struct {
	TransactionID string
	Amount        float64
	Instructions  string
	Details       map[string]any
}

// CheckoutSession is the result of create_checkout_session.
type CheckoutSession struct {
	SessionID   string
	CheckoutURL string
}

// Provider is the uniform contract every payment backend implements.
type Provider interface {
	Capabilities() Capabilities
	ProcessPayment(ctx context.Context, userID string, amount float64, currency string, metadata map[string]any) (*domain.PaymentTransaction, error)
	VerifyPayment(ctx context.Context, txID string) (bool, error)
	RefundPayment(ctx context.Context, txID string, amount *float64) (*RefundInfo, error)
	GetPaymentStatus(ctx context.Context, txID string) (domain.TransactionStatus, error)
	VerifyWebhookSignature(payload []byte, headers map[string]string) (bool, error)
	CreateCheckoutSession(ctx context.Context, userID string, amount float64, currency string, metadata map[string]any) (*CheckoutSession, error)
	HealthCheck(ctx context.Context) (bool, error)
}

// IsDevMode is a pure query over the environment §4.2 asks the shared base
// provide, rather than a hidden module-global flag (per §9's re-architecture
// guidance on "global provider/storage singletons").
func IsDevMode() bool {
	devFlags := map[string]bool{"1": true, "true": true, "dev": true, "test": true}
	if devFlags[strings.ToLower(os.Getenv("AIAgentPayments_DevMode"))] {
		return true
	}
	env := strings.ToLower(os.Getenv("AIAgentPayments_Environment"))
	if env == "" {
		env = strings.ToLower(os.Getenv("AIA_PAYMENTS_ENV"))
	}
	switch env {
	case "dev", "development", "test", "testing", "local":
		return true
	}
	if os.Getenv("CI") != "" {
		return true
	}
	return false
}
