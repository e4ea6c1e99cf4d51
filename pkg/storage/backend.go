// Package storage defines the persistence contract §4.1 describes and
// three implementations (memory, file, sqlite). The contract is a single
// Backend interface rather than the teacher's sqlc-generated Querier,
// because this module owns its schema instead of importing one — the
// shape of the interface (one method per record op, a commit/rollback
// pair) is still directly grounded on how the teacher's db.Querier is
// consumed by libs/go/services.
package storage

import (
	"context"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
)

// Capabilities is what the Access & Billing Core and the USDT provider
// consult before dispatching an operation that depends on backend support.
type Capabilities struct {
	SupportsTransactions   bool
	SupportsBulkOperations bool
	MaxDataSize            int64
}

// Backend is the storage contract §4.1 describes. Implementations must be
// safe for concurrent use by multiple goroutines.
type Backend interface {
	Capabilities() Capabilities

	SavePlan(ctx context.Context, p *domain.PaymentPlan) error
	GetPlan(ctx context.Context, id string) (*domain.PaymentPlan, error)
	ListPlans(ctx context.Context) ([]*domain.PaymentPlan, error)

	SaveSubscription(ctx context.Context, s *domain.Subscription) error
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	GetUserSubscription(ctx context.Context, userID string) (*domain.Subscription, error)

	SaveUsage(ctx context.Context, r *domain.UsageRecord) error
	GetUserUsage(ctx context.Context, userID string, from, to *time.Time) ([]*domain.UsageRecord, error)

	SaveTransaction(ctx context.Context, t *domain.PaymentTransaction) error
	UpdateTransaction(ctx context.Context, t *domain.PaymentTransaction) error
	GetTransaction(ctx context.Context, id string) (*domain.PaymentTransaction, error)
	ListTransactions(ctx context.Context, userID *string, status *domain.TransactionStatus, limit int) ([]*domain.PaymentTransaction, error)

	// BeginTransaction starts a transaction scope for the calling goroutine.
	// Commit persists pending writes made within the scope; Rollback
	// discards them. Backends that don't support transactions return
	// StorageError from BeginTransaction (Capabilities.SupportsTransactions
	// tells the caller in advance).
	BeginTransaction(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// HealthCheck performs a read+write round-trip on a scratch object.
	HealthCheck(ctx context.Context) error

	// Close releases any resources (file handles, DB connections) held by
	// the backend.
	Close() error
}
