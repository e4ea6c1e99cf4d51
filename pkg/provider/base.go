package provider

import (
	"context"
	"sync"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/logging"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/sanitize"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reserved is the sentinel the reservation protocol (§4.3.3) stores in the
// transaction cache while a freshly-drawn id is being validated against
// storage; every "list/iterate cache" path must skip entries equal to it.
const Reserved = "__RESERVED__"

// maxReservationAttempts is §4.3.3's N=10.
const maxReservationAttempts = 10

// BaseProvider is embedded by concrete providers to share pre-dispatch
// capability validation, metadata validation, and the id-reservation
// protocol — mirrors the teacher's small embeddable service helpers.
type BaseProvider struct {
	Backend storage.Backend

	cacheMu sync.Mutex
	cache   map[string]any // id -> Reserved (string) or *domain.PaymentTransaction
}

// NewBaseProvider wires a BaseProvider to a storage backend.
func NewBaseProvider(backend storage.Backend) *BaseProvider {
	return &BaseProvider{Backend: backend, cache: make(map[string]any)}
}

// ValidateDispatch runs the pre-dispatch checks §4.2 requires: currency
// supported, amount within [min, max].
func (b *BaseProvider) ValidateDispatch(caps Capabilities, amount float64, currency string) error {
	if !caps.SupportsCurrency(currency) {
		return payerrors.InvalidPaymentMethod(currency)
	}
	if caps.MinAmount > 0 && amount < caps.MinAmount {
		return payerrors.Validation("amount", amount, "below provider minimum")
	}
	if caps.MaxAmount > 0 && amount > caps.MaxAmount {
		return payerrors.Validation("amount", amount, "above provider maximum")
	}
	return nil
}

// ValidateMetadata reuses the shared recursive shape validator (§3).
func (b *BaseProvider) ValidateMetadata(metadata map[string]any) error {
	if metadata == nil {
		return nil
	}
	return sanitize.Metadata(metadata)
}

// ReserveTransactionID implements the §4.3.3 placeholder protocol: up to
// maxReservationAttempts draws, checking both storage and the in-memory
// cache before committing to the sentinel, to close the race between a
// cache check and a storage write.
func (b *BaseProvider) ReserveTransactionID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxReservationAttempts; attempt++ {
		id := uuid.NewString()

		existing, err := b.Backend.GetTransaction(ctx, id)
		if err != nil {
			return "", err
		}
		if existing != nil {
			continue
		}

		b.cacheMu.Lock()
		if _, taken := b.cache[id]; taken {
			b.cacheMu.Unlock()
			continue
		}
		b.cache[id] = Reserved
		b.cacheMu.Unlock()

		existing, err = b.Backend.GetTransaction(ctx, id)
		if err != nil {
			b.CleanupReservation(id)
			return "", err
		}
		if existing != nil {
			b.CleanupReservation(id)
			continue
		}
		return id, nil
	}
	return "", payerrors.Provider("exhausted id reservation attempts", map[string]any{"attempts": maxReservationAttempts})
}

// CleanupReservation removes the sentinel for id if present; safe to call
// even if id was never reserved or was already resolved.
func (b *BaseProvider) CleanupReservation(id string) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	if v, ok := b.cache[id]; ok && v == Reserved {
		delete(b.cache, id)
	}
}

// ResolveReservation replaces the sentinel with the actual record, per
// §4.3.4 "replaces the cache sentinel with the actual record."
func (b *BaseProvider) ResolveReservation(tx *domain.PaymentTransaction) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	b.cache[tx.ID] = tx
}

// CachedTransaction returns the cached record for id, ignoring sentinel
// entries, per §4.3.3's "all list/iterate cache paths ignore entries equal
// to the sentinel."
func (b *BaseProvider) CachedTransaction(id string) *domain.PaymentTransaction {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	v, ok := b.cache[id]
	if !ok {
		return nil
	}
	if v == Reserved {
		return nil
	}
	tx, _ := v.(*domain.PaymentTransaction)
	return tx
}

// IsDevMode delegates to the package-level environment query.
func (b *BaseProvider) IsDevMode() bool { return IsDevMode() }

// SaveWithRetry attempts save up to maxAttempts times, re-reading after each
// attempt and asserting the given fields round-tripped; this is the
// generalized shape of §4.3.4's "3 attempts, re-read, assert field-level
// equality" pattern, reused by verify_payment and mark_transfer_as_used.
func SaveWithRetry(
	ctx context.Context,
	backend storage.Backend,
	tx *domain.PaymentTransaction,
	maxAttempts int,
	assertRoundTrip func(saved, reread *domain.PaymentTransaction) bool,
) (*domain.PaymentTransaction, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := backend.UpdateTransaction(ctx, tx); err != nil {
			lastErr = err
			logging.Log.Warn("transaction save attempt failed",
				zap.Int("attempt", attempt), zap.String("tx_id", tx.ID), zap.Error(err))
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
			continue
		}
		reread, err := backend.GetTransaction(ctx, tx.ID)
		if err != nil {
			lastErr = err
			continue
		}
		if reread == nil || !assertRoundTrip(tx, reread) {
			lastErr = payerrors.Storage("read-back mismatch after save", map[string]any{"tx_id": tx.ID, "attempt": attempt})
			continue
		}
		return reread, nil
	}
	return nil, payerrors.Storage("exhausted save retries", map[string]any{"tx_id": tx.ID, "cause": lastErr})
}
