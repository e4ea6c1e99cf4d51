package provider

import (
	"context"
	"testing"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseProvider_ReserveTransactionID_UniqueAndCleansUp(t *testing.T) {
	b := NewBaseProvider(storage.NewMemoryBackend())
	ctx := context.Background()

	id, err := b.ReserveTransactionID(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Nil(t, b.CachedTransaction(id), "sentinel entries must not be surfaced as cached transactions")

	b.CleanupReservation(id)
	b.cacheMu.Lock()
	_, stillPresent := b.cache[id]
	b.cacheMu.Unlock()
	assert.False(t, stillPresent, "cleanup must remove the sentinel")
}

func TestBaseProvider_ReserveTransactionID_SkipsIDsAlreadyInStorage(t *testing.T) {
	backend := storage.NewMemoryBackend()
	ctx := context.Background()

	taken := &domain.PaymentTransaction{
		ID: "collision-candidate", UserID: "u1", Amount: decimal.NewFromInt(1),
		Currency: "USD", PaymentMethod: "mock", Status: domain.TransactionCompleted,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, backend.SaveTransaction(ctx, taken))

	b := NewBaseProvider(backend)
	id, err := b.ReserveTransactionID(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, taken.ID, id)
}

func TestBaseProvider_ResolveReservation_ReplacesSentinelWithRecord(t *testing.T) {
	b := NewBaseProvider(storage.NewMemoryBackend())
	ctx := context.Background()

	id, err := b.ReserveTransactionID(ctx)
	require.NoError(t, err)

	tx := &domain.PaymentTransaction{ID: id, UserID: "u1", Amount: decimal.NewFromInt(5), Currency: "USD", PaymentMethod: "mock", Status: domain.TransactionCompleted, CreatedAt: time.Now().UTC()}
	b.ResolveReservation(tx)

	got := b.CachedTransaction(id)
	require.NotNil(t, got)
	assert.Equal(t, tx.ID, got.ID)
}

func TestSaveWithRetry_SucceedsWhenRoundTripAssertionPasses(t *testing.T) {
	backend := storage.NewMemoryBackend()
	ctx := context.Background()
	tx := &domain.PaymentTransaction{ID: "tx-1", UserID: "u1", Amount: decimal.NewFromInt(10), Currency: "USD", PaymentMethod: "mock", Status: domain.TransactionPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, backend.SaveTransaction(ctx, tx))

	require.NoError(t, tx.MarkCompleted())
	saved, err := SaveWithRetry(ctx, backend, tx, 3, func(_, reread *domain.PaymentTransaction) bool {
		return reread.Status == domain.TransactionCompleted
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionCompleted, saved.Status)
}

func TestSaveWithRetry_FailsWhenAssertionNeverPasses(t *testing.T) {
	backend := storage.NewMemoryBackend()
	ctx := context.Background()
	tx := &domain.PaymentTransaction{ID: "tx-2", UserID: "u1", Amount: decimal.NewFromInt(10), Currency: "USD", PaymentMethod: "mock", Status: domain.TransactionPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, backend.SaveTransaction(ctx, tx))

	_, err := SaveWithRetry(ctx, backend, tx, 2, func(_, _ *domain.PaymentTransaction) bool { return false })
	assert.Error(t, err)
}
