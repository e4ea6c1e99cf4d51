package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backendConstructors exercises every Backend implementation against the
// same contract, the way §8's testable properties ask for.
func backendConstructors(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	file, err := NewFileBackend(filepath.Join(dir, "file-store"))
	require.NoError(t, err)

	sqlitePath := filepath.Join(dir, "test.db")
	sqliteBackend, err := NewSQLiteBackend(sqlitePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Remove(sqlitePath) })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"file":   file,
		"sqlite": sqliteBackend,
	}
}

func TestBackend_PlanRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range backendConstructors(t) {
		t.Run(name, func(t *testing.T) {
			plan := &domain.PaymentPlan{
				ID: "plan-1", Name: "Pro", PaymentType: domain.PaymentTypeSubscription,
				Price: decimal.NewFromFloat(9.99), Currency: "USD", BillingPeriod: domain.BillingPeriodMonthly,
				Features: []string{"a", "b"}, IsActive: true, CreatedAt: time.Now().UTC(),
			}
			require.NoError(t, b.SavePlan(ctx, plan))

			got, err := b.GetPlan(ctx, "plan-1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "Pro", got.Name)
			assert.True(t, got.Price.Equal(plan.Price))

			list, err := b.ListPlans(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestBackend_SubscriptionActivity(t *testing.T) {
	ctx := context.Background()
	for name, b := range backendConstructors(t) {
		t.Run(name, func(t *testing.T) {
			sub := &domain.Subscription{
				ID: "sub-1", UserID: "user-1", PlanID: "plan-1",
				Status: domain.SubscriptionActive, StartDate: time.Now().UTC(),
			}
			require.NoError(t, b.SaveSubscription(ctx, sub))

			got, err := b.GetUserSubscription(ctx, "user-1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "sub-1", got.ID)

			require.NoError(t, sub.SetStatus(domain.SubscriptionCancelled))
			require.NoError(t, b.SaveSubscription(ctx, sub))

			got, err = b.GetUserSubscription(ctx, "user-1")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestBackend_UsageOrdering(t *testing.T) {
	ctx := context.Background()
	for name, b := range backendConstructors(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().UTC().Add(-time.Hour)
			for i := 0; i < 3; i++ {
				rec := &domain.UsageRecord{
					ID: "usage-" + string(rune('a'+i)), UserID: "user-1", Feature: "chat",
					Timestamp: base.Add(time.Duration(2-i) * time.Minute),
				}
				require.NoError(t, b.SaveUsage(ctx, rec))
			}
			records, err := b.GetUserUsage(ctx, "user-1", nil, nil)
			require.NoError(t, err)
			require.Len(t, records, 3)
			for i := 1; i < len(records); i++ {
				assert.True(t, !records[i].Timestamp.Before(records[i-1].Timestamp))
			}
		})
	}
}

func TestBackend_TransactionLifecycleAndDuplicates(t *testing.T) {
	ctx := context.Background()
	for name, b := range backendConstructors(t) {
		t.Run(name, func(t *testing.T) {
			tx := &domain.PaymentTransaction{
				ID: "tx-1", UserID: "user-1", Amount: decimal.NewFromInt(5), Currency: "USD",
				Status: domain.TransactionPending, CreatedAt: time.Now().UTC(),
			}
			require.NoError(t, b.SaveTransaction(ctx, tx))

			dup := *tx
			err := b.SaveTransaction(ctx, &dup)
			assert.Error(t, err)

			require.NoError(t, tx.MarkCompleted())
			require.NoError(t, b.UpdateTransaction(ctx, tx))

			got, err := b.GetTransaction(ctx, "tx-1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, domain.TransactionCompleted, got.Status)

			missing := &domain.PaymentTransaction{ID: "no-such-tx", UserID: "u", Currency: "USD", Status: domain.TransactionPending}
			assert.Error(t, b.UpdateTransaction(ctx, missing))
		})
	}
}

func TestBackend_TransactionScopeCommitRollback(t *testing.T) {
	ctx := context.Background()
	for name, b := range backendConstructors(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.BeginTransaction(ctx))
			tx := &domain.PaymentTransaction{
				ID: "scoped-1", UserID: "user-1", Amount: decimal.NewFromInt(1), Currency: "USD",
				Status: domain.TransactionPending, CreatedAt: time.Now().UTC(),
			}
			require.NoError(t, b.SaveTransaction(ctx, tx))
			require.NoError(t, b.Rollback(ctx))

			got, err := b.GetTransaction(ctx, "scoped-1")
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, b.BeginTransaction(ctx))
			require.NoError(t, b.SaveTransaction(ctx, tx))
			require.NoError(t, b.Commit(ctx))

			got, err = b.GetTransaction(ctx, "scoped-1")
			require.NoError(t, err)
			require.NotNil(t, got)
		})
	}
}

// TestBackend_ReadYourOwnWriteWithinOpenScope guards against a write earlier
// in an open transaction scope being invisible to a read later in that same
// scope, before Commit — the bug SaveWithRetry's update-then-read-back round
// trip depends on not having.
func TestBackend_ReadYourOwnWriteWithinOpenScope(t *testing.T) {
	ctx := context.Background()
	for name, b := range backendConstructors(t) {
		t.Run(name, func(t *testing.T) {
			tx := &domain.PaymentTransaction{
				ID: "scoped-2", UserID: "user-1", Amount: decimal.NewFromInt(1), Currency: "USD",
				Status: domain.TransactionPending, CreatedAt: time.Now().UTC(),
			}
			require.NoError(t, b.SaveTransaction(ctx, tx))

			require.NoError(t, b.BeginTransaction(ctx))
			require.NoError(t, tx.MarkCompleted())
			require.NoError(t, b.UpdateTransaction(ctx, tx))

			got, err := b.GetTransaction(ctx, "scoped-2")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, domain.TransactionCompleted, got.Status, "a write earlier in the same open scope must be visible to a read before Commit")

			require.NoError(t, b.Commit(ctx))
		})
	}
}

func TestBackend_HealthCheck(t *testing.T) {
	ctx := context.Background()
	for name, b := range backendConstructors(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, b.HealthCheck(ctx))
		})
	}
}

func TestReentrantLock_SameGoroutineReenters(t *testing.T) {
	l := NewReentrantLock("test")
	require.NoError(t, l.Acquire(time.Second))
	require.NoError(t, l.Acquire(time.Second)) // re-entrant: same goroutine
	l.Release()
	l.Release()
	assert.Equal(t, int64(0), l.ContentionCount())
}

func TestReentrantLock_OtherGoroutineBlocksUntilTimeout(t *testing.T) {
	l := NewReentrantLock("test")
	require.NoError(t, l.Acquire(time.Second))
	defer l.Release()

	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(50 * time.Millisecond)
	}()
	err := <-done
	assert.Error(t, err)
	assert.Equal(t, int64(1), l.ContentionCount())
}
