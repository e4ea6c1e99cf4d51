package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/provider/mockprovider"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/provider/providermock"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestManager() *Manager {
	backend := storage.NewMemoryBackend()
	return New(backend, mockprovider.New(backend))
}

// TestFreemiumAccessLimit implements the §8 "Freemium access limit" scenario.
func TestFreemiumAccessLimit(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	plan, err := m.CreatePaymentPlan(ctx, &domain.PaymentPlan{
		Name: "Freemium", PaymentType: domain.PaymentTypeFreemium,
		Currency: "USD", FreeRequests: 2, Features: []string{"f"}, IsActive: true,
	})
	require.NoError(t, err)

	_, err = m.SubscribeUser(ctx, "user-1", plan.ID)
	require.NoError(t, err)

	ok, err := m.CheckAccess(ctx, "user-1", "f")
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 2; i++ {
		_, err := m.RecordUsage(ctx, "user-1", "f", nil)
		require.NoError(t, err)
	}

	ok, err = m.CheckAccess(ctx, "user-1", "f")
	require.NoError(t, err)
	assert.False(t, ok, "usage limit must be enforced after free_requests is exhausted")
}

func TestSubscribeUser_RejectsUnknownPlan(t *testing.T) {
	m := newTestManager()
	_, err := m.SubscribeUser(context.Background(), "user-1", "does-not-exist")
	assert.Error(t, err)
}

func TestSubscribeUser_SetsCurrentPeriodForSubscriptionPlans(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	plan, err := m.CreatePaymentPlan(ctx, &domain.PaymentPlan{
		Name: "Pro", PaymentType: domain.PaymentTypeSubscription,
		Currency: "USD", Price: decimal.NewFromInt(10), BillingPeriod: domain.BillingPeriodMonthly,
		Features: []string{"f"}, IsActive: true,
	})
	require.NoError(t, err)

	sub, err := m.SubscribeUser(ctx, "user-1", plan.ID)
	require.NoError(t, err)
	require.NotNil(t, sub.CurrentPeriodStart)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, sub.CurrentPeriodEnd.After(*sub.CurrentPeriodStart))
}

func TestCancelUserSubscription(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	plan, err := m.CreatePaymentPlan(ctx, &domain.PaymentPlan{
		Name: "Pro", PaymentType: domain.PaymentTypeFreemium, Currency: "USD",
		FreeRequests: 5, Features: []string{"f"}, IsActive: true,
	})
	require.NoError(t, err)
	_, err = m.SubscribeUser(ctx, "user-1", plan.ID)
	require.NoError(t, err)

	require.NoError(t, m.CancelUserSubscription(ctx, "user-1"))

	sub, err := m.GetUserSubscription(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, sub, "a cancelled subscription must not be returned as the user's active subscription")
}

func TestCheckAccess_NoSubscription_PayPerUseAlwaysGranted(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	_, err := m.CreatePaymentPlan(ctx, &domain.PaymentPlan{
		Name: "PPU", PaymentType: domain.PaymentTypePayPerUse, Currency: "USD",
		PricePerRequest: decimalPtr(decimal.NewFromFloat(0.1)), Features: []string{"f"}, IsActive: true,
	})
	require.NoError(t, err)

	ok, err := m.CheckAccess(ctx, "user-1", "f")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckAccess_NoSubscription_UnknownFeatureDenied(t *testing.T) {
	m := newTestManager()
	ok, err := m.CheckAccess(context.Background(), "user-1", "unknown-feature")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordUsage_PayPerUseDispatchesPayment(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	_, err := m.CreatePaymentPlan(ctx, &domain.PaymentPlan{
		Name: "PPU", PaymentType: domain.PaymentTypePayPerUse, Currency: "USD",
		PricePerRequest: decimalPtr(decimal.NewFromFloat(1.5)), Features: []string{"f"}, IsActive: true,
	})
	require.NoError(t, err)

	rec, err := m.RecordUsage(ctx, "user-1", "f", nil)
	require.NoError(t, err)
	require.NotNil(t, rec.Cost)
	assert.True(t, rec.Cost.Equal(decimal.NewFromFloat(1.5)))

	txs, err := m.backend.ListTransactions(ctx, nil, nil, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

// TestRecordUsage_PayPerUse_ProviderFailureReturnsPaymentFailedButKeepsRecord
// exercises RecordUsage against a gomock.Controller-backed provider double,
// the way the teacher's services tests stub collaborators, to assert the
// usage record is still persisted (and returned) even when the provider
// charge itself fails.
func TestRecordUsage_PayPerUse_ProviderFailureReturnsPaymentFailedButKeepsRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backend := storage.NewMemoryBackend()
	mockProv := providermock.NewMockProvider(ctrl)
	m := New(backend, mockProv)
	ctx := context.Background()

	_, err := m.CreatePaymentPlan(ctx, &domain.PaymentPlan{
		Name: "PPU", PaymentType: domain.PaymentTypePayPerUse, Currency: "USD",
		PricePerRequest: decimalPtr(decimal.NewFromFloat(2)), Features: []string{"f"}, IsActive: true,
	})
	require.NoError(t, err)

	mockProv.EXPECT().
		ProcessPayment(gomock.Any(), "user-1", 2.0, "USD", gomock.Any()).
		Return(nil, errors.New("card declined"))

	rec, err := m.RecordUsage(ctx, "user-1", "f", nil)
	assert.Error(t, err)
	require.NotNil(t, rec, "the usage record must still be persisted even when the charge fails")
	assert.True(t, rec.Cost.Equal(decimal.NewFromFloat(2)))

	txs, err := m.backend.ListTransactions(ctx, nil, nil, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 0, "a failed charge must not leave behind a saved transaction")
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }
