package mockprovider

import (
	"context"
	"testing"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_ProcessPayment_CompletesImmediately(t *testing.T) {
	p := New(storage.NewMemoryBackend())
	tx, err := p.ProcessPayment(context.Background(), "user-1", 9.99, "USD", map[string]any{"note": "test"})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionCompleted, tx.Status)
	assert.NotEmpty(t, tx.ID)
}

func TestProvider_ProcessPayment_RejectsUnsupportedCurrency(t *testing.T) {
	p := New(storage.NewMemoryBackend())
	_, err := p.ProcessPayment(context.Background(), "user-1", 9.99, "JPY", nil)
	assert.Error(t, err)
}

func TestProvider_VerifyPayment_TrueAfterProcessing(t *testing.T) {
	p := New(storage.NewMemoryBackend())
	tx, err := p.ProcessPayment(context.Background(), "user-1", 5, "USD", nil)
	require.NoError(t, err)

	ok, err := p.VerifyPayment(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProvider_RefundPayment_MarksRefunded(t *testing.T) {
	p := New(storage.NewMemoryBackend())
	tx, err := p.ProcessPayment(context.Background(), "user-1", 20, "USD", nil)
	require.NoError(t, err)

	info, err := p.RefundPayment(context.Background(), tx.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, info.TransactionID)

	status, err := p.GetPaymentStatus(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionRefunded, status)
}

func TestProvider_GetPaymentStatus_NotFound(t *testing.T) {
	p := New(storage.NewMemoryBackend())
	_, err := p.GetPaymentStatus(context.Background(), "missing")
	assert.Error(t, err)
}
