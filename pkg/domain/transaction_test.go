package domain_test

import (
	"testing"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTx(status domain.TransactionStatus) *domain.PaymentTransaction {
	return &domain.PaymentTransaction{
		ID:       "tx_1",
		UserID:   "user_1",
		Amount:   decimal.NewFromInt(10),
		Currency: "USD",
		Status:   status,
	}
}

func TestPaymentTransaction_StatusMachine(t *testing.T) {
	tx := newTx(domain.TransactionPending)
	require.NoError(t, tx.MarkCompleted())
	assert.Equal(t, domain.TransactionCompleted, tx.Status)
	assert.NotNil(t, tx.CompletedAt)

	tx2 := newTx(domain.TransactionCompleted)
	require.NoError(t, tx2.MarkFailed(), "completed->failed is the documented exceptional edge")
	assert.Equal(t, domain.TransactionFailed, tx2.Status)

	tx3 := newTx(domain.TransactionCompleted)
	require.NoError(t, tx3.MarkRefunded())
	assert.Equal(t, domain.TransactionRefunded, tx3.Status)

	tx4 := newTx(domain.TransactionFailed)
	assert.Error(t, tx4.MarkCompleted(), "failed->completed must be rejected")

	tx5 := newTx(domain.TransactionRefunded)
	assert.Error(t, tx5.MarkFailed(), "refunded->failed must be rejected")
}

func TestPaymentTransaction_Validate(t *testing.T) {
	tx := newTx(domain.TransactionPending)
	require.NoError(t, tx.Validate())

	negative := newTx(domain.TransactionPending)
	negative.Amount = decimal.NewFromInt(-1)
	assert.Error(t, negative.Validate())
}
