package paypalprovider

import (
	"testing"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestMapOrderStatus(t *testing.T) {
	cases := map[string]domain.TransactionStatus{
		"COMPLETED":             domain.TransactionCompleted,
		"VOIDED":                domain.TransactionCancelled,
		"CREATED":               domain.TransactionPending,
		"APPROVED":              domain.TransactionPending,
		"SOMETHING_UNEXPECTED": domain.TransactionFailed,
	}
	for input, want := range cases {
		assert.Equal(t, want, mapOrderStatus(input), "status %s", input)
	}
}

func TestNew_RequiresCredentialsAndBackend(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
