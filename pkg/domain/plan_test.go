package domain_test

import (
	"testing"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentPlan_Validate_SubscriptionRequiresBillingPeriod(t *testing.T) {
	p := &domain.PaymentPlan{
		ID:          "plan_1",
		Name:        "Pro",
		PaymentType: domain.PaymentTypeSubscription,
		Price:       decimal.NewFromInt(10),
		Currency:    "USD",
	}
	assert.Error(t, p.Validate(), "subscription plan without billing_period must fail")

	p.BillingPeriod = domain.BillingPeriodMonthly
	require.NoError(t, p.Validate())
}

func TestPaymentPlan_Validate_StablecoinMinimum(t *testing.T) {
	p := &domain.PaymentPlan{
		ID:          "plan_usdt",
		Name:        "Micro",
		PaymentType: domain.PaymentTypePayPerUse,
		Price:       decimal.New(1, -9), // 0.000000001, below USDT minimum
		Currency:    "USDT",
	}
	assert.Error(t, p.Validate())

	p.Price = decimal.New(1, -6)
	assert.NoError(t, p.Validate())
}

func TestPaymentPlan_Validate_RejectsInjection(t *testing.T) {
	p := &domain.PaymentPlan{
		ID:          "plan_1",
		Name:        "'; DROP TABLE users; --",
		PaymentType: domain.PaymentTypeFreemium,
		Price:       decimal.Zero,
		Currency:    "USD",
	}
	assert.Error(t, p.Validate())
}

func TestPaymentPlan_HasFeature(t *testing.T) {
	p := &domain.PaymentPlan{Features: []string{"chat", "search"}}
	assert.True(t, p.HasFeature("chat"))
	assert.False(t, p.HasFeature("image"))
}
