package domain_test

import (
	"testing"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_SetStatus_Lifecycle(t *testing.T) {
	s := &domain.Subscription{
		ID:        "sub_1",
		UserID:    "user_1",
		PlanID:    "plan_1",
		Status:    domain.SubscriptionActive,
		StartDate: time.Now().UTC(),
	}
	require.NoError(t, s.Validate())

	require.NoError(t, s.SetStatus(domain.SubscriptionSuspended))
	assert.Equal(t, domain.SubscriptionSuspended, s.Status)

	require.NoError(t, s.SetStatus(domain.SubscriptionActive))
	assert.Equal(t, domain.SubscriptionActive, s.Status)

	require.NoError(t, s.SetStatus(domain.SubscriptionExpired))
	assert.Equal(t, domain.SubscriptionExpired, s.Status)

	err := s.SetStatus(domain.SubscriptionSuspended)
	assert.Error(t, err)
	assert.Equal(t, domain.SubscriptionExpired, s.Status, "status unchanged on rejected transition")
}

func TestSubscription_SetStatus_SameStatusIsNoop(t *testing.T) {
	s := &domain.Subscription{Status: domain.SubscriptionActive}
	require.NoError(t, s.SetStatus(domain.SubscriptionActive))
	assert.Equal(t, domain.SubscriptionActive, s.Status)
}

func TestSubscription_SetStatus_AllPairs(t *testing.T) {
	allStatuses := []domain.SubscriptionStatus{
		domain.SubscriptionActive, domain.SubscriptionCancelled,
		domain.SubscriptionExpired, domain.SubscriptionSuspended,
	}
	allowed := map[domain.SubscriptionStatus]map[domain.SubscriptionStatus]bool{
		domain.SubscriptionActive:    {domain.SubscriptionCancelled: true, domain.SubscriptionExpired: true, domain.SubscriptionSuspended: true},
		domain.SubscriptionCancelled: {domain.SubscriptionActive: true},
		domain.SubscriptionExpired:   {domain.SubscriptionActive: true},
		domain.SubscriptionSuspended: {domain.SubscriptionActive: true, domain.SubscriptionCancelled: true},
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			s := &domain.Subscription{Status: from}
			err := s.SetStatus(to)
			if from == to {
				assert.NoError(t, err, "%s->%s same-status must be a no-op", from, to)
				continue
			}
			if allowed[from][to] {
				assert.NoError(t, err, "%s->%s should be allowed", from, to)
			} else {
				assert.Error(t, err, "%s->%s should be rejected", from, to)
			}
		}
	}
}

func TestSubscription_IsActive(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	cases := []struct {
		name   string
		sub    domain.Subscription
		active bool
	}{
		{"active no bounds", domain.Subscription{Status: domain.SubscriptionActive}, true},
		{"active past end_date", domain.Subscription{Status: domain.SubscriptionActive, EndDate: &past}, false},
		{"active future end_date", domain.Subscription{Status: domain.SubscriptionActive, EndDate: &future}, true},
		{"active past period end", domain.Subscription{Status: domain.SubscriptionActive, CurrentPeriodEnd: &past}, false},
		{"cancelled", domain.Subscription{Status: domain.SubscriptionCancelled}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.active, c.sub.IsActive())
		})
	}
}
