package domain

import (
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/sanitize"
)

// SubscriptionStatus enumerates the lifecycle states of a Subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionSuspended SubscriptionStatus = "suspended"
)

// allowedSubscriptionTransitions encodes the status machine from §3
// exactly: same-status is always a no-op (handled separately in SetStatus),
// every other pair not listed here is rejected.
var allowedSubscriptionTransitions = map[SubscriptionStatus]map[SubscriptionStatus]bool{
	SubscriptionActive: {
		SubscriptionCancelled: true,
		SubscriptionExpired:   true,
		SubscriptionSuspended: true,
	},
	SubscriptionCancelled: {
		SubscriptionActive: true,
	},
	SubscriptionExpired: {
		SubscriptionActive: true,
	},
	SubscriptionSuspended: {
		SubscriptionActive:    true,
		SubscriptionCancelled: true,
	},
}

// Subscription binds a user to a plan over time.
type Subscription struct {
	ID                  string
	UserID              string
	PlanID              string
	Status              SubscriptionStatus
	StartDate           time.Time
	EndDate             *time.Time
	CurrentPeriodStart  *time.Time
	CurrentPeriodEnd    *time.Time
	UsageCount          int64
	Metadata            map[string]any
}

// Validate enforces §3's Subscription invariants.
func (s *Subscription) Validate() error {
	id, err := sanitize.String("id", s.ID, 100)
	if err != nil {
		return err
	}
	s.ID = id

	userID, err := sanitize.String("user_id", s.UserID, 255)
	if err != nil {
		return err
	}
	s.UserID = userID

	planID, err := sanitize.String("plan_id", s.PlanID, 100)
	if err != nil {
		return err
	}
	s.PlanID = planID

	switch s.Status {
	case SubscriptionActive, SubscriptionCancelled, SubscriptionExpired, SubscriptionSuspended:
	default:
		return payerrors.Validation("status", s.Status, "must be one of active, cancelled, expired, suspended")
	}

	if s.EndDate != nil && s.EndDate.Before(s.StartDate) {
		return payerrors.Validation("end_date", *s.EndDate, "must be >= start_date")
	}
	if s.CurrentPeriodStart != nil && s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.Before(*s.CurrentPeriodStart) {
		return payerrors.Validation("current_period_end", *s.CurrentPeriodEnd, "must be >= current_period_start")
	}
	if s.UsageCount < 0 {
		return payerrors.Validation("usage_count", s.UsageCount, "must be >= 0")
	}
	if s.Metadata != nil {
		if err := sanitize.Metadata(s.Metadata); err != nil {
			return err
		}
	}
	return nil
}

// SetStatus transitions the subscription to newStatus. Same-status
// assignment is a no-op; any transition not in allowedSubscriptionTransitions
// fails with a ValidationError, per §3.
func (s *Subscription) SetStatus(newStatus SubscriptionStatus) error {
	if s.Status == newStatus {
		return nil
	}
	if allowedSubscriptionTransitions[s.Status][newStatus] {
		s.Status = newStatus
		return nil
	}
	return payerrors.Validation("status", newStatus, "illegal transition from "+string(s.Status))
}

// IsActive reports whether the subscription currently grants access: status
// must be active AND neither end_date nor current_period_end may be in the
// past, per §3.
func (s *Subscription) IsActive() bool {
	if s.Status != SubscriptionActive {
		return false
	}
	now := time.Now().UTC()
	if s.EndDate != nil && now.After(*s.EndDate) {
		return false
	}
	if s.CurrentPeriodEnd != nil && now.After(*s.CurrentPeriodEnd) {
		return false
	}
	return true
}
