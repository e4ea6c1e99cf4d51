// Package billing implements the Access & Billing Core: the plan catalog,
// subscription lifecycle, usage recording, and the access-decision
// algorithm, generalized from the teacher's libs/go/services pattern (a
// small struct wired to its storage/provider collaborators via a plain
// constructor) onto this module's own Backend/Provider contracts.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/domain"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/logging"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/provider"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/sanitize"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Manager wires the Access & Billing Core to its storage backend and
// payment provider. It owns PaymentManager and UsageTracker responsibilities
// jointly, as the spec's two named components share all their state.
type Manager struct {
	backend  storage.Backend
	provider provider.Provider
}

func New(backend storage.Backend, prov provider.Provider) *Manager {
	return &Manager{backend: backend, provider: prov}
}

// CreatePaymentPlan validates and persists a new plan.
func (m *Manager) CreatePaymentPlan(ctx context.Context, plan *domain.PaymentPlan) (*domain.PaymentPlan, error) {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if err := m.backend.SavePlan(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// ListPaymentPlans returns every persisted plan.
func (m *Manager) ListPaymentPlans(ctx context.Context) ([]*domain.PaymentPlan, error) {
	return m.backend.ListPlans(ctx)
}

// SubscribeUser implements §4.4.3: rejects an unknown plan, creates an
// active Subscription starting now, and for subscription plans sets the
// current billing period.
func (m *Manager) SubscribeUser(ctx context.Context, userID, planID string) (*domain.Subscription, error) {
	userID, err := sanitize.String("user_id", userID, 255)
	if err != nil {
		return nil, err
	}
	plan, err := m.backend.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, payerrors.Validation("plan_id", planID, "unknown plan")
	}

	now := time.Now().UTC()
	sub := &domain.Subscription{
		ID: uuid.NewString(), UserID: userID, PlanID: planID,
		Status: domain.SubscriptionActive, StartDate: now,
	}
	if plan.PaymentType == domain.PaymentTypeSubscription {
		end := now.Add(plan.BillingPeriod.Duration())
		sub.CurrentPeriodStart = &now
		sub.CurrentPeriodEnd = &end
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if err := m.backend.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// CancelUserSubscription transitions the user's active subscription to
// cancelled, per the §3 status machine.
func (m *Manager) CancelUserSubscription(ctx context.Context, userID string) error {
	sub, err := m.backend.GetUserSubscription(ctx, userID)
	if err != nil {
		return err
	}
	if sub == nil {
		return payerrors.Validation("user_id", userID, "no active subscription")
	}
	if err := sub.SetStatus(domain.SubscriptionCancelled); err != nil {
		return err
	}
	return m.backend.SaveSubscription(ctx, sub)
}

// GetUserSubscription returns the user's active subscription, or nil if none.
func (m *Manager) GetUserSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	return m.backend.GetUserSubscription(ctx, userID)
}

// GetUserUsage returns every usage record the user has accrued.
func (m *Manager) GetUserUsage(ctx context.Context, userID string) ([]*domain.UsageRecord, error) {
	return m.backend.GetUserUsage(ctx, userID, nil, nil)
}

// CheckAccess implements §4.4.1 exactly.
func (m *Manager) CheckAccess(ctx context.Context, userID, feature string) (bool, error) {
	userID, err := sanitize.String("user_id", userID, 255)
	if err != nil {
		return false, err
	}
	feature, err = sanitize.String("feature", feature, 255)
	if err != nil {
		return false, err
	}

	sub, err := m.backend.GetUserSubscription(ctx, userID)
	if err != nil {
		return false, err
	}

	if sub == nil {
		plans, err := m.backend.ListPlans(ctx)
		if err != nil {
			return false, err
		}
		var payPerUseAvailable bool
		for _, p := range plans {
			if !p.IsActive || !p.HasFeature(feature) {
				continue
			}
			switch p.PaymentType {
			case domain.PaymentTypeFreemium:
				// a freemium plan with no prior subscription has its full
				// free_requests allowance unused
				if p.FreeRequests > 0 {
					return true, nil
				}
			case domain.PaymentTypePayPerUse:
				payPerUseAvailable = true
			}
		}
		return payPerUseAvailable, nil
	}

	plan, err := m.backend.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return false, err
	}
	if plan == nil || !plan.HasFeature(feature) {
		return false, nil
	}

	switch plan.PaymentType {
	case domain.PaymentTypeFreemium:
		if plan.FreeRequests > 0 && sub.UsageCount >= plan.FreeRequests {
			return false, nil
		}
	case domain.PaymentTypeSubscription:
		if plan.RequestsPerPeriod != nil && sub.UsageCount >= *plan.RequestsPerPeriod {
			return false, nil
		}
		if !sub.IsActive() {
			return false, nil
		}
	}
	return true, nil
}

// RecordUsage implements §4.4.2: for an active subscription it increments
// usage_count atomically (serialized through the storage transaction scope)
// and persists a UsageRecord; for pay-per-use without a subscription it
// dispatches to the provider for the plan's declared per-request price.
func (m *Manager) RecordUsage(ctx context.Context, userID, feature string, cost *decimal.Decimal) (*domain.UsageRecord, error) {
	userID, err := sanitize.String("user_id", userID, 255)
	if err != nil {
		return nil, err
	}
	feature, err = sanitize.String("feature", feature, 255)
	if err != nil {
		return nil, err
	}

	caps := m.backend.Capabilities()
	var record *domain.UsageRecord
	var chargeErr error

	run := func() error {
		sub, err := m.backend.GetUserSubscription(ctx, userID)
		if err != nil {
			return err
		}

		var currency string
		if sub != nil {
			sub.UsageCount++
			if err := m.backend.SaveSubscription(ctx, sub); err != nil {
				return err
			}
		} else if cost == nil {
			// pay-per-use dispatch happens outside the storage transaction
			// scope (it may block on a network call); record the charge
			// after this closure returns.
			plans, err := m.backend.ListPlans(ctx)
			if err != nil {
				return err
			}
			for _, p := range plans {
				if p.PaymentType == domain.PaymentTypePayPerUse && p.HasFeature(feature) && p.PricePerRequest != nil {
					priceCopy := *p.PricePerRequest
					cost = &priceCopy
					currency = p.Currency
					break
				}
			}
		}

		rec := &domain.UsageRecord{
			ID: uuid.NewString(), UserID: userID, Feature: feature,
			Timestamp: time.Now().UTC(), Cost: cost, Currency: currency,
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		if err := m.backend.SaveUsage(ctx, rec); err != nil {
			return err
		}
		record = rec
		return nil
	}

	if caps.SupportsTransactions {
		if err := m.backend.BeginTransaction(ctx); err != nil {
			return nil, err
		}
		if err := run(); err != nil {
			_ = m.backend.Rollback(ctx)
			return nil, err
		}
		if err := m.backend.Commit(ctx); err != nil {
			return nil, err
		}
	} else if err := run(); err != nil {
		return nil, err
	}

	if record != nil && record.Cost != nil && record.Cost.GreaterThan(decimal.Zero) && m.provider != nil {
		amount, _ := record.Cost.Float64()
		if _, err := m.provider.ProcessPayment(ctx, userID, amount, record.Currency, map[string]any{"feature": feature}); err != nil {
			chargeErr = payerrors.PaymentFailed(fmt.Sprintf("failed to charge for feature %q", feature), map[string]any{"error": err.Error()})
			logging.Log.Warn("pay-per-use charge failed", zap.String("user_id", userID), zap.String("feature", feature), zap.Error(err))
		}
	}
	if chargeErr != nil {
		return record, chargeErr
	}
	return record, nil
}

// ProcessPayment dispatches a one-off payment through the configured provider.
func (m *Manager) ProcessPayment(ctx context.Context, userID string, amount float64, currency string) (*domain.PaymentTransaction, error) {
	if m.provider == nil {
		return nil, payerrors.Configuration("no payment provider configured", nil)
	}
	return m.provider.ProcessPayment(ctx, userID, amount, currency, nil)
}
