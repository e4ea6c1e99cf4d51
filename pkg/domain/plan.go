// Package domain holds the value records of the Access & Billing Core —
// PaymentPlan, Subscription, UsageRecord, PaymentTransaction — generalized
// from the teacher's types/business package (plain structs validated at
// construction time, no ORM tags beyond json) into self-validating records
// with a single validation dispatcher per type, per DESIGN NOTES §9.
package domain

import (
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/sanitize"
	"github.com/shopspring/decimal"
)

// PaymentType enumerates the commercial offering shapes a PaymentPlan can take.
type PaymentType string

const (
	PaymentTypePayPerUse    PaymentType = "pay_per_use"
	PaymentTypeSubscription PaymentType = "subscription"
	PaymentTypeFreemium     PaymentType = "freemium"
)

// BillingPeriod enumerates subscription renewal cadences.
type BillingPeriod string

const (
	BillingPeriodDaily   BillingPeriod = "daily"
	BillingPeriodWeekly  BillingPeriod = "weekly"
	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodYearly  BillingPeriod = "yearly"
)

// Duration returns the calendar duration approximation used to compute a
// subscription's next period boundary. Monthly/yearly use 30/365 days,
// matching the teacher pack's billing-period helpers (exact calendar month
// arithmetic is a stretch goal noted, not required by §3).
func (b BillingPeriod) Duration() time.Duration {
	switch b {
	case BillingPeriodDaily:
		return 24 * time.Hour
	case BillingPeriodWeekly:
		return 7 * 24 * time.Hour
	case BillingPeriodMonthly:
		return 30 * 24 * time.Hour
	case BillingPeriodYearly:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

// Stablecoins and their per-currency minimum transactable unit (§3: "if
// currency is a stablecoin, price >= per-currency minimum").
var StablecoinMinimums = map[string]decimal.Decimal{
	"USDT": decimal.New(1, -6),
	"USDC": decimal.New(1, -6),
	"DAI":  decimal.New(1, -6),
	"BUSD": decimal.New(1, -6),
	"GUSD": decimal.New(1, -2),
}

func isStablecoin(currency string) bool {
	_, ok := StablecoinMinimums[currency]
	return ok
}

// PaymentPlan is a commercial offering definition.
type PaymentPlan struct {
	ID                string
	Name              string
	Description       string
	PaymentType       PaymentType
	Price             decimal.Decimal
	Currency          string
	PricePerRequest   *decimal.Decimal
	BillingPeriod     BillingPeriod
	RequestsPerPeriod *int64
	FreeRequests      int64
	Features          []string
	IsActive          bool
	CreatedAt         time.Time
}

// Validate enforces every §3 PaymentPlan invariant and runs the
// anti-injection sanitizer over every string field.
func (p *PaymentPlan) Validate() error {
	id, err := sanitize.String("id", p.ID, 100)
	if err != nil {
		return err
	}
	p.ID = id

	name, err := sanitize.String("name", p.Name, 255)
	if err != nil {
		return err
	}
	p.Name = name

	desc, err := sanitize.OptionalString("description", p.Description, 1000)
	if err != nil {
		return err
	}
	p.Description = desc

	switch p.PaymentType {
	case PaymentTypePayPerUse, PaymentTypeSubscription, PaymentTypeFreemium:
	default:
		return payerrors.Validation("payment_type", p.PaymentType, "must be one of pay_per_use, subscription, freemium")
	}

	if p.Price.IsNegative() {
		return payerrors.Validation("price", p.Price, "must be >= 0")
	}
	if p.Currency == "" {
		return payerrors.Validation("currency", p.Currency, "must not be empty")
	}
	if isStablecoin(p.Currency) {
		min := StablecoinMinimums[p.Currency]
		if p.Price.GreaterThan(decimal.Zero) && p.Price.LessThan(min) {
			return payerrors.Validation("price", p.Price, "below per-currency minimum for "+p.Currency)
		}
	}
	if p.PricePerRequest != nil && p.PricePerRequest.IsNegative() {
		return payerrors.Validation("price_per_request", *p.PricePerRequest, "must be >= 0")
	}

	if p.PaymentType == PaymentTypeSubscription {
		switch p.BillingPeriod {
		case BillingPeriodDaily, BillingPeriodWeekly, BillingPeriodMonthly, BillingPeriodYearly:
		default:
			return payerrors.Validation("billing_period", p.BillingPeriod, "required for subscription plans")
		}
	}

	if p.RequestsPerPeriod != nil && *p.RequestsPerPeriod < 0 {
		return payerrors.Validation("requests_per_period", *p.RequestsPerPeriod, "must be >= 0")
	}
	if p.FreeRequests < 0 {
		return payerrors.Validation("free_requests", p.FreeRequests, "must be >= 0")
	}

	for i, f := range p.Features {
		cleaned, err := sanitize.String("features", f, 100)
		if err != nil {
			return err
		}
		p.Features[i] = cleaned
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	return nil
}

// HasFeature reports whether the plan declares the given feature tag.
func (p *PaymentPlan) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}
