package domain

import (
	"time"

	"github.com/cmaliwal/aiagent-payments-sub000/pkg/payerrors"
	"github.com/cmaliwal/aiagent-payments-sub000/pkg/sanitize"
	"github.com/shopspring/decimal"
)

// UsageRecord is one billable or free event.
type UsageRecord struct {
	ID        string
	UserID    string
	Feature   string
	Timestamp time.Time
	Cost      *decimal.Decimal // nil = free
	Currency  string
	Metadata  map[string]any
}

// Validate enforces §3's UsageRecord invariants: cost >= 0, and if currency
// is a stablecoin and cost is non-nil, cost must clear the per-currency
// minimum.
func (u *UsageRecord) Validate() error {
	id, err := sanitize.String("id", u.ID, 100)
	if err != nil {
		return err
	}
	u.ID = id

	userID, err := sanitize.String("user_id", u.UserID, 255)
	if err != nil {
		return err
	}
	u.UserID = userID

	feature, err := sanitize.String("feature", u.Feature, 255)
	if err != nil {
		return err
	}
	u.Feature = feature

	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}

	if u.Cost != nil {
		if u.Cost.IsNegative() {
			return payerrors.Validation("cost", *u.Cost, "must be >= 0")
		}
		if isStablecoin(u.Currency) {
			if min, ok := StablecoinMinimums[u.Currency]; ok && u.Cost.GreaterThan(decimal.Zero) && u.Cost.LessThan(min) {
				return payerrors.Validation("cost", *u.Cost, "below per-currency minimum for "+u.Currency)
			}
		}
	}
	if u.Metadata != nil {
		if err := sanitize.Metadata(u.Metadata); err != nil {
			return err
		}
	}
	return nil
}

// IsFree reports whether the usage event carried no charge.
func (u *UsageRecord) IsFree() bool { return u.Cost == nil }
