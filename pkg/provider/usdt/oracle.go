package usdt

import "github.com/shopspring/decimal"

// PriceOracle resolves a USDT/USD (or USDT/<fiat>) exchange rate. This
// interface is the §9 Open Question resolution (option b): production mode
// requires an explicit opt-in unless a real oracle is bound, instead of
// silently trusting the constant rate.
type PriceOracle interface {
	Rate(currency string) (decimal.Decimal, error)
}

// ConstantOracle returns a fixed rate regardless of currency; this is the
// only implementation shipped in this release. Binding it in production
// requires Config.AllowConstantOracleInProduction.
type ConstantOracle struct {
	Value decimal.Decimal
}

// NewConstantOracle builds an oracle pinned at 1.0 USDT per unit of fiat,
// matching §4.3.4's "price feed (constant 1.0 for this release)".
func NewConstantOracle() ConstantOracle {
	return ConstantOracle{Value: decimal.NewFromInt(1)}
}

func (o ConstantOracle) Rate(_ string) (decimal.Decimal, error) {
	return o.Value, nil
}
