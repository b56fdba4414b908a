package domain

import (
	"github.com/shopspring/decimal"
)

// DefaultGracePeriodDays is applied when a product does not configure its own
const DefaultGracePeriodDays = 7

// Product is immutable reference data describing a billable plan.
// The billing core reads products but never owns or mutates them.
type Product struct {
	ID              string
	Name            string
	Price           decimal.Decimal
	CycleType       BillingCycle
	GracePeriodDays int
}

// EffectiveGracePeriodDays returns the configured grace period, falling back
// to the default when unset
func (p *Product) EffectiveGracePeriodDays() int {
	if p.GracePeriodDays <= 0 {
		return DefaultGracePeriodDays
	}
	return p.GracePeriodDays
}
