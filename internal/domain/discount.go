package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType represents how a discount value is interpreted
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Discount is time-bounded, prioritized price-reduction reference data.
// An empty ApplicableProducts list means the discount is global.
type Discount struct {
	ID                 string
	Name               string
	Type               DiscountType
	Value              decimal.Decimal
	Priority           int
	StartDate          time.Time
	EndDate            time.Time // zero value = open-ended
	ApplicableProducts []string
}

// AppliesTo returns true if the discount covers the given product
func (d *Discount) AppliesTo(productID string) bool {
	if len(d.ApplicableProducts) == 0 {
		return true
	}
	for _, id := range d.ApplicableProducts {
		if id == productID {
			return true
		}
	}
	return false
}

// IsActiveAt returns true if now falls within the discount's validity window
func (d *Discount) IsActiveAt(now time.Time) bool {
	if now.Before(d.StartDate) {
		return false
	}
	if !d.EndDate.IsZero() && now.After(d.EndDate) {
		return false
	}
	return true
}

// DiscountedPrice applies the discount to a price. Fixed discounts never
// drive the price below zero; percentage discounts never remove more than
// the full price.
func (d *Discount) DiscountedPrice(price decimal.Decimal) decimal.Decimal {
	var discounted decimal.Decimal
	switch d.Type {
	case DiscountTypePercentage:
		pct := d.Value
		if pct.GreaterThan(decimal.NewFromInt(100)) {
			pct = decimal.NewFromInt(100)
		}
		discounted = price.Sub(price.Mul(pct).Div(decimal.NewFromInt(100)))
	case DiscountTypeFixed:
		discounted = price.Sub(d.Value)
	default:
		return price
	}

	if discounted.IsNegative() {
		return decimal.Zero
	}
	return discounted
}

// Savings returns the amount the discount removes from the given price
func (d *Discount) Savings(price decimal.Decimal) decimal.Decimal {
	return price.Sub(d.DiscountedPrice(price))
}

// SelectBest picks the best applicable discount for a price at the given
// instant: highest priority wins, ties broken by largest savings, remaining
// ties keep the first-encountered discount. Discounts that save nothing are
// skipped. Returns nil when no discount applies.
func SelectBest(discounts []Discount, price decimal.Decimal, now time.Time) *Discount {
	var best *Discount
	var bestSavings decimal.Decimal

	for i := range discounts {
		d := &discounts[i]
		if !d.IsActiveAt(now) {
			continue
		}
		savings := d.Savings(price)
		if !savings.IsPositive() {
			continue
		}

		if best == nil ||
			d.Priority > best.Priority ||
			(d.Priority == best.Priority && savings.GreaterThan(bestSavings)) {
			best = d
			bestSavings = savings
		}
	}

	return best
}

const (
	// loyaltyPercentPerRenewal is the renewal-loyalty discount earned per
	// completed billing cycle, capped at loyaltyPercentCap.
	loyaltyPercentPerRenewal = 5
	loyaltyPercentCap        = 10

	// RenewalLoyaltyDiscountID identifies the computed loyalty discount
	RenewalLoyaltyDiscountID = "renewal-loyalty"
)

// RenewalLoyaltyDiscount returns the computed loyalty discount for a
// subscription with the given renewal count: 5% per renewal, capped at 10%.
// Returns nil before the first renewal.
func RenewalLoyaltyDiscount(renewalCount int) *Discount {
	if renewalCount < 1 {
		return nil
	}

	pct := renewalCount * loyaltyPercentPerRenewal
	if pct > loyaltyPercentCap {
		pct = loyaltyPercentCap
	}

	return &Discount{
		ID:       RenewalLoyaltyDiscountID,
		Name:     "Renewal loyalty discount",
		Type:     DiscountTypePercentage,
		Value:    decimal.NewFromInt(int64(pct)),
		Priority: 0,
	}
}
