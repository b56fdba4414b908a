package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CouponTier controls how a coupon competes with computed discounts
type CouponTier string

const (
	CouponTierBasic    CouponTier = "basic"
	CouponTierRenewal  CouponTier = "renewal"
	CouponTierCampaign CouponTier = "campaign"
)

// Coupon is a discount with usage tracking. Invariants: UsedCount never
// exceeds UsageLimit when a limit is set, and a user appears at most once
// in UsedBy.
type Coupon struct {
	ID                 string
	Code               string
	Type               DiscountType
	Value              decimal.Decimal
	Priority           int
	Tier               CouponTier
	StartDate          time.Time
	EndDate            time.Time
	ApplicableProducts []string
	UsageLimit         *int // nil = unlimited
	UsedCount          int
	UsedBy             []string
}

// Discount returns the coupon's price-reduction view
func (c *Coupon) Discount() Discount {
	return Discount{
		ID:                 c.ID,
		Name:               c.Code,
		Type:               c.Type,
		Value:              c.Value,
		Priority:           c.Priority,
		StartDate:          c.StartDate,
		EndDate:            c.EndDate,
		ApplicableProducts: c.ApplicableProducts,
	}
}

// IsExhausted returns true if the coupon's usage limit has been reached
func (c *Coupon) IsExhausted() bool {
	return c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit
}

// WasUsedBy returns true if the user has already redeemed this coupon
func (c *Coupon) WasUsedBy(userID string) bool {
	for _, id := range c.UsedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// CanBeUsedBy checks redeemability for a user
func (c *Coupon) CanBeUsedBy(userID string) error {
	if c.IsExhausted() {
		return ErrCouponExhausted
	}
	if c.WasUsedBy(userID) {
		return ErrCouponAlreadyUsed
	}
	return nil
}

// RecordUse marks the coupon as used by the given user, preserving the
// usage invariants
func (c *Coupon) RecordUse(userID string) error {
	if err := c.CanBeUsedBy(userID); err != nil {
		return err
	}
	c.UsedCount++
	c.UsedBy = append(c.UsedBy, userID)
	return nil
}

// ChargeDiscount is the discount chosen for a billing charge, tagged with
// its origin so coupon usage can be recorded on success
type ChargeDiscount struct {
	Discount
	FromCoupon bool
	CouponCode string
}

// SelectChargeDiscount resolves which discount applies to a renewal charge.
//
// Candidates are the product's renewal discounts plus the computed
// renewal-loyalty discount. A campaign- or renewal-tier coupon always
// outranks the loyalty discount regardless of raw savings; a basic-tier
// coupon competes on savings like any other candidate.
func SelectChargeDiscount(price decimal.Decimal, renewalCount int, coupon *Coupon,
	productDiscounts []Discount, productID string, now time.Time) *ChargeDiscount {

	candidates := make([]Discount, 0, len(productDiscounts)+1)
	for _, d := range productDiscounts {
		if d.AppliesTo(productID) {
			candidates = append(candidates, d)
		}
	}
	if loyalty := RenewalLoyaltyDiscount(renewalCount); loyalty != nil {
		candidates = append(candidates, *loyalty)
	}

	best := SelectBest(candidates, price, now)

	if coupon != nil && !coupon.IsExhausted() {
		cd := coupon.Discount()
		if cd.AppliesTo(productID) && cd.IsActiveAt(now) && cd.Savings(price).IsPositive() {
			switch coupon.Tier {
			case CouponTierCampaign, CouponTierRenewal:
				return &ChargeDiscount{Discount: cd, FromCoupon: true, CouponCode: coupon.Code}
			default:
				if best == nil || cd.Savings(price).GreaterThan(best.Savings(price)) {
					return &ChargeDiscount{Discount: cd, FromCoupon: true, CouponCode: coupon.Code}
				}
			}
		}
	}

	if best == nil {
		return nil
	}
	return &ChargeDiscount{Discount: *best}
}
