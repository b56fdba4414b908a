package domain

import (
	"github.com/shopspring/decimal"
)

// PromoCode is an immutable value object: usage increments return a new
// instance rather than mutating the receiver.
type PromoCode struct {
	Code               string
	DiscountID         string
	UsageLimit         *int // nil = unlimited
	IsSingleUse        bool
	UsedCount          int
	MinimumAmount      decimal.Decimal
	AssignedUserID     string // empty = any user
	ApplicableProducts []string
}

// PromoValidation is the outcome of a promo-code eligibility check
type PromoValidation struct {
	IsValid      bool
	ErrorMessage string
}

func invalidPromo(msg string) PromoValidation {
	return PromoValidation{IsValid: false, ErrorMessage: msg}
}

// IsExhausted returns true if the code has no redemptions left
func (p PromoCode) IsExhausted() bool {
	if p.IsSingleUse && p.UsedCount >= 1 {
		return true
	}
	return p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit
}

// CanBeUsed returns true if the code still has redemptions left
func (p PromoCode) CanBeUsed() bool {
	return !p.IsExhausted()
}

// IncrementUsage returns a copy of the promo code with the usage count
// advanced by one. The receiver is never mutated.
func (p PromoCode) IncrementUsage() PromoCode {
	p.UsedCount++
	return p
}

// AppliesTo returns true if the code covers the given product. An empty
// product list means the code is global.
func (p PromoCode) AppliesTo(productID string) bool {
	if len(p.ApplicableProducts) == 0 {
		return true
	}
	for _, id := range p.ApplicableProducts {
		if id == productID {
			return true
		}
	}
	return false
}

// Validate checks usage eligibility for a user and order. Checks run in a
// fixed order and short-circuit on the first failure, each yielding a
// distinct user-facing message:
//
//  1. code not exhausted
//  2. assigned-user restriction
//  3. minimum order amount
//  4. no prior use of this code by the user
//  5. product applicability
//
// productID may be empty when the order is not product-scoped.
func (p PromoCode) Validate(userID string, orderAmount decimal.Decimal, productID string, userUsageHistory []string) PromoValidation {
	if p.IsExhausted() {
		return invalidPromo("This promo code is no longer available")
	}

	if p.AssignedUserID != "" && p.AssignedUserID != userID {
		return invalidPromo("This promo code is reserved for another account")
	}

	if p.MinimumAmount.IsPositive() && orderAmount.LessThan(p.MinimumAmount) {
		return invalidPromo("Order amount does not meet the promo code minimum of " + p.MinimumAmount.String())
	}

	for _, used := range userUsageHistory {
		if used == p.Code {
			return invalidPromo("You have already used this promo code")
		}
	}

	if productID != "" && !p.AppliesTo(productID) {
		return invalidPromo("This promo code does not apply to the selected product")
	}

	return PromoValidation{IsValid: true}
}
