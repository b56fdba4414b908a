package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromoCodeValidate(t *testing.T) {
	base := PromoCode{
		Code:          "SPRING20",
		DiscountID:    "disc-1",
		MinimumAmount: decimal.NewFromInt(50),
	}
	amount := decimal.NewFromInt(100)

	t.Run("valid", func(t *testing.T) {
		v := base.Validate("user-1", amount, "prod-1", nil)
		assert.True(t, v.IsValid)
		assert.Empty(t, v.ErrorMessage)
	})

	t.Run("exhausted", func(t *testing.T) {
		p := base
		p.UsageLimit = intPtr(5)
		p.UsedCount = 5
		v := p.Validate("user-1", amount, "prod-1", nil)
		assert.False(t, v.IsValid)
		assert.Equal(t, "This promo code is no longer available", v.ErrorMessage)
	})

	t.Run("reserved for another user", func(t *testing.T) {
		p := base
		p.AssignedUserID = "user-9"
		v := p.Validate("user-1", amount, "prod-1", nil)
		assert.False(t, v.IsValid)
		assert.Equal(t, "This promo code is reserved for another account", v.ErrorMessage)
	})

	t.Run("below minimum amount", func(t *testing.T) {
		v := base.Validate("user-1", decimal.NewFromInt(40), "prod-1", nil)
		assert.False(t, v.IsValid)
		assert.Contains(t, v.ErrorMessage, "minimum of 50")
	})

	t.Run("already used by this user", func(t *testing.T) {
		v := base.Validate("user-1", amount, "prod-1", []string{"OTHER", "SPRING20"})
		assert.False(t, v.IsValid)
		assert.Equal(t, "You have already used this promo code", v.ErrorMessage)
	})

	t.Run("product not covered", func(t *testing.T) {
		p := base
		p.ApplicableProducts = []string{"prod-9"}
		v := p.Validate("user-1", amount, "prod-1", nil)
		assert.False(t, v.IsValid)
		assert.Equal(t, "This promo code does not apply to the selected product", v.ErrorMessage)
	})

	t.Run("empty product skips applicability check", func(t *testing.T) {
		p := base
		p.ApplicableProducts = []string{"prod-9"}
		v := p.Validate("user-1", amount, "", nil)
		assert.True(t, v.IsValid)
	})

	t.Run("exhaustion is checked before user restriction", func(t *testing.T) {
		p := base
		p.AssignedUserID = "user-9"
		p.IsSingleUse = true
		p.UsedCount = 1
		v := p.Validate("user-1", amount, "prod-1", nil)
		assert.Equal(t, "This promo code is no longer available", v.ErrorMessage)
	})
}

func TestPromoCodeIsExhausted(t *testing.T) {
	assert.False(t, PromoCode{}.IsExhausted())

	single := PromoCode{IsSingleUse: true, UsedCount: 1}
	assert.True(t, single.IsExhausted())

	limited := PromoCode{UsageLimit: intPtr(2), UsedCount: 1}
	assert.False(t, limited.IsExhausted())
	limited.UsedCount = 2
	assert.True(t, limited.IsExhausted())
}

func TestPromoCodeIncrementUsageDoesNotMutate(t *testing.T) {
	p := PromoCode{Code: "SPRING20", UsedCount: 1}

	next := p.IncrementUsage()

	require.Equal(t, 2, next.UsedCount)
	assert.Equal(t, 1, p.UsedCount)
}
