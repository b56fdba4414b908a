package ports

import (
	"context"
	"time"

	"github.com/subflow/billing-service/internal/domain"
)

// DiscountRepository reads curated discount reference data
type DiscountRepository interface {
	// GetByID retrieves a discount by its ID
	GetByID(ctx context.Context, db DBTX, id string) (*domain.Discount, error)

	// ListActiveForProduct lists discounts applicable to a product whose
	// validity window includes asOf
	ListActiveForProduct(ctx context.Context, db DBTX, productID string, asOf time.Time) ([]domain.Discount, error)
}

// CouponRepository reads and redeems coupons. Usage updates must be atomic
// at the datastore (conditional single-statement increment), never a
// read-modify-write, to prevent over-redemption under concurrency.
type CouponRepository interface {
	// GetByCode retrieves a coupon by its code
	GetByCode(ctx context.Context, db DBTX, code string) (*domain.Coupon, error)

	// Redeem atomically increments the coupon's usage and records the user,
	// failing with domain.ErrCouponExhausted or domain.ErrCouponAlreadyUsed
	// when the invariants would be violated
	Redeem(ctx context.Context, tx DBTX, code, userID string) error
}

// PromoCodeRepository reads and redeems promo codes with the same atomic
// increment requirements as CouponRepository
type PromoCodeRepository interface {
	// GetByCode retrieves a promo code
	GetByCode(ctx context.Context, db DBTX, code string) (*domain.PromoCode, error)

	// Redeem atomically consumes one use of the code and records the user's
	// redemption
	Redeem(ctx context.Context, tx DBTX, code, userID string) error

	// ListUserUsage returns the promo codes a user has already redeemed
	ListUserUsage(ctx context.Context, db DBTX, userID string) ([]string, error)
}
