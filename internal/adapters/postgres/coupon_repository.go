package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/subflow/billing-service/internal/domain"
	"github.com/subflow/billing-service/internal/domain/ports"
)

// CouponRepository implements ports.CouponRepository on PostgreSQL.
// Redemptions use a conditional single-statement increment so concurrent
// redemptions of a coupon's last use cannot both succeed.
type CouponRepository struct{}

// NewCouponRepository creates a new coupon repository
func NewCouponRepository() *CouponRepository {
	return &CouponRepository{}
}

// GetByCode retrieves a coupon with its redemption history
func (r *CouponRepository) GetByCode(ctx context.Context, db ports.DBTX, code string) (*domain.Coupon, error) {
	var (
		coupon     domain.Coupon
		value      pgtype.Numeric
		endDate    pgtype.Timestamptz
		usageLimit pgtype.Int4
	)

	err := db.QueryRow(ctx, `
		SELECT c.id, c.code, c.type, c.value, c.priority, c.tier,
			c.start_date, c.end_date, c.applicable_products,
			c.usage_limit, c.used_count,
			ARRAY(SELECT user_id FROM coupon_redemptions WHERE coupon_code = c.code)
		FROM coupons c
		WHERE c.code = $1`, code).Scan(
		&coupon.ID,
		&coupon.Code,
		&coupon.Type,
		&value,
		&coupon.Priority,
		&coupon.Tier,
		&coupon.StartDate,
		&endDate,
		&coupon.ApplicableProducts,
		&usageLimit,
		&coupon.UsedCount,
		&coupon.UsedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrorCodeCouponNotFound,
				"coupon not found", domain.ErrCouponNotFound).
				WithDetail("code", code)
		}
		return nil, fmt.Errorf("get coupon by code: %w", err)
	}

	coupon.Value, err = pgNumericToDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("convert coupon value: %w", err)
	}
	if endDate.Valid {
		coupon.EndDate = endDate.Time
	}
	if usageLimit.Valid {
		limit := int(usageLimit.Int32)
		coupon.UsageLimit = &limit
	}

	return &coupon, nil
}

// Redeem atomically consumes one use of a coupon for a user.
//
// The redemption row insert enforces once-per-user, and the conditional
// usage increment enforces the global limit. Both run in the caller's
// transaction so losing either check rolls back the other.
func (r *CouponRepository) Redeem(ctx context.Context, tx ports.DBTX, code, userID string) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO coupon_redemptions (coupon_code, user_id, redeemed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (coupon_code, user_id) DO NOTHING`, code, userID)
	if err != nil {
		return fmt.Errorf("insert coupon redemption: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.WrapError(domain.ErrorCodeCouponExhausted,
			"coupon already used by this user", domain.ErrCouponAlreadyUsed).
			WithDetail("code", code)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1
		WHERE code = $1
		  AND (usage_limit IS NULL OR used_count < usage_limit)`, code)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM coupons WHERE code = $1)`, code).Scan(&exists); err != nil {
			return fmt.Errorf("check coupon existence: %w", err)
		}
		if !exists {
			return domain.WrapError(domain.ErrorCodeCouponNotFound,
				"coupon not found", domain.ErrCouponNotFound).WithDetail("code", code)
		}
		return domain.WrapError(domain.ErrorCodeCouponExhausted,
			"coupon usage limit reached", domain.ErrCouponExhausted).
			WithDetail("code", code)
	}

	return nil
}
