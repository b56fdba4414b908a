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

// PromoCodeRepository implements ports.PromoCodeRepository on PostgreSQL
type PromoCodeRepository struct{}

// NewPromoCodeRepository creates a new promo code repository
func NewPromoCodeRepository() *PromoCodeRepository {
	return &PromoCodeRepository{}
}

// GetByCode retrieves a promo code
func (r *PromoCodeRepository) GetByCode(ctx context.Context, db ports.DBTX, code string) (*domain.PromoCode, error) {
	var (
		promo          domain.PromoCode
		usageLimit     pgtype.Int4
		minimumAmount  pgtype.Numeric
		assignedUserID pgtype.Text
	)

	err := db.QueryRow(ctx, `
		SELECT code, discount_id, usage_limit, is_single_use, used_count,
			minimum_amount, assigned_user_id, applicable_products
		FROM promo_codes
		WHERE code = $1`, code).Scan(
		&promo.Code,
		&promo.DiscountID,
		&usageLimit,
		&promo.IsSingleUse,
		&promo.UsedCount,
		&minimumAmount,
		&assignedUserID,
		&promo.ApplicableProducts,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrorCodePromoNotFound,
				"promo code not found", domain.ErrPromoCodeNotFound).
				WithDetail("code", code)
		}
		return nil, fmt.Errorf("get promo code: %w", err)
	}

	if usageLimit.Valid {
		limit := int(usageLimit.Int32)
		promo.UsageLimit = &limit
	}
	promo.MinimumAmount, err = pgNumericToDecimal(minimumAmount)
	if err != nil {
		return nil, fmt.Errorf("convert minimum amount: %w", err)
	}
	if assignedUserID.Valid {
		promo.AssignedUserID = assignedUserID.String
	}

	return &promo, nil
}

// Redeem atomically consumes one use of a promo code and records the user's
// redemption. The conditional increment makes the last-use race safe:
// exactly one of two concurrent redemptions wins.
func (r *PromoCodeRepository) Redeem(ctx context.Context, tx ports.DBTX, code, userID string) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO promo_redemptions (promo_code, user_id, redeemed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (promo_code, user_id) DO NOTHING`, code, userID)
	if err != nil {
		return fmt.Errorf("insert promo redemption: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrorCodePromoIneligible,
			"You have already used this promo code").WithDetail("code", code)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE promo_codes
		SET used_count = used_count + 1
		WHERE code = $1
		  AND (usage_limit IS NULL OR used_count < usage_limit)
		  AND (NOT is_single_use OR used_count < 1)`, code)
	if err != nil {
		return fmt.Errorf("increment promo usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM promo_codes WHERE code = $1)`, code).Scan(&exists); err != nil {
			return fmt.Errorf("check promo existence: %w", err)
		}
		if !exists {
			return domain.WrapError(domain.ErrorCodePromoNotFound,
				"promo code not found", domain.ErrPromoCodeNotFound).
				WithDetail("code", code)
		}
		return domain.NewDomainError(domain.ErrorCodePromoIneligible,
			"This promo code is no longer available").WithDetail("code", code)
	}

	return nil
}

// ListUserUsage returns the promo codes a user has already redeemed
func (r *PromoCodeRepository) ListUserUsage(ctx context.Context, db ports.DBTX, userID string) ([]string, error) {
	rows, err := db.Query(ctx, `
		SELECT promo_code
		FROM promo_redemptions
		WHERE user_id = $1
		ORDER BY redeemed_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list promo usage: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan promo usage: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate promo usage: %w", err)
	}
	return codes, nil
}
