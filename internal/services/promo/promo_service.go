package promo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/subflow/billing-service/internal/domain"
	"github.com/subflow/billing-service/internal/domain/ports"
)

// Service validates and redeems promo codes and coupons. Redemption counts
// are updated atomically in the datastore so concurrent redemptions cannot
// exceed usage limits.
type Service struct {
	db         ports.DBPort
	promoCodes ports.PromoCodeRepository
	coupons    ports.CouponRepository
	discounts  ports.DiscountRepository
	logger     ports.Logger
}

// NewService creates a new promo service
func NewService(
	db ports.DBPort,
	promoCodes ports.PromoCodeRepository,
	coupons ports.CouponRepository,
	discounts ports.DiscountRepository,
	logger ports.Logger,
) *Service {
	return &Service{
		db:         db,
		promoCodes: promoCodes,
		coupons:    coupons,
		discounts:  discounts,
		logger:     logger,
	}
}

// PromoQuote is a validated promo code with its resolved price effect
type PromoQuote struct {
	Code            string
	DiscountedPrice decimal.Decimal
	Savings         decimal.Decimal
}

// ValidatePromoCode checks whether a user may redeem a promo code against an
// order. Ineligibility is reported in the validation result, not as an
// error; errors are reserved for lookup failures.
func (s *Service) ValidatePromoCode(ctx context.Context, code, userID string, orderAmount decimal.Decimal, productID string) (domain.PromoValidation, error) {
	promo, err := s.promoCodes.GetByCode(ctx, s.db.GetDB(), code)
	if err != nil {
		if errors.Is(err, domain.ErrPromoCodeNotFound) {
			return domain.PromoValidation{
				IsValid:      false,
				ErrorMessage: "This promo code is no longer available",
			}, nil
		}
		return domain.PromoValidation{}, fmt.Errorf("get promo code: %w", err)
	}

	history, err := s.promoCodes.ListUserUsage(ctx, s.db.GetDB(), userID)
	if err != nil {
		return domain.PromoValidation{}, fmt.Errorf("list promo usage: %w", err)
	}

	return promo.Validate(userID, orderAmount, productID, history), nil
}

// RedeemPromoCode validates a promo code and consumes one use, returning the
// quoted price effect. The usage increment is a conditional single-statement
// update, so two concurrent redemptions of a code's last use cannot both
// succeed.
func (s *Service) RedeemPromoCode(ctx context.Context, code, userID string, orderAmount decimal.Decimal, productID string) (*PromoQuote, error) {
	promo, err := s.promoCodes.GetByCode(ctx, s.db.GetDB(), code)
	if err != nil {
		return nil, fmt.Errorf("get promo code: %w", err)
	}

	history, err := s.promoCodes.ListUserUsage(ctx, s.db.GetDB(), userID)
	if err != nil {
		return nil, fmt.Errorf("list promo usage: %w", err)
	}

	if v := promo.Validate(userID, orderAmount, productID, history); !v.IsValid {
		return nil, domain.NewDomainError(domain.ErrorCodePromoIneligible, v.ErrorMessage).
			WithDetail("code", code)
	}

	discount, err := s.discounts.GetByID(ctx, s.db.GetDB(), promo.DiscountID)
	if err != nil {
		return nil, fmt.Errorf("get promo discount: %w", err)
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.promoCodes.Redeem(ctx, tx, code, userID)
	})
	if err != nil {
		// Losing the race for the last remaining use surfaces as an
		// ineligibility error from the conditional increment
		if domain.IsDomainError(err, domain.ErrorCodePromoIneligible) {
			return nil, err
		}
		return nil, fmt.Errorf("redeem promo code: %w", err)
	}

	discounted := discount.DiscountedPrice(orderAmount)

	s.logger.Info("promo code redeemed",
		ports.String("code", code),
		ports.String("user_id", userID),
		ports.String("savings", orderAmount.Sub(discounted).StringFixed(2)))

	return &PromoQuote{
		Code:            code,
		DiscountedPrice: discounted,
		Savings:         orderAmount.Sub(discounted),
	}, nil
}

// RedeemCoupon consumes one use of a coupon for a user. Like promo codes,
// the increment is atomic at the datastore.
func (s *Service) RedeemCoupon(ctx context.Context, code, userID string) (*domain.Coupon, error) {
	coupon, err := s.coupons.GetByCode(ctx, s.db.GetDB(), code)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	if err := coupon.CanBeUsedBy(userID); err != nil {
		if errors.Is(err, domain.ErrCouponExhausted) {
			return nil, domain.WrapError(domain.ErrorCodeCouponExhausted,
				"coupon usage limit reached", err).WithDetail("code", code)
		}
		return nil, domain.WrapError(domain.ErrorCodeCouponExhausted,
			"coupon already used by this user", err).WithDetail("code", code)
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.coupons.Redeem(ctx, tx, code, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("redeem coupon: %w", err)
	}

	coupon.UsedCount++
	coupon.UsedBy = append(coupon.UsedBy, userID)

	s.logger.Info("coupon redeemed",
		ports.String("code", code),
		ports.String("user_id", userID),
		ports.String("tier", string(coupon.Tier)))

	return coupon, nil
}
