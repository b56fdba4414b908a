package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/subflow/billing-service/internal/domain"
	"github.com/subflow/billing-service/internal/domain/ports"
	"github.com/subflow/billing-service/pkg/observability"
	"github.com/subflow/billing-service/pkg/timeutil"
)

// Service orchestrates billing passes: it resolves the charge amount,
// executes the gateway call and routes failures into retries or grace
// period. It implements ports.BillingProcessor.
type Service struct {
	db        ports.DBPort
	subRepo   ports.SubscriptionRepository
	products  ports.ProductRepository
	attempts  ports.PaymentAttemptRepository
	discounts ports.DiscountRepository
	coupons   ports.CouponRepository
	gateway   ports.PaymentGateway
	queue     ports.TaskQueue
	logger    ports.Logger
	retry     domain.RetryStrategy
	currency  string
}

// NewService creates a new billing service
func NewService(
	db ports.DBPort,
	subRepo ports.SubscriptionRepository,
	products ports.ProductRepository,
	attempts ports.PaymentAttemptRepository,
	discounts ports.DiscountRepository,
	coupons ports.CouponRepository,
	gateway ports.PaymentGateway,
	queue ports.TaskQueue,
	logger ports.Logger,
	retry domain.RetryStrategy,
	currency string,
) *Service {
	return &Service{
		db:        db,
		subRepo:   subRepo,
		products:  products,
		attempts:  attempts,
		discounts: discounts,
		coupons:   coupons,
		gateway:   gateway,
		queue:     queue,
		logger:    logger,
		retry:     retry,
		currency:  currency,
	}
}

// ProcessBilling executes one billing pass for a subscription.
//
// Expected business outcomes (missing subscription, inactive state, declined
// charge) are reported in the result with a nil error so the task consumer
// can acknowledge the task. A non-nil error means the pass failed for an
// unexpected reason and the task should be redelivered.
func (s *Service) ProcessBilling(ctx context.Context, subscriptionID string, isRetry bool, retryCount int) (*ports.BillingResult, error) {
	now := timeutil.Now()

	sub, err := s.subRepo.GetByID(ctx, s.db.GetDB(), subscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			s.logger.Warn("billing task for unknown subscription",
				ports.String("subscription_id", subscriptionID))
			observability.RecordBillingAttempt("skipped", "", isRetry)
			return &ports.BillingResult{
				SubscriptionID: subscriptionID,
				ErrorCode:      string(domain.ErrorCodeSubscriptionNotFound),
				ErrorMessage:   "subscription not found",
			}, nil
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	if sub.Status != domain.SubscriptionStatusActive && sub.Status != domain.SubscriptionStatusGracePeriod {
		s.logger.Info("skipping billing for inactive subscription",
			ports.String("subscription_id", sub.ID),
			ports.String("status", string(sub.Status)))
		observability.RecordBillingAttempt("skipped", "", isRetry)
		return &ports.BillingResult{
			SubscriptionID: sub.ID,
			ErrorCode:      string(domain.ErrorCodeSubscriptionNotActive),
			ErrorMessage:   "subscription is not active",
		}, nil
	}

	// A requested plan conversion takes effect at the billing boundary,
	// before the charge amount is resolved
	if sub.ApplyPendingConversion() {
		s.logger.Info("applied pending plan conversion",
			ports.String("subscription_id", sub.ID),
			ports.String("billing_cycle", string(sub.BillingCycle)))
	}

	product, err := s.products.GetByID(ctx, s.db.GetDB(), sub.ProductID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return s.abortBrokenSubscription(ctx, sub, now, isRetry)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	if sub.ConsumeFreePeriod() {
		return s.recordFreePeriod(ctx, sub, now, retryCount, isRetry)
	}

	chargeAmount := product.Price
	var chosen *domain.ChargeDiscount
	if sub.RenewalCount >= 1 {
		chosen, err = s.resolveRenewalDiscount(ctx, sub, product.Price, now)
		if err != nil {
			return nil, err
		}
		if chosen != nil {
			chargeAmount = chosen.DiscountedPrice(product.Price)
		}
	}

	attempt := &domain.PaymentAttempt{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		Status:         domain.AttemptStatusPending,
		Amount:         chargeAmount,
		Currency:       s.currency,
		RetryCount:     retryCount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// The pending attempt is persisted before the gateway call so a crash
	// mid-charge leaves an auditable record keyed by the idempotency key
	if err := s.attempts.Create(ctx, s.db.GetDB(), attempt); err != nil {
		return nil, fmt.Errorf("create payment attempt: %w", err)
	}

	start := time.Now()
	chargeRes, chargeErr := s.gateway.Charge(ctx, &ports.ChargeRequest{
		AttemptID:   attempt.ID,
		UserID:      sub.UserID,
		Amount:      chargeAmount,
		Currency:    s.currency,
		Description: fmt.Sprintf("%s subscription renewal", product.Name),
		Metadata:    map[string]string{"subscription_id": sub.ID},
	})
	elapsed := time.Since(start).Seconds()

	if chargeErr != nil {
		// Transport-level gateway failures are normalized to system errors
		// so they flow through the same classification path as declines
		observability.RecordGatewayCharge(s.gateway.GatewayName(), "error", elapsed)
		s.logger.Error("payment gateway call failed",
			ports.String("subscription_id", sub.ID),
			ports.String("attempt_id", attempt.ID),
			ports.Err(chargeErr))
		return s.finalizeFailedCharge(ctx, sub, attempt, "system_error", chargeErr.Error(), retryCount, isRetry, now)
	}

	if !chargeRes.Success {
		observability.RecordGatewayCharge(s.gateway.GatewayName(), "declined", elapsed)
		s.logger.Warn("payment declined",
			ports.String("subscription_id", sub.ID),
			ports.String("attempt_id", attempt.ID),
			ports.String("error_code", chargeRes.ErrorCode),
			ports.String("error_message", chargeRes.ErrorMessage))
		return s.finalizeFailedCharge(ctx, sub, attempt, chargeRes.ErrorCode, chargeRes.ErrorMessage, retryCount, isRetry, now)
	}

	observability.RecordGatewayCharge(s.gateway.GatewayName(), "approved", elapsed)

	if err := attempt.MarkSucceeded(chargeRes.TransactionID, now); err != nil {
		return nil, err
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.attempts.Update(ctx, tx, attempt); err != nil {
			return fmt.Errorf("update payment attempt: %w", err)
		}
		if sub.Status == domain.SubscriptionStatusGracePeriod {
			if err := sub.RecoverFromGracePeriod(); err != nil {
				return err
			}
		}
		if err := sub.RecordBilling(now); err != nil {
			return err
		}
		sub.UpdatedAt = now
		if err := s.subRepo.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if chosen != nil && chosen.FromCoupon {
			// Redemption races with other renewals; losing the race means
			// the coupon was exhausted after selection. The charge already
			// settled, so record the miss instead of failing the pass.
			if err := s.coupons.Redeem(ctx, tx, chosen.CouponCode, sub.UserID); err != nil {
				if !errors.Is(err, domain.ErrCouponExhausted) && !errors.Is(err, domain.ErrCouponAlreadyUsed) {
					return fmt.Errorf("redeem coupon: %w", err)
				}
				s.logger.Warn("coupon redemption lost after discounted charge",
					ports.String("subscription_id", sub.ID),
					ports.String("coupon_code", chosen.CouponCode),
					ports.Err(err))
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("persisting billing success failed",
			ports.String("subscription_id", sub.ID),
			ports.String("attempt_id", attempt.ID),
			ports.Err(err))
		return nil, err
	}

	observability.RecordBillingAttempt("success", "", isRetry)
	observability.RecordBillingRevenue(s.currency, string(sub.BillingCycle),
		chargeAmount.Mul(decimal.NewFromInt(100)).IntPart())

	s.logger.Info("billing succeeded",
		ports.String("subscription_id", sub.ID),
		ports.String("attempt_id", attempt.ID),
		ports.String("transaction_id", chargeRes.TransactionID),
		ports.String("amount", chargeAmount.StringFixed(2)),
		ports.Int("renewal_count", sub.RenewalCount))

	return &ports.BillingResult{
		Success:        true,
		SubscriptionID: sub.ID,
		TransactionID:  chargeRes.TransactionID,
		AmountCharged:  chargeAmount,
	}, nil
}

// HandlePaymentFailure classifies a payment failure for a subscription and
// applies the retry/grace policy. Exposed for operator-driven failure
// handling; ProcessBilling routes its own failures through the same path.
func (s *Service) HandlePaymentFailure(ctx context.Context, subscriptionID, failureReason string, retryCount int) (*ports.BillingResult, error) {
	sub, err := s.subRepo.GetByID(ctx, s.db.GetDB(), subscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return &ports.BillingResult{
				SubscriptionID: subscriptionID,
				ErrorCode:      string(domain.ErrorCodeSubscriptionNotFound),
				ErrorMessage:   "subscription not found",
			}, nil
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return s.routeFailure(ctx, sub, failureReason, "", retryCount, false)
}

// resolveRenewalDiscount picks the discount for a renewal charge: the
// product's active discounts and the renewal-loyalty discount compete on
// savings, with the subscription's applied coupon arbitrated by its tier.
func (s *Service) resolveRenewalDiscount(ctx context.Context, sub *domain.Subscription, price decimal.Decimal, now time.Time) (*domain.ChargeDiscount, error) {
	productDiscounts, err := s.discounts.ListActiveForProduct(ctx, s.db.GetDB(), sub.ProductID, now)
	if err != nil {
		return nil, fmt.Errorf("list product discounts: %w", err)
	}

	var coupon *domain.Coupon
	if sub.AppliedCouponCode != "" {
		coupon, err = s.coupons.GetByCode(ctx, s.db.GetDB(), sub.AppliedCouponCode)
		if err != nil {
			if !errors.Is(err, domain.ErrCouponNotFound) {
				return nil, fmt.Errorf("get coupon: %w", err)
			}
			s.logger.Warn("applied coupon no longer exists",
				ports.String("subscription_id", sub.ID),
				ports.String("coupon_code", sub.AppliedCouponCode))
			coupon = nil
		}
	}

	return domain.SelectChargeDiscount(price, sub.RenewalCount, coupon, productDiscounts, sub.ProductID, now), nil
}

// abortBrokenSubscription terminates a subscription whose product reference
// is broken. Retrying cannot fix a dangling reference.
func (s *Service) abortBrokenSubscription(ctx context.Context, sub *domain.Subscription, now time.Time, isRetry bool) (*ports.BillingResult, error) {
	sub.Abort()
	sub.UpdatedAt = now

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.subRepo.Update(ctx, tx, sub)
	})
	if err != nil {
		return nil, fmt.Errorf("abort subscription: %w", err)
	}

	s.logger.Error("subscription aborted, product no longer exists",
		ports.String("subscription_id", sub.ID),
		ports.String("product_id", sub.ProductID))
	observability.RecordBillingAttempt("skipped", "", isRetry)

	return &ports.BillingResult{
		SubscriptionID: sub.ID,
		ErrorCode:      string(domain.ErrorCodeProductNotFoundAborted),
		ErrorMessage:   "product no longer exists, subscription aborted",
	}, nil
}

// recordFreePeriod completes a billing pass covered by a remaining free
// period: no gateway call, a zero-amount attempt for the audit trail, and
// the cycle advances as usual.
func (s *Service) recordFreePeriod(ctx context.Context, sub *domain.Subscription, now time.Time, retryCount int, isRetry bool) (*ports.BillingResult, error) {
	attempt := &domain.PaymentAttempt{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		Status:         domain.AttemptStatusPending,
		Amount:         decimal.Zero,
		Currency:       s.currency,
		RetryCount:     retryCount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := attempt.MarkSucceeded("", now); err != nil {
		return nil, err
	}

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.attempts.Create(ctx, tx, attempt); err != nil {
			return fmt.Errorf("create payment attempt: %w", err)
		}
		if sub.Status == domain.SubscriptionStatusGracePeriod {
			if err := sub.RecoverFromGracePeriod(); err != nil {
				return err
			}
		}
		if err := sub.RecordBilling(now); err != nil {
			return err
		}
		sub.UpdatedAt = now
		return s.subRepo.Update(ctx, tx, sub)
	})
	if err != nil {
		return nil, fmt.Errorf("record free period: %w", err)
	}

	observability.RecordBillingAttempt("success", "", isRetry)

	s.logger.Info("billing covered by free period",
		ports.String("subscription_id", sub.ID),
		ports.Int("remaining_free_periods", sub.RemainingDiscountPeriods),
		ports.Int("renewal_count", sub.RenewalCount))

	return &ports.BillingResult{
		Success:        true,
		SubscriptionID: sub.ID,
		AmountCharged:  decimal.Zero,
	}, nil
}

// finalizeFailedCharge persists the failed attempt and routes the failure
// into the retry/grace policy
func (s *Service) finalizeFailedCharge(ctx context.Context, sub *domain.Subscription, attempt *domain.PaymentAttempt,
	errorCode, errorMessage string, retryCount int, isRetry bool, now time.Time) (*ports.BillingResult, error) {

	reason := errorCode
	if reason == "" {
		reason = errorMessage
	}
	if err := attempt.MarkFailed(reason, now); err != nil {
		return nil, err
	}
	if err := s.attempts.Update(ctx, s.db.GetDB(), attempt); err != nil {
		return nil, fmt.Errorf("update payment attempt: %w", err)
	}

	return s.routeFailure(ctx, sub, errorCode, errorMessage, retryCount, isRetry)
}

// routeFailure classifies a failure and applies its policy: transient
// failures are republished as delayed retry tasks while attempts remain,
// everything else moves the subscription into grace period when the
// classification calls for it.
func (s *Service) routeFailure(ctx context.Context, sub *domain.Subscription,
	errorCode, errorMessage string, retryCount int, isRetry bool) (*ports.BillingResult, error) {

	cls := domain.ClassifyPaymentFailure(errorCode, errorMessage)
	observability.RecordBillingAttempt("failed", string(cls.Type), isRetry)

	result := &ports.BillingResult{
		SubscriptionID: sub.ID,
		ErrorCode:      string(cls.Type),
		ErrorMessage:   cls.Description,
	}

	if cls.IsRetryable {
		if delay, ok := s.retry.NextDelay(retryCount); ok {
			task := domain.NewRetryTask(sub.ID, retryCount+1, timeutil.Now())
			if err := s.queue.PublishTask(ctx, task, delay); err != nil {
				return nil, fmt.Errorf("publish retry task: %w", err)
			}
			observability.RecordRetryQueued()
			observability.RecordTaskPublished(string(domain.TaskTypeRetry), true)

			s.logger.Info("payment retry scheduled",
				ports.String("subscription_id", sub.ID),
				ports.String("failure_type", string(cls.Type)),
				ports.Int("retry_count", retryCount+1),
				ports.String("delay", delay.String()))

			result.QueuedForRetry = true
			return result, nil
		}
	}

	if cls.EntersGracePeriod && sub.Status == domain.SubscriptionStatusActive {
		if err := sub.EnterGracePeriod(); err != nil {
			return nil, err
		}
		sub.UpdatedAt = timeutil.Now()
		err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			return s.subRepo.Update(ctx, tx, sub)
		})
		if err != nil {
			return nil, fmt.Errorf("enter grace period: %w", err)
		}
		observability.RecordGracePeriodEntry(string(cls.Type))
		result.EnteredGracePeriod = true

		s.logger.Warn("subscription entered grace period",
			ports.String("subscription_id", sub.ID),
			ports.String("failure_type", string(cls.Type)),
			ports.String("user_action", cls.UserAction))
		return result, nil
	}

	s.logger.Warn("payment failed without retry or grace period",
		ports.String("subscription_id", sub.ID),
		ports.String("failure_type", string(cls.Type)))
	return result, nil
}
