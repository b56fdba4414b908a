package subscription

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

// Service manages the subscription lifecycle outside of billing passes:
// creation, activation, cancellation, plan conversions and refunds, plus
// publishing due-billing tasks for the scheduler.
type Service struct {
	db       ports.DBPort
	subRepo  ports.SubscriptionRepository
	products ports.ProductRepository
	attempts ports.PaymentAttemptRepository
	gateway  ports.PaymentGateway
	queue    ports.TaskQueue
	logger   ports.Logger
}

// NewService creates a new subscription service
func NewService(
	db ports.DBPort,
	subRepo ports.SubscriptionRepository,
	products ports.ProductRepository,
	attempts ports.PaymentAttemptRepository,
	gateway ports.PaymentGateway,
	queue ports.TaskQueue,
	logger ports.Logger,
) *Service {
	return &Service{
		db:       db,
		subRepo:  subRepo,
		products: products,
		attempts: attempts,
		gateway:  gateway,
		queue:    queue,
		logger:   logger,
	}
}

// CreateSubscriptionRequest carries the inputs for a new subscription
type CreateSubscriptionRequest struct {
	UserID      string
	ProductID   string
	CycleType   domain.BillingCycle // empty = product default
	StartDate   time.Time           // zero = now
	FreePeriods int
	CouponCode  string
}

// CreateSubscription creates a pending subscription with its first billing
// date one cycle after the start date. Activation is a separate step.
func (s *Service) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*domain.Subscription, error) {
	product, err := s.products.GetByID(ctx, s.db.GetDB(), req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}

	cycle := req.CycleType
	if cycle == "" {
		cycle = product.CycleType
	}
	if !cycle.IsValid() {
		return nil, domain.NewDomainError(domain.ErrorCodeUnsupportedCycleType,
			"unsupported billing cycle").WithDetail("cycle", string(cycle))
	}

	now := timeutil.Now()
	startDate := req.StartDate
	if startDate.IsZero() {
		startDate = now
	}
	startDate = timeutil.ToUTC(startDate)

	nextBilling, err := domain.NextBillingDate(startDate, cycle)
	if err != nil {
		return nil, err
	}

	sub := &domain.Subscription{
		ID:                       uuid.New().String(),
		UserID:                   req.UserID,
		ProductID:                req.ProductID,
		Status:                   domain.SubscriptionStatusPending,
		BillingCycle:             cycle,
		StartDate:                startDate,
		NextBillingDate:          nextBilling,
		RemainingDiscountPeriods: req.FreePeriods,
		AppliedCouponCode:        req.CouponCode,
		CreatedAt:                now,
		UpdatedAt:                now,
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.subRepo.Create(ctx, tx, sub)
	})
	if err != nil {
		s.logger.Error("create subscription failed",
			ports.String("user_id", req.UserID),
			ports.String("product_id", req.ProductID),
			ports.Err(err))
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	s.logger.Info("subscription created",
		ports.String("subscription_id", sub.ID),
		ports.String("user_id", sub.UserID),
		ports.String("billing_cycle", string(cycle)),
		ports.String("next_billing", nextBilling.Format(time.RFC3339)))

	return sub, nil
}

// GetSubscription retrieves a subscription by ID
func (s *Service) GetSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	return s.subRepo.GetByID(ctx, s.db.GetDB(), subscriptionID)
}

// ActivateSubscription transitions a pending subscription to active
func (s *Service) ActivateSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	return s.mutate(ctx, subscriptionID, "subscription activated", func(sub *domain.Subscription) error {
		return sub.Activate()
	})
}

// CancelSubscription cancels a subscription, recording the end date
func (s *Service) CancelSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	now := timeutil.Now()
	return s.mutate(ctx, subscriptionID, "subscription cancelled", func(sub *domain.Subscription) error {
		return sub.Cancel(now)
	})
}

// ChangeBillingCycle switches the cycle immediately. Only upgrades to a
// longer cycle are allowed; use RequestPlanConversion for the deferred path.
func (s *Service) ChangeBillingCycle(ctx context.Context, subscriptionID string, newCycle domain.BillingCycle) (*domain.Subscription, error) {
	return s.mutate(ctx, subscriptionID, "billing cycle changed", func(sub *domain.Subscription) error {
		return sub.ChangeBillingCycle(newCycle)
	})
}

// ConversionQuote describes a requested plan conversion: the fee adjustment
// is positive for an upgrade charge and negative for a deferred credit.
type ConversionQuote struct {
	Subscription  *domain.Subscription
	FeeAdjustment decimal.Decimal
}

// RequestPlanConversion records a pending conversion to a different billing
// cycle and quotes the prorated fee adjustment. The cycle switch itself is
// applied at the next billing pass.
func (s *Service) RequestPlanConversion(ctx context.Context, subscriptionID string, newCycle domain.BillingCycle) (*ConversionQuote, error) {
	sub, err := s.subRepo.GetByID(ctx, s.db.GetDB(), subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	product, err := s.products.GetByID(ctx, s.db.GetDB(), sub.ProductID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}

	// The fee is computed against the current cycle before the request
	// mutates anything
	monthlyPrice, err := s.monthlyPrice(product)
	if err != nil {
		return nil, err
	}
	fee, err := domain.ConversionFeeAdjustment(sub.BillingCycle, newCycle, monthlyPrice)
	if err != nil {
		return nil, err
	}

	now := timeutil.Now()
	if err := sub.RequestConversion(newCycle, now); err != nil {
		return nil, err
	}
	sub.UpdatedAt = now

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.subRepo.Update(ctx, tx, sub)
	})
	if err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	s.logger.Info("plan conversion requested",
		ports.String("subscription_id", sub.ID),
		ports.String("current_cycle", string(sub.BillingCycle)),
		ports.String("new_cycle", string(newCycle)),
		ports.String("fee_adjustment", fee.StringFixed(2)))

	return &ConversionQuote{Subscription: sub, FeeAdjustment: fee}, nil
}

// PublishDueBillingTasks publishes a billing task for every active
// subscription whose next billing date has been reached as of asOf.
// Returns the number of tasks published; per-task publish failures are
// logged and skipped so one poisoned publish cannot stall the batch.
func (s *Service) PublishDueBillingTasks(ctx context.Context, asOf time.Time, batchSize int32) (int, error) {
	due, err := s.subRepo.ListDueForBilling(ctx, s.db.GetDB(), timeutil.ToUTC(asOf), batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due subscriptions: %w", err)
	}

	published := 0
	for _, sub := range due {
		task := domain.NewBillingTask(sub.ID, timeutil.Now())
		if err := s.queue.PublishTask(ctx, task, 0); err != nil {
			s.logger.Error("publish billing task failed",
				ports.String("subscription_id", sub.ID),
				ports.Err(err))
			continue
		}
		observability.RecordTaskPublished(string(domain.TaskTypeBilling), false)
		published++
	}

	s.logger.Info("due billing tasks published",
		ports.Int("due", len(due)),
		ports.Int("published", published))

	return published, nil
}

// RefundLastPayment refunds the most recent settled charge of an active
// subscription and cancels it. The subscription moves through refunding
// before the gateway call so a crash mid-refund is visible.
func (s *Service) RefundLastPayment(ctx context.Context, subscriptionID, reason string) (*domain.Subscription, error) {
	sub, err := s.subRepo.GetByID(ctx, s.db.GetDB(), subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	lastCharge, err := s.lastSettledCharge(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	now := timeutil.Now()
	if err := sub.BeginRefund(); err != nil {
		return nil, err
	}
	sub.UpdatedAt = now
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.subRepo.Update(ctx, tx, sub)
	})
	if err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	refundRes, err := s.gateway.Refund(ctx, &ports.RefundRequest{
		TransactionID: lastCharge.TransactionID,
		Amount:        lastCharge.Amount,
		Reason:        reason,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway refund: %w", err)
	}
	if !refundRes.Success {
		return nil, domain.NewDomainError(domain.ErrorCodePaymentFailed,
			"gateway declined the refund").
			WithDetail("error_code", refundRes.ErrorCode).
			WithDetail("error_message", refundRes.ErrorMessage)
	}

	now = timeutil.Now()
	if err := sub.Cancel(now); err != nil {
		return nil, err
	}
	sub.UpdatedAt = now
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.subRepo.Update(ctx, tx, sub)
	})
	if err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	s.logger.Info("subscription refunded and cancelled",
		ports.String("subscription_id", sub.ID),
		ports.String("transaction_id", lastCharge.TransactionID),
		ports.String("amount", lastCharge.Amount.StringFixed(2)),
		ports.String("reason", reason))

	return sub, nil
}

// mutate loads a subscription, applies fn and persists the result
func (s *Service) mutate(ctx context.Context, subscriptionID, logMsg string, fn func(*domain.Subscription) error) (*domain.Subscription, error) {
	sub, err := s.subRepo.GetByID(ctx, s.db.GetDB(), subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	if err := fn(sub); err != nil {
		return nil, err
	}
	sub.UpdatedAt = timeutil.Now()

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.subRepo.Update(ctx, tx, sub)
	})
	if err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}

	s.logger.Info(logMsg,
		ports.String("subscription_id", sub.ID),
		ports.String("status", string(sub.Status)))
	return sub, nil
}

// lastSettledCharge finds the most recent successful non-zero charge
func (s *Service) lastSettledCharge(ctx context.Context, subscriptionID string) (*domain.PaymentAttempt, error) {
	history, err := s.attempts.ListBySubscription(ctx, s.db.GetDB(), subscriptionID, 20)
	if err != nil {
		return nil, fmt.Errorf("list payment attempts: %w", err)
	}
	for _, attempt := range history {
		if attempt.Status == domain.AttemptStatusSuccess && attempt.TransactionID != "" {
			return attempt, nil
		}
	}
	return nil, domain.WrapError(domain.ErrorCodeAttemptNotFound,
		"no settled charge to refund", domain.ErrAttemptNotFound)
}

// monthlyPrice normalizes a product's per-cycle price to a monthly price
// for conversion fee arithmetic
func (s *Service) monthlyPrice(product *domain.Product) (decimal.Decimal, error) {
	months, err := domain.CycleMonths(product.CycleType)
	if err != nil {
		return decimal.Zero, err
	}
	if months.IsZero() {
		return decimal.Zero, errors.New("product cycle has zero month equivalent")
	}
	return product.Price.Div(months), nil
}
