package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/subflow/billing-service/internal/domain"
	"github.com/subflow/billing-service/internal/domain/ports"
)

// SubscriptionRepository implements ports.SubscriptionRepository on PostgreSQL
type SubscriptionRepository struct{}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{}
}

const subscriptionColumns = `id, user_id, product_id, status, billing_cycle, start_date,
	end_date, next_billing_date, last_billing_date, renewal_count,
	remaining_discount_periods, pending_conversion, applied_coupon_code,
	created_at, updated_at`

// Create creates a new subscription
func (r *SubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, subscription *domain.Subscription) error {
	pendingJSON, err := marshalPendingConversion(subscription.PendingConversion)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		subscription.ID,
		subscription.UserID,
		subscription.ProductID,
		string(subscription.Status),
		string(subscription.BillingCycle),
		subscription.StartDate,
		nullTimestamptz(subscription.EndDate),
		subscription.NextBillingDate,
		nullTimestamptz(subscription.LastBillingDate),
		subscription.RenewalCount,
		subscription.RemainingDiscountPeriods,
		pendingJSON,
		nullText(subscription.AppliedCouponCode),
		subscription.CreatedAt,
		subscription.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription by its ID
func (r *SubscriptionRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Subscription, error) {
	row := db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrorCodeSubscriptionNotFound,
				"subscription not found", domain.ErrSubscriptionNotFound).
				WithDetail("subscription_id", id)
		}
		return nil, fmt.Errorf("get subscription by id: %w", err)
	}
	return sub, nil
}

// Update updates subscription fields
func (r *SubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, subscription *domain.Subscription) error {
	pendingJSON, err := marshalPendingConversion(subscription.PendingConversion)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE subscriptions
		SET status = $2,
			billing_cycle = $3,
			end_date = $4,
			next_billing_date = $5,
			last_billing_date = $6,
			renewal_count = $7,
			remaining_discount_periods = $8,
			pending_conversion = $9,
			applied_coupon_code = $10,
			updated_at = $11
		WHERE id = $1`,
		subscription.ID,
		string(subscription.Status),
		string(subscription.BillingCycle),
		nullTimestamptz(subscription.EndDate),
		subscription.NextBillingDate,
		nullTimestamptz(subscription.LastBillingDate),
		subscription.RenewalCount,
		subscription.RemainingDiscountPeriods,
		pendingJSON,
		nullText(subscription.AppliedCouponCode),
		subscription.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.WrapError(domain.ErrorCodeSubscriptionNotFound,
			"subscription not found", domain.ErrSubscriptionNotFound).
			WithDetail("subscription_id", subscription.ID)
	}
	return nil
}

// ListByUser lists subscriptions for a user
func (r *SubscriptionRepository) ListByUser(ctx context.Context, db ports.DBTX, userID string) ([]*domain.Subscription, error) {
	rows, err := db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by user: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// ListDueForBilling lists active subscriptions whose next billing date has
// been reached as of dueDate
func (r *SubscriptionRepository) ListDueForBilling(ctx context.Context, db ports.DBTX, dueDate time.Time, limit int32) ([]*domain.Subscription, error) {
	rows, err := db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = $1 AND next_billing_date <= $2
		ORDER BY next_billing_date
		LIMIT $3`,
		string(domain.SubscriptionStatusActive), dueDate, limit)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions due for billing: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

func collectSubscriptions(rows pgx.Rows) ([]*domain.Subscription, error) {
	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub         domain.Subscription
		endDate     pgtype.Timestamptz
		lastBilling pgtype.Timestamptz
		pendingJSON []byte
		couponCode  pgtype.Text
	)

	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.ProductID,
		&sub.Status,
		&sub.BillingCycle,
		&sub.StartDate,
		&endDate,
		&sub.NextBillingDate,
		&lastBilling,
		&sub.RenewalCount,
		&sub.RemainingDiscountPeriods,
		&pendingJSON,
		&couponCode,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if endDate.Valid {
		sub.EndDate = &endDate.Time
	}
	if lastBilling.Valid {
		sub.LastBillingDate = &lastBilling.Time
	}
	if couponCode.Valid {
		sub.AppliedCouponCode = couponCode.String
	}
	if len(pendingJSON) > 0 {
		var pc domain.PendingConversion
		if err := json.Unmarshal(pendingJSON, &pc); err != nil {
			return nil, fmt.Errorf("unmarshal pending conversion: %w", err)
		}
		sub.PendingConversion = &pc
	}

	return &sub, nil
}

func marshalPendingConversion(pc *domain.PendingConversion) ([]byte, error) {
	if pc == nil {
		return nil, nil
	}
	data, err := json.Marshal(pc)
	if err != nil {
		return nil, fmt.Errorf("marshal pending conversion: %w", err)
	}
	return data, nil
}
