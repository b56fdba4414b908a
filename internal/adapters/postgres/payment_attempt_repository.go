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

// PaymentAttemptRepository implements ports.PaymentAttemptRepository on PostgreSQL
type PaymentAttemptRepository struct{}

// NewPaymentAttemptRepository creates a new payment attempt repository
func NewPaymentAttemptRepository() *PaymentAttemptRepository {
	return &PaymentAttemptRepository{}
}

const attemptColumns = `id, subscription_id, status, amount, currency,
	failure_reason, transaction_id, retry_count, created_at, updated_at`

// Create persists a new payment attempt
func (r *PaymentAttemptRepository) Create(ctx context.Context, tx ports.DBTX, attempt *domain.PaymentAttempt) error {
	amount, err := decimalToNumeric(attempt.Amount)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		attempt.ID,
		attempt.SubscriptionID,
		string(attempt.Status),
		amount,
		attempt.Currency,
		nullText(attempt.FailureReason),
		nullText(attempt.TransactionID),
		attempt.RetryCount,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create payment attempt: %w", err)
	}
	return nil
}

// Update finalizes an attempt after the gateway responds
func (r *PaymentAttemptRepository) Update(ctx context.Context, tx ports.DBTX, attempt *domain.PaymentAttempt) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payment_attempts
		SET status = $2,
			failure_reason = $3,
			transaction_id = $4,
			updated_at = $5
		WHERE id = $1`,
		attempt.ID,
		string(attempt.Status),
		nullText(attempt.FailureReason),
		nullText(attempt.TransactionID),
		attempt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.WrapError(domain.ErrorCodeAttemptNotFound,
			"payment attempt not found", domain.ErrAttemptNotFound).
			WithDetail("attempt_id", attempt.ID)
	}
	return nil
}

// GetByID retrieves an attempt by its ID
func (r *PaymentAttemptRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.PaymentAttempt, error) {
	row := db.QueryRow(ctx, `
		SELECT `+attemptColumns+`
		FROM payment_attempts
		WHERE id = $1`, id)

	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrorCodeAttemptNotFound,
				"payment attempt not found", domain.ErrAttemptNotFound).
				WithDetail("attempt_id", id)
		}
		return nil, fmt.Errorf("get payment attempt by id: %w", err)
	}
	return attempt, nil
}

// ListBySubscription lists attempts for a subscription, newest first
func (r *PaymentAttemptRepository) ListBySubscription(ctx context.Context, db ports.DBTX, subscriptionID string, limit int32) ([]*domain.PaymentAttempt, error) {
	rows, err := db.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM payment_attempts
		WHERE subscription_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payment attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.PaymentAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment attempts: %w", err)
	}
	return attempts, nil
}

func scanAttempt(row pgx.Row) (*domain.PaymentAttempt, error) {
	var (
		attempt       domain.PaymentAttempt
		amount        pgtype.Numeric
		failureReason pgtype.Text
		transactionID pgtype.Text
	)

	err := row.Scan(
		&attempt.ID,
		&attempt.SubscriptionID,
		&attempt.Status,
		&amount,
		&attempt.Currency,
		&failureReason,
		&transactionID,
		&attempt.RetryCount,
		&attempt.CreatedAt,
		&attempt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	attempt.Amount, err = pgNumericToDecimal(amount)
	if err != nil {
		return nil, fmt.Errorf("convert attempt amount: %w", err)
	}
	if failureReason.Valid {
		attempt.FailureReason = failureReason.String
	}
	if transactionID.Valid {
		attempt.TransactionID = transactionID.String
	}

	return &attempt, nil
}
