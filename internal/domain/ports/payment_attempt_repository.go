package ports

import (
	"context"

	"github.com/subflow/billing-service/internal/domain"
)

// PaymentAttemptRepository persists the audit trail of gateway calls
type PaymentAttemptRepository interface {
	// Create persists a new attempt. The pending record is written before
	// the gateway call so a crash mid-call leaves an auditable trace.
	Create(ctx context.Context, tx DBTX, attempt *domain.PaymentAttempt) error

	// Update finalizes an attempt after the gateway responds
	Update(ctx context.Context, tx DBTX, attempt *domain.PaymentAttempt) error

	// GetByID retrieves an attempt by its ID
	GetByID(ctx context.Context, db DBTX, id string) (*domain.PaymentAttempt, error)

	// ListBySubscription lists attempts for a subscription, newest first
	ListBySubscription(ctx context.Context, db DBTX, subscriptionID string, limit int32) ([]*domain.PaymentAttempt, error)
}
