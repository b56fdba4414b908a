package ports

import (
	"context"
	"time"

	"github.com/subflow/billing-service/internal/domain"
)

// SubscriptionRepository defines the interface for subscription persistence
type SubscriptionRepository interface {
	// Create creates a new subscription
	Create(ctx context.Context, tx DBTX, subscription *domain.Subscription) error

	// GetByID retrieves a subscription by its ID
	GetByID(ctx context.Context, db DBTX, id string) (*domain.Subscription, error)

	// Update updates subscription fields
	Update(ctx context.Context, tx DBTX, subscription *domain.Subscription) error

	// ListByUser lists subscriptions for a user
	ListByUser(ctx context.Context, db DBTX, userID string) ([]*domain.Subscription, error)

	// ListDueForBilling lists active subscriptions whose next billing date
	// has been reached as of dueDate
	ListDueForBilling(ctx context.Context, db DBTX, dueDate time.Time, limit int32) ([]*domain.Subscription, error)
}
