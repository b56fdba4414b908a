package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// BillingResult summarizes one billing pass over a subscription. Expected
// business failures (declines, inactive subscriptions) are reported here
// with Success=false rather than as errors, so the consumer can acknowledge
// the task instead of requeueing it.
type BillingResult struct {
	Success            bool
	SubscriptionID     string
	TransactionID      string
	AmountCharged      decimal.Decimal
	ErrorCode          string
	ErrorMessage       string
	QueuedForRetry     bool
	EnteredGracePeriod bool
}

// BillingProcessor executes billing passes. The queue consumer depends on
// this interface so processing can be doubled out in tests.
type BillingProcessor interface {
	ProcessBilling(ctx context.Context, subscriptionID string, isRetry bool, retryCount int) (*BillingResult, error)
}
