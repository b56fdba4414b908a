package ports

import (
	"context"
	"time"
)

// SubscriptionLocker serializes billing work per subscription. The consumer
// acquires a lease before orchestration so concurrent deliveries of tasks
// for the same subscription cannot race on persisted state.
type SubscriptionLocker interface {
	// Acquire attempts to take the lease for a subscription. Returns false
	// when another holder owns it.
	Acquire(ctx context.Context, subscriptionID string, ttl time.Duration) (bool, error)

	// Release frees the lease if still held by this locker
	Release(ctx context.Context, subscriptionID string) error
}
