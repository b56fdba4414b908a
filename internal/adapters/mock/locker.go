package mock

import (
	"context"
	"sync"
	"time"
)

// SubscriptionLocker is an in-memory locker for tests and local development.
// Leases do not expire; Release is required.
type SubscriptionLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewSubscriptionLocker creates an in-memory subscription locker
func NewSubscriptionLocker() *SubscriptionLocker {
	return &SubscriptionLocker{held: make(map[string]bool)}
}

// Acquire takes the lease unless already held
func (l *SubscriptionLocker) Acquire(_ context.Context, subscriptionID string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[subscriptionID] {
		return false, nil
	}
	l.held[subscriptionID] = true
	return true, nil
}

// Release frees the lease
func (l *SubscriptionLocker) Release(_ context.Context, subscriptionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, subscriptionID)
	return nil
}

// IsHeld reports whether the lease is currently held
func (l *SubscriptionLocker) IsHeld(subscriptionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[subscriptionID]
}
