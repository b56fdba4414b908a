package redislock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/subflow/billing-service/internal/domain/ports"
)

const keyPrefix = "billing:lock:subscription:"

// releaseScript deletes the lock only if this locker still holds it, so an
// expired lease taken over by another worker is never released from here
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements ports.SubscriptionLocker on Redis with SET NX PX leases.
// Each acquisition stores a random token so release is owner-checked.
type Locker struct {
	client *redis.Client
	logger ports.Logger
	mu     sync.Mutex
	tokens map[string]string
}

// NewLocker creates a Redis-backed subscription locker
func NewLocker(client *redis.Client, logger ports.Logger) *Locker {
	return &Locker{
		client: client,
		logger: logger,
		tokens: make(map[string]string),
	}
}

// NewClient connects a Redis client and verifies connectivity
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Acquire attempts to take the lease for a subscription. Returns false when
// another holder owns it.
func (l *Locker) Acquire(ctx context.Context, subscriptionID string, ttl time.Duration) (bool, error) {
	token, err := randomToken()
	if err != nil {
		return false, err
	}

	ok, err := l.client.SetNX(ctx, keyPrefix+subscriptionID, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire subscription lock: %w", err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[subscriptionID] = token
	l.mu.Unlock()

	return true, nil
}

// Release frees the lease if still held by this locker
func (l *Locker) Release(ctx context.Context, subscriptionID string) error {
	l.mu.Lock()
	token, ok := l.tokens[subscriptionID]
	delete(l.tokens, subscriptionID)
	l.mu.Unlock()

	if !ok {
		return nil
	}

	released, err := releaseScript.Run(ctx, l.client, []string{keyPrefix + subscriptionID}, token).Int()
	if err != nil {
		return fmt.Errorf("release subscription lock: %w", err)
	}
	if released == 0 {
		// Lease expired and may have been taken over; nothing to release
		l.logger.Warn("subscription lock already expired at release",
			ports.String("subscription_id", subscriptionID))
	}
	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
