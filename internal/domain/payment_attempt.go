package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AttemptStatus represents the payment attempt state
type AttemptStatus string

const (
	AttemptStatusPending AttemptStatus = "pending"
	AttemptStatusSuccess AttemptStatus = "success"
	AttemptStatusFailed  AttemptStatus = "failed"
)

// PaymentAttempt records a single gateway charge. One attempt per gateway
// call; the attempt ID doubles as the gateway idempotency key. Attempts are
// immutable once terminal.
type PaymentAttempt struct {
	ID             string
	SubscriptionID string
	Status         AttemptStatus
	Amount         decimal.Decimal
	Currency       string
	FailureReason  string
	TransactionID  string
	RetryCount     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsTerminal returns true once the attempt has succeeded or failed
func (a *PaymentAttempt) IsTerminal() bool {
	return a.Status == AttemptStatusSuccess || a.Status == AttemptStatusFailed
}

// MarkSucceeded finalizes the attempt with the gateway transaction ID
func (a *PaymentAttempt) MarkSucceeded(transactionID string, now time.Time) error {
	if a.IsTerminal() {
		return NewDomainError(ErrorCodeAttemptFinalized,
			"payment attempt already finalized").WithDetail("status", string(a.Status))
	}
	a.Status = AttemptStatusSuccess
	a.TransactionID = transactionID
	a.UpdatedAt = now
	return nil
}

// MarkFailed finalizes the attempt with the gateway failure code
func (a *PaymentAttempt) MarkFailed(failureReason string, now time.Time) error {
	if a.IsTerminal() {
		return NewDomainError(ErrorCodeAttemptFinalized,
			"payment attempt already finalized").WithDetail("status", string(a.Status))
	}
	a.Status = AttemptStatusFailed
	a.FailureReason = failureReason
	a.UpdatedAt = now
	return nil
}
