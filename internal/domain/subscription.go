package domain

import (
	"time"
)

// SubscriptionStatus represents the subscription lifecycle state
type SubscriptionStatus string

const (
	SubscriptionStatusPending     SubscriptionStatus = "pending"
	SubscriptionStatusActive      SubscriptionStatus = "active"
	SubscriptionStatusCancelled   SubscriptionStatus = "cancelled"
	SubscriptionStatusGracePeriod SubscriptionStatus = "grace_period"
	SubscriptionStatusAborted     SubscriptionStatus = "aborted"
	SubscriptionStatusRefunding   SubscriptionStatus = "refunding"
)

// PendingConversion records a requested plan conversion that is applied
// lazily at the next billing pass
type PendingConversion struct {
	NewCycle    BillingCycle `json:"new_cycle"`
	RequestedAt time.Time    `json:"requested_at"`
}

// Subscription represents a recurring billing subscription.
//
// Status transitions are one-directional except active <-> grace_period.
// Subscriptions are never physically deleted; terminal states (cancelled,
// aborted) end the lifecycle in place.
type Subscription struct {
	ID                       string
	UserID                   string
	ProductID                string
	Status                   SubscriptionStatus
	BillingCycle             BillingCycle
	StartDate                time.Time
	EndDate                  *time.Time
	NextBillingDate          time.Time
	LastBillingDate          *time.Time
	RenewalCount             int
	RemainingDiscountPeriods int
	PendingConversion        *PendingConversion
	AppliedCouponCode        string
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// IsActive returns true if the subscription is currently active
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// NeedsBilling returns true if the subscription is active and its next
// billing date has been reached
func (s *Subscription) NeedsBilling(now time.Time) bool {
	return s.IsActive() && !now.Before(s.NextBillingDate)
}

// Activate transitions a pending subscription to active
func (s *Subscription) Activate() error {
	if s.Status != SubscriptionStatusPending {
		return NewDomainError(ErrorCodeInvalidTransition,
			"only pending subscriptions can be activated").
			WithDetail("status", string(s.Status))
	}
	s.Status = SubscriptionStatusActive
	return nil
}

// Cancel transitions the subscription to cancelled
func (s *Subscription) Cancel(now time.Time) error {
	if s.Status == SubscriptionStatusCancelled {
		return NewDomainError(ErrorCodeInvalidTransition,
			"subscription is already cancelled")
	}
	s.Status = SubscriptionStatusCancelled
	s.EndDate = &now
	return nil
}

// EnterGracePeriod moves an active subscription into its grace period after
// a permanent or exhausted payment failure
func (s *Subscription) EnterGracePeriod() error {
	if s.Status != SubscriptionStatusActive {
		return NewDomainError(ErrorCodeInvalidTransition,
			"only active subscriptions can enter grace period").
			WithDetail("status", string(s.Status))
	}
	s.Status = SubscriptionStatusGracePeriod
	return nil
}

// RecoverFromGracePeriod restores an active status after a successful charge
// during the grace period
func (s *Subscription) RecoverFromGracePeriod() error {
	if s.Status != SubscriptionStatusGracePeriod {
		return NewDomainError(ErrorCodeInvalidTransition,
			"subscription is not in grace period").
			WithDetail("status", string(s.Status))
	}
	s.Status = SubscriptionStatusActive
	return nil
}

// Abort marks the subscription as structurally broken (terminal, manual
// intervention required). Allowed from any non-terminal state.
func (s *Subscription) Abort() {
	s.Status = SubscriptionStatusAborted
}

// BeginRefund transitions an active subscription to refunding
func (s *Subscription) BeginRefund() error {
	if s.Status != SubscriptionStatusActive {
		return NewDomainError(ErrorCodeInvalidTransition,
			"only active subscriptions can be refunded").
			WithDetail("status", string(s.Status))
	}
	s.Status = SubscriptionStatusRefunding
	return nil
}

// RecordBilling records a successful charge: advances the billing anchor one
// cycle and increments the renewal counter
func (s *Subscription) RecordBilling(now time.Time) error {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusGracePeriod {
		return NewDomainError(ErrorCodeSubscriptionNotActive,
			"billing can only be recorded for active subscriptions").
			WithDetail("status", string(s.Status))
	}

	next, err := NextBillingDate(now, s.BillingCycle)
	if err != nil {
		return err
	}

	s.LastBillingDate = &now
	s.NextBillingDate = next
	s.RenewalCount++
	return nil
}

// RequestConversion records a pending plan conversion. The cycle switch is
// applied lazily at the next billing pass via ApplyPendingConversion.
func (s *Subscription) RequestConversion(newCycle BillingCycle, now time.Time) error {
	if !newCycle.IsValid() {
		return NewDomainError(ErrorCodeUnsupportedCycleType,
			"unsupported billing cycle").WithDetail("cycle", string(newCycle))
	}
	if s.PendingConversion != nil {
		return NewDomainError(ErrorCodeConversionPending,
			"a plan conversion is already pending").
			WithDetail("pending_cycle", string(s.PendingConversion.NewCycle))
	}
	if newCycle == s.BillingCycle {
		return NewDomainError(ErrorCodeSameCycleConversion,
			"subscription already uses the requested billing cycle")
	}

	s.PendingConversion = &PendingConversion{
		NewCycle:    newCycle,
		RequestedAt: now,
	}
	return nil
}

// ApplyPendingConversion switches the billing cycle if a conversion is
// pending. Returns true if a conversion was applied.
func (s *Subscription) ApplyPendingConversion() bool {
	if s.PendingConversion == nil {
		return false
	}
	s.BillingCycle = s.PendingConversion.NewCycle
	s.PendingConversion = nil
	return true
}

// ChangeBillingCycle switches the cycle immediately. Only upgrades to a
// strictly longer cycle are allowed (weekly < monthly < quarterly < yearly).
func (s *Subscription) ChangeBillingCycle(newCycle BillingCycle) error {
	if !newCycle.IsValid() {
		return NewDomainError(ErrorCodeUnsupportedCycleType,
			"unsupported billing cycle").WithDetail("cycle", string(newCycle))
	}
	if cycleRank(newCycle) <= cycleRank(s.BillingCycle) {
		return NewDomainError(ErrorCodeInvalidPlanChange,
			"billing cycle can only be changed to a longer cycle").
			WithDetail("current", string(s.BillingCycle)).
			WithDetail("requested", string(newCycle))
	}
	s.BillingCycle = newCycle
	return nil
}

// ConsumeFreePeriod decrements the remaining free discount periods.
// Returns true if a free period was consumed.
func (s *Subscription) ConsumeFreePeriod() bool {
	if s.RemainingDiscountPeriods <= 0 {
		return false
	}
	s.RemainingDiscountPeriods--
	return true
}
