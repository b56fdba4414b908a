package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Subscription lifecycle errors (SUBSCRIPTION_*)
	ErrorCodeSubscriptionNotFound  ErrorCode = "SUBSCRIPTION_NOT_FOUND"
	ErrorCodeSubscriptionNotActive ErrorCode = "SUBSCRIPTION_NOT_ACTIVE"
	ErrorCodeInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	ErrorCodeInvalidPlanChange     ErrorCode = "INVALID_PLAN_CHANGE"
	ErrorCodeConversionPending     ErrorCode = "CONVERSION_PENDING"
	ErrorCodeSameCycleConversion   ErrorCode = "SAME_CYCLE_CONVERSION"
	ErrorCodeUnsupportedCycleType  ErrorCode = "UNSUPPORTED_CYCLE_TYPE"

	// Product errors (PRODUCT_*)
	ErrorCodeProductNotFound        ErrorCode = "PRODUCT_NOT_FOUND"
	ErrorCodeProductNotFoundAborted ErrorCode = "PRODUCT_NOT_FOUND_ABORTED"

	// Promo / coupon errors (PROMO_*, COUPON_*)
	ErrorCodePromoNotFound   ErrorCode = "PROMO_NOT_FOUND"
	ErrorCodePromoIneligible ErrorCode = "PROMO_INELIGIBLE"
	ErrorCodeCouponNotFound  ErrorCode = "COUPON_NOT_FOUND"
	ErrorCodeCouponExhausted ErrorCode = "COUPON_EXHAUSTED"

	// Billing / payment errors (BILLING_*, PAYMENT_*)
	ErrorCodePaymentFailed    ErrorCode = "PAYMENT_FAILED"
	ErrorCodeAttemptNotFound  ErrorCode = "ATTEMPT_NOT_FOUND"
	ErrorCodeAttemptFinalized ErrorCode = "ATTEMPT_FINALIZED"

	// Task protocol errors (TASK_*)
	ErrorCodeInvalidTaskData ErrorCode = "INVALID_TASK_DATA"

	// Internal errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// Common domain errors
var (
	ErrSubscriptionNotFound         = errors.New("subscription not found")
	ErrSubscriptionNotActive        = errors.New("subscription is not active")
	ErrSubscriptionAlreadyCancelled = errors.New("subscription is already cancelled")
	ErrInvalidTransition            = errors.New("invalid subscription status transition")
	ErrInvalidPlanChange            = errors.New("billing cycle can only be changed to a longer cycle")
	ErrConversionPending            = errors.New("a plan conversion is already pending")
	ErrSameCycleConversion          = errors.New("subscription already uses the requested billing cycle")
	ErrUnsupportedCycleType         = errors.New("unsupported billing cycle type")

	ErrProductNotFound = errors.New("product not found")

	ErrPromoCodeNotFound = errors.New("promo code not found")
	ErrCouponNotFound    = errors.New("coupon not found")
	ErrCouponExhausted   = errors.New("coupon usage limit reached")
	ErrCouponAlreadyUsed = errors.New("coupon already used by this user")

	ErrAttemptNotFound  = errors.New("payment attempt not found")
	ErrAttemptFinalized = errors.New("payment attempt already finalized")

	ErrInvalidTaskData = errors.New("billing task is missing required fields")
)
