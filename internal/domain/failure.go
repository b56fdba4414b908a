package domain

import (
	"strings"
	"time"
)

// FailureType is the standardized payment failure taxonomy
type FailureType string

const (
	FailureNetworkError         FailureType = "network_error"
	FailureGatewayTimeout       FailureType = "gateway_timeout"
	FailureInsufficientFunds    FailureType = "insufficient_funds"
	FailureCardExpired          FailureType = "card_expired"
	FailureInvalidCard          FailureType = "invalid_card"
	FailureCardDeclined         FailureType = "card_declined"
	FailureFraudDetected        FailureType = "fraud_detected"
	FailureCurrencyNotSupported FailureType = "currency_not_supported"
	FailureAmountTooHigh        FailureType = "amount_too_high"
	FailureAmountTooLow         FailureType = "amount_too_low"
	FailureDuplicateTransaction FailureType = "duplicate_transaction"
	FailureSystemError          FailureType = "system_error"
	FailureUnknownError         FailureType = "unknown_error"
)

// FailureClassification carries the retry/grace policy for a failure type
type FailureClassification struct {
	Type              FailureType
	IsRetryable       bool
	MaxRetryAttempts  int
	RetryDelay        time.Duration
	EntersGracePeriod bool
	Description       string
	UserAction        string
}

// failurePolicies is the fixed policy table. Transient failures retry with
// bounded attempts; permanent failures go straight to grace period so the
// subscriber can remediate. Duplicate transactions imply the charge already
// settled: no retry AND no grace period.
var failurePolicies = map[FailureType]FailureClassification{
	FailureNetworkError: {
		Type:              FailureNetworkError,
		IsRetryable:       true,
		MaxRetryAttempts:  3,
		RetryDelay:        5 * time.Minute,
		EntersGracePeriod: true,
		Description:       "Network error while reaching the payment gateway",
		UserAction:        "No action needed; we will retry automatically",
	},
	FailureGatewayTimeout: {
		Type:              FailureGatewayTimeout,
		IsRetryable:       true,
		MaxRetryAttempts:  3,
		RetryDelay:        10 * time.Minute,
		EntersGracePeriod: true,
		Description:       "Payment gateway did not respond in time",
		UserAction:        "No action needed; we will retry automatically",
	},
	FailureSystemError: {
		Type:              FailureSystemError,
		IsRetryable:       true,
		MaxRetryAttempts:  3,
		RetryDelay:        15 * time.Minute,
		EntersGracePeriod: true,
		Description:       "Internal error while processing the payment",
		UserAction:        "No action needed; we will retry automatically",
	},
	FailureInsufficientFunds: {
		Type:              FailureInsufficientFunds,
		IsRetryable:       false,
		MaxRetryAttempts:  0,
		RetryDelay:        30 * time.Minute,
		EntersGracePeriod: true,
		Description:       "The account has insufficient funds",
		UserAction:        "Please add funds or use a different payment method",
	},
	FailureCardExpired: {
		Type:              FailureCardExpired,
		IsRetryable:       false,
		MaxRetryAttempts:  0,
		RetryDelay:        30 * time.Minute,
		EntersGracePeriod: true,
		Description:       "The card on file has expired",
		UserAction:        "Please update your card details",
	},
	FailureInvalidCard: {
		Type:              FailureInvalidCard,
		IsRetryable:       false,
		MaxRetryAttempts:  0,
		RetryDelay:        30 * time.Minute,
		EntersGracePeriod: true,
		Description:       "The card details are invalid",
		UserAction:        "Please check your card number and details",
	},
	FailureCardDeclined: {
		Type:              FailureCardDeclined,
		IsRetryable:       false,
		MaxRetryAttempts:  0,
		RetryDelay:        30 * time.Minute,
		EntersGracePeriod: true,
		Description:       "The card issuer declined the charge",
		UserAction:        "Please contact your bank or use a different payment method",
	},
	FailureFraudDetected: {
		Type:              FailureFraudDetected,
		IsRetryable:       false,
		MaxRetryAttempts:  0,
		RetryDelay:        30 * time.Minute,
		EntersGracePeriod: true,
		Description:       "The charge was flagged by fraud screening",
		UserAction:        "Please contact your bank to authorize the payment",
	},
	FailureCurrencyNotSupported: {
		Type:              FailureCurrencyNotSupported,
		IsRetryable:       false,
		MaxRetryAttempts:  0,
		RetryDelay:        30 * time.Minute,
		EntersGracePeriod: true,
		Description:       "The payment method does not support this currency",
		UserAction:        "Please use a payment method that supports the billing currency",
	},
	FailureAmountTooHigh: {
		Type:              FailureAmountTooHigh,
		IsRetryable:       false,
		MaxRetryAttempts:  0,
		RetryDelay:        30 * time.Minute,
		EntersGracePeriod: true,
		Description:       "The charge exceeds the payment method's limit",
		UserAction:        "Please raise your card limit or use a different payment method",
	},
	FailureAmountTooLow: {
		Type:              FailureAmountTooLow,
		IsRetryable:       false,
		MaxRetryAttempts:  0,
		RetryDelay:        30 * time.Minute,
		EntersGracePeriod: true,
		Description:       "The charge is below the gateway's minimum amount",
		UserAction:        "Please contact support",
	},
	FailureDuplicateTransaction: {
		Type:              FailureDuplicateTransaction,
		IsRetryable:       false,
		MaxRetryAttempts:  0,
		RetryDelay:        5 * time.Minute,
		EntersGracePeriod: false,
		Description:       "The gateway reports this charge was already processed",
		UserAction:        "No action needed; the previous charge settled",
	},
	FailureUnknownError: {
		Type:              FailureUnknownError,
		IsRetryable:       false,
		MaxRetryAttempts:  0,
		RetryDelay:        30 * time.Minute,
		EntersGracePeriod: true,
		Description:       "The payment failed for an unrecognized reason",
		UserAction:        "Please verify your payment method or contact support",
	},
}

// signalPatterns maps lowercase substrings of gateway error codes/messages
// to failure types. Order matters: more specific signals come first.
var signalPatterns = []struct {
	substr string
	ftype  FailureType
}{
	{"duplicate", FailureDuplicateTransaction},
	{"insufficient", FailureInsufficientFunds},
	{"expired", FailureCardExpired},
	{"invalid_card", FailureInvalidCard},
	{"invalid card", FailureInvalidCard},
	{"invalid_account", FailureInvalidCard},
	{"invalid account", FailureInvalidCard},
	{"fraud", FailureFraudDetected},
	{"stolen", FailureFraudDetected},
	{"lost_card", FailureFraudDetected},
	{"pickup", FailureFraudDetected},
	{"currency", FailureCurrencyNotSupported},
	{"amount_too_high", FailureAmountTooHigh},
	{"amount too high", FailureAmountTooHigh},
	{"limit_exceeded", FailureAmountTooHigh},
	{"amount_too_low", FailureAmountTooLow},
	{"amount too low", FailureAmountTooLow},
	{"declined", FailureCardDeclined},
	{"do_not_honor", FailureCardDeclined},
	{"do not honor", FailureCardDeclined},
	{"timeout", FailureGatewayTimeout},
	{"timed out", FailureGatewayTimeout},
	{"network", FailureNetworkError},
	{"connection", FailureNetworkError},
	{"system_error", FailureSystemError},
	{"system error", FailureSystemError},
	{"processing_error", FailureSystemError},
	{"processing error", FailureSystemError},
	{"unavailable", FailureSystemError},
	{"internal", FailureSystemError},
}

// ClassifyPaymentFailure maps a gateway error code and message to the
// standardized taxonomy. Matching is case-insensitive substring matching
// against the code first, then the message. Unmapped signals classify as
// unknown_error: non-retryable with grace period, the conservative default.
func ClassifyPaymentFailure(errorCode, errorMessage string) FailureClassification {
	code := strings.ToLower(errorCode)
	msg := strings.ToLower(errorMessage)

	for _, p := range signalPatterns {
		if strings.Contains(code, p.substr) {
			return failurePolicies[p.ftype]
		}
	}
	for _, p := range signalPatterns {
		if strings.Contains(msg, p.substr) {
			return failurePolicies[p.ftype]
		}
	}

	return failurePolicies[FailureUnknownError]
}

// PolicyFor returns the fixed policy for a known failure type
func PolicyFor(t FailureType) FailureClassification {
	if p, ok := failurePolicies[t]; ok {
		return p
	}
	return failurePolicies[FailureUnknownError]
}
