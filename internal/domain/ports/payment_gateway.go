package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChargeRequest represents a request to charge a subscriber.
// AttemptID must be unique per payment attempt; gateways use it as an
// idempotency key so redelivered tasks cannot double-charge.
type ChargeRequest struct {
	AttemptID   string
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Metadata    map[string]string
}

// ChargeResult represents the gateway's response to a charge or refund
type ChargeResult struct {
	Success          bool
	TransactionID    string
	ErrorCode        string
	ErrorMessage     string
	ProviderResponse map[string]string
}

// RefundRequest represents a request to refund a settled transaction
type RefundRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Reason        string
}

// PaymentGateway defines the payment provider contract consumed by the
// billing orchestrator. Implementations: a deterministic in-memory double
// for tests and a real provider adapter in production.
type PaymentGateway interface {
	// Charge executes a payment. A declined charge returns a ChargeResult
	// with Success=false and a populated error code; err is reserved for
	// transport-level failures.
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)

	// Refund returns money for a previously settled transaction
	Refund(ctx context.Context, req *RefundRequest) (*ChargeResult, error)

	// GatewayName identifies the provider for logging and metrics
	GatewayName() string
}
