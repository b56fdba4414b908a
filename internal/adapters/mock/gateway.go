package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/subflow/billing-service/internal/domain/ports"
)

// PaymentGateway is a deterministic in-memory gateway for development and
// tests. Outcomes can be scripted per user or globally; unscripted charges
// approve. Idempotency is honored: a repeated AttemptID returns the
// original result without a second charge.
type PaymentGateway struct {
	mu          sync.Mutex
	userResults map[string]*ports.ChargeResult
	nextResults []*ports.ChargeResult
	seen        map[string]*ports.ChargeResult
	charges     []*ports.ChargeRequest
	refunds     []*ports.RefundRequest
	refundErr   error
}

// NewPaymentGateway creates a mock gateway that approves every charge by
// default
func NewPaymentGateway() *PaymentGateway {
	return &PaymentGateway{
		userResults: make(map[string]*ports.ChargeResult),
		seen:        make(map[string]*ports.ChargeResult),
	}
}

// ScriptUserResult fixes the outcome of every charge for a user
func (g *PaymentGateway) ScriptUserResult(userID string, result *ports.ChargeResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.userResults[userID] = result
}

// ScriptNextResult queues an outcome consumed by the next unscripted charge
func (g *PaymentGateway) ScriptNextResult(result *ports.ChargeResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextResults = append(g.nextResults, result)
}

// ScriptRefundError makes every refund fail with the given error
func (g *PaymentGateway) ScriptRefundError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundErr = err
}

// Charge executes a scripted or default-approved payment
func (g *PaymentGateway) Charge(_ context.Context, req *ports.ChargeRequest) (*ports.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prior, ok := g.seen[req.AttemptID]; ok {
		return prior, nil
	}
	g.charges = append(g.charges, req)

	var result *ports.ChargeResult
	switch {
	case g.userResults[req.UserID] != nil:
		result = g.userResults[req.UserID]
	case len(g.nextResults) > 0:
		result = g.nextResults[0]
		g.nextResults = g.nextResults[1:]
	default:
		result = &ports.ChargeResult{
			Success:       true,
			TransactionID: "txn-" + uuid.New().String(),
		}
	}

	g.seen[req.AttemptID] = result
	return result, nil
}

// Refund approves refunds unless scripted to fail
func (g *PaymentGateway) Refund(_ context.Context, req *ports.RefundRequest) (*ports.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return &ports.ChargeResult{
		Success:       true,
		TransactionID: fmt.Sprintf("refund-%s", req.TransactionID),
	}, nil
}

// GatewayName identifies the provider for logging and metrics
func (g *PaymentGateway) GatewayName() string {
	return "mock"
}

// Charges returns the charge requests received, in order
func (g *PaymentGateway) Charges() []*ports.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*ports.ChargeRequest, len(g.charges))
	copy(out, g.charges)
	return out
}

// Refunds returns the refund requests received, in order
func (g *PaymentGateway) Refunds() []*ports.RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*ports.RefundRequest, len(g.refunds))
	copy(out, g.refunds)
	return out
}
