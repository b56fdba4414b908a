package ports

import (
	"context"
	"time"

	"github.com/subflow/billing-service/internal/domain"
)

// TaskHandler processes a delivered billing task. Returning an error signals
// the queue implementation that processing failed unexpectedly.
type TaskHandler func(ctx context.Context, task domain.BillingTask) error

// TaskQueue is the asynchronous task protocol driving scheduled billing and
// retries. Delivery is at-least-once; handlers must be idempotent at the
// payment-gateway boundary.
type TaskQueue interface {
	// PublishTask enqueues a task. A positive delay defers delivery
	// (implemented via the broker's delay feature, not in-process timers).
	PublishTask(ctx context.Context, task domain.BillingTask, delay time.Duration) error

	// Consume registers the processing callback and blocks delivering tasks
	// until the context is cancelled
	Consume(ctx context.Context, handler TaskHandler) error

	// AcknowledgeTask confirms successful processing of a delivered task
	AcknowledgeTask(ctx context.Context, taskID string) error

	// RejectTask refuses a delivered task. requeue=true redelivers it;
	// requeue=false routes it to the dead-letter queue.
	RejectTask(ctx context.Context, taskID string, requeue bool) error

	// QueueName identifies the main queue for logging and metrics
	QueueName() string
}
