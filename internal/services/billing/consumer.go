package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/subflow/billing-service/internal/domain"
	"github.com/subflow/billing-service/internal/domain/ports"
	"github.com/subflow/billing-service/pkg/observability"
)

// DefaultLockTTL bounds how long a billing pass may hold a subscription
// lease before it expires on its own
const DefaultLockTTL = 2 * time.Minute

// Consumer drives the billing side of the task protocol: it receives
// billing tasks from the queue, serializes work per subscription through
// the locker and translates billing outcomes into ack/reject decisions.
type Consumer struct {
	queue   ports.TaskQueue
	billing ports.BillingProcessor
	locker  ports.SubscriptionLocker
	logger  ports.Logger
	lockTTL time.Duration
}

// NewConsumer creates a new billing task consumer
func NewConsumer(queue ports.TaskQueue, billing ports.BillingProcessor,
	locker ports.SubscriptionLocker, logger ports.Logger, lockTTL time.Duration) *Consumer {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Consumer{
		queue:   queue,
		billing: billing,
		locker:  locker,
		logger:  logger,
		lockTTL: lockTTL,
	}
}

// Start blocks consuming billing tasks until the context is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("billing consumer starting",
		ports.String("queue", c.queue.QueueName()))
	return c.queue.Consume(ctx, c.ProcessBillingTask)
}

// ProcessBillingTask handles one delivered billing task.
//
// Acknowledgement protocol: a task is acknowledged when processing reached a
// settled outcome (charge succeeded, a retry task was queued in its place),
// rejected without requeue when redelivery cannot change the outcome
// (malformed task, permanent failure, grace period entry), and rejected with
// requeue only for unexpected errors where redelivery may succeed.
func (c *Consumer) ProcessBillingTask(ctx context.Context, task domain.BillingTask) error {
	if err := task.Validate(); err != nil {
		// Malformed tasks cannot become well-formed through redelivery
		c.logger.Error("rejecting malformed billing task",
			ports.String("task_id", task.TaskID),
			ports.Err(err))
		observability.RecordConsumerTask(string(task.TaskType), "rejected")
		return c.queue.RejectTask(ctx, task.TaskID, false)
	}

	acquired, err := c.locker.Acquire(ctx, task.SubscriptionID, c.lockTTL)
	if err != nil {
		c.logger.Error("subscription lock acquisition failed",
			ports.String("task_id", task.TaskID),
			ports.String("subscription_id", task.SubscriptionID),
			ports.Err(err))
		observability.RecordConsumerTask(string(task.TaskType), "requeued")
		if rejectErr := c.queue.RejectTask(ctx, task.TaskID, true); rejectErr != nil {
			return fmt.Errorf("reject task after lock error: %w", rejectErr)
		}
		return fmt.Errorf("acquire subscription lock: %w", err)
	}
	if !acquired {
		// Another worker holds the lease; redeliver so the task runs after
		// the in-flight pass finishes
		c.logger.Warn("subscription is locked by another worker, requeueing",
			ports.String("task_id", task.TaskID),
			ports.String("subscription_id", task.SubscriptionID))
		observability.RecordConsumerTask(string(task.TaskType), "lock_contended")
		return c.queue.RejectTask(ctx, task.TaskID, true)
	}
	defer func() {
		if err := c.locker.Release(context.WithoutCancel(ctx), task.SubscriptionID); err != nil {
			c.logger.Warn("subscription lock release failed",
				ports.String("subscription_id", task.SubscriptionID),
				ports.Err(err))
		}
	}()

	result, err := c.billing.ProcessBilling(ctx, task.SubscriptionID, task.TaskType.IsRetry(), task.RetryCount)
	if err != nil {
		c.logger.Error("billing pass failed unexpectedly, requeueing task",
			ports.String("task_id", task.TaskID),
			ports.String("subscription_id", task.SubscriptionID),
			ports.Err(err))
		observability.RecordConsumerTask(string(task.TaskType), "requeued")
		if rejectErr := c.queue.RejectTask(ctx, task.TaskID, true); rejectErr != nil {
			return fmt.Errorf("reject task: %w", rejectErr)
		}
		return err
	}

	if result.Success || result.QueuedForRetry {
		observability.RecordConsumerTask(string(task.TaskType), "acked")
		return c.queue.AcknowledgeTask(ctx, task.TaskID)
	}

	// Permanent failure: redelivering the same task cannot help, route it
	// to the dead-letter queue for the audit trail
	c.logger.Warn("billing task settled with permanent failure",
		ports.String("task_id", task.TaskID),
		ports.String("subscription_id", task.SubscriptionID),
		ports.String("error_code", result.ErrorCode),
		ports.Bool("entered_grace_period", result.EnteredGracePeriod))
	observability.RecordConsumerTask(string(task.TaskType), "rejected")
	return c.queue.RejectTask(ctx, task.TaskID, false)
}
