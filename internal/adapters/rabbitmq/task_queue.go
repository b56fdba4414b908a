package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/subflow/billing-service/internal/domain"
	"github.com/subflow/billing-service/internal/domain/ports"
)

const (
	// DefaultQueueName is the main billing task queue
	DefaultQueueName = "billing.tasks"

	retryQueueSuffix = ".retry"
	deadQueueSuffix  = ".dead"
	dlxSuffix        = ".dlx"
)

// TaskQueue implements ports.TaskQueue on RabbitMQ.
//
// Topology: a durable direct exchange feeds the main queue. Delayed tasks
// are published to an unconsumed retry queue with a per-message TTL whose
// dead-letter target is the main exchange, so expired messages flow back
// into the main queue without in-process timers. Tasks rejected without
// requeue dead-letter into a terminal dead queue for the audit trail.
type TaskQueue struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	exchange  string
	queue     string
	retryQ    string
	deadQ     string
	logger    ports.Logger
	mu        sync.Mutex
	pending   map[string]amqp.Delivery
	running   bool
	closeChan chan struct{}
}

// Config configures the RabbitMQ task queue
type Config struct {
	URL       string
	QueueName string
}

// NewTaskQueue connects to RabbitMQ and declares the billing task topology
func NewTaskQueue(cfg Config, logger ports.Logger) (*TaskQueue, error) {
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q := &TaskQueue{
		conn:      conn,
		channel:   ch,
		exchange:  cfg.QueueName,
		queue:     cfg.QueueName,
		retryQ:    cfg.QueueName + retryQueueSuffix,
		deadQ:     cfg.QueueName + deadQueueSuffix,
		logger:    logger,
		pending:   make(map[string]amqp.Delivery),
		closeChan: make(chan struct{}),
	}

	if err := q.declareTopology(); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	logger.Info("RabbitMQ task queue connected",
		ports.String("queue", q.queue),
		ports.String("exchange", q.exchange))

	return q, nil
}

func (q *TaskQueue) declareTopology() error {
	dlx := q.exchange + dlxSuffix

	// Main exchange
	if err := q.channel.ExchangeDeclare(q.exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	// Dead-letter exchange for permanently rejected tasks
	if err := q.channel.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}

	// Main queue dead-letters rejected tasks to the terminal queue
	_, err := q.channel.QueueDeclare(q.queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": q.deadQ,
	})
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := q.channel.QueueBind(q.queue, q.queue, q.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	// Retry queue: no consumer, expired messages flow back to the main queue
	_, err = q.channel.QueueDeclare(q.retryQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    q.exchange,
		"x-dead-letter-routing-key": q.queue,
	})
	if err != nil {
		return fmt.Errorf("declare retry queue: %w", err)
	}

	// Terminal dead queue
	_, err = q.channel.QueueDeclare(q.deadQ, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare dead queue: %w", err)
	}
	if err := q.channel.QueueBind(q.deadQ, q.deadQ, dlx, false, nil); err != nil {
		return fmt.Errorf("bind dead queue: %w", err)
	}

	return nil
}

// PublishTask enqueues a task, optionally delayed via the retry queue's
// per-message TTL
func (q *TaskQueue) PublishTask(ctx context.Context, task domain.BillingTask, delay time.Duration) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal billing task: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.TaskID,
		Timestamp:    time.Now(),
		Body:         body,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if delay > 0 {
		publishing.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
		// Default exchange routes directly to the retry queue by name
		if err := q.channel.PublishWithContext(ctx, "", q.retryQ, false, false, publishing); err != nil {
			return fmt.Errorf("publish delayed task: %w", err)
		}
	} else {
		if err := q.channel.PublishWithContext(ctx, q.exchange, q.queue, false, false, publishing); err != nil {
			return fmt.Errorf("publish task: %w", err)
		}
	}

	q.logger.Debug("billing task published",
		ports.String("task_id", task.TaskID),
		ports.String("task_type", string(task.TaskType)),
		ports.String("delay", delay.String()))

	return nil
}

// Consume registers the processing callback and blocks delivering tasks
// until the context is cancelled. Prefetch is one so a worker holds at most
// one unacknowledged task.
func (q *TaskQueue) Consume(ctx context.Context, handler ports.TaskHandler) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("task queue consumer already running")
	}
	q.running = true
	q.mu.Unlock()

	if err := q.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	q.logger.Info("consuming billing tasks", ports.String("queue", q.queue))

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("task consumer context cancelled, stopping")
			return ctx.Err()

		case <-q.closeChan:
			q.logger.Info("task consumer close requested, stopping")
			return nil

		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed unexpectedly")
			}
			q.handleDelivery(ctx, msg, handler)
		}
	}
}

func (q *TaskQueue) handleDelivery(ctx context.Context, msg amqp.Delivery, handler ports.TaskHandler) {
	var task domain.BillingTask
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		// Undecodable payloads can never succeed, dead-letter them
		q.logger.Error("dropping undecodable billing task",
			ports.String("message_id", msg.MessageId),
			ports.Err(err))
		if nackErr := msg.Nack(false, false); nackErr != nil {
			q.logger.Error("nack undecodable task failed", ports.Err(nackErr))
		}
		return
	}

	if task.TaskID == "" {
		task.TaskID = msg.MessageId
	}

	q.mu.Lock()
	q.pending[task.TaskID] = msg
	q.mu.Unlock()

	err := handler(ctx, task)

	// The handler settles tasks through AcknowledgeTask/RejectTask; this
	// fallback covers handlers that returned without settling
	q.mu.Lock()
	leftover, unsettled := q.pending[task.TaskID]
	delete(q.pending, task.TaskID)
	q.mu.Unlock()

	if !unsettled {
		return
	}
	if err != nil {
		if nackErr := leftover.Nack(false, true); nackErr != nil {
			q.logger.Error("nack unsettled task failed",
				ports.String("task_id", task.TaskID), ports.Err(nackErr))
		}
		return
	}
	if ackErr := leftover.Ack(false); ackErr != nil {
		q.logger.Error("ack unsettled task failed",
			ports.String("task_id", task.TaskID), ports.Err(ackErr))
	}
}

// AcknowledgeTask confirms successful processing of a delivered task
func (q *TaskQueue) AcknowledgeTask(_ context.Context, taskID string) error {
	msg, err := q.takePending(taskID)
	if err != nil {
		return err
	}
	if err := msg.Ack(false); err != nil {
		return fmt.Errorf("ack task %s: %w", taskID, err)
	}
	return nil
}

// RejectTask refuses a delivered task. requeue=true redelivers it;
// requeue=false dead-letters it.
func (q *TaskQueue) RejectTask(_ context.Context, taskID string, requeue bool) error {
	msg, err := q.takePending(taskID)
	if err != nil {
		return err
	}
	if err := msg.Nack(false, requeue); err != nil {
		return fmt.Errorf("nack task %s: %w", taskID, err)
	}
	return nil
}

// QueueName identifies the main queue for logging and metrics
func (q *TaskQueue) QueueName() string {
	return q.queue
}

func (q *TaskQueue) takePending(taskID string) (amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.pending[taskID]
	if !ok {
		return amqp.Delivery{}, fmt.Errorf("no in-flight delivery for task %s", taskID)
	}
	delete(q.pending, taskID)
	return msg, nil
}

// Close shuts down the channel and connection
func (q *TaskQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case <-q.closeChan:
	default:
		close(q.closeChan)
	}
	q.running = false

	if q.channel != nil {
		if err := q.channel.Close(); err != nil {
			q.logger.Warn("error closing channel", ports.Err(err))
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			return err
		}
	}

	q.logger.Info("RabbitMQ task queue closed")
	return nil
}
