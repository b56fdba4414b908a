package mock

import (
	"context"
	"sync"
	"time"

	"github.com/subflow/billing-service/internal/domain"
	"github.com/subflow/billing-service/internal/domain/ports"
)

// PublishedTask records a task handed to the mock queue with its delay
type PublishedTask struct {
	Task  domain.BillingTask
	Delay time.Duration
}

// TaskQueue is an in-memory ports.TaskQueue for tests: published tasks are
// recorded, and Drain delivers them synchronously to the registered handler.
// Ack and reject decisions are tracked per task ID.
type TaskQueue struct {
	mu        sync.Mutex
	name      string
	published []PublishedTask
	handler   ports.TaskHandler
	acked     map[string]bool
	rejected  map[string]bool // taskID -> requeue flag
}

// NewTaskQueue creates an in-memory task queue
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		name:     "billing.tasks.test",
		acked:    make(map[string]bool),
		rejected: make(map[string]bool),
	}
}

// PublishTask records the task; nothing is delivered until Drain
func (q *TaskQueue) PublishTask(_ context.Context, task domain.BillingTask, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, PublishedTask{Task: task, Delay: delay})
	return nil
}

// Consume registers the handler and returns; delivery happens via Drain
func (q *TaskQueue) Consume(_ context.Context, handler ports.TaskHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
	return nil
}

// AcknowledgeTask records the ack
func (q *TaskQueue) AcknowledgeTask(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked[taskID] = true
	return nil
}

// RejectTask records the rejection and whether requeue was requested
func (q *TaskQueue) RejectTask(_ context.Context, taskID string, requeue bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rejected[taskID] = requeue
	return nil
}

// QueueName identifies the queue
func (q *TaskQueue) QueueName() string {
	return q.name
}

// Drain synchronously delivers all currently published tasks to the handler,
// including tasks the handler publishes while draining. Returns the number
// of tasks delivered.
func (q *TaskQueue) Drain(ctx context.Context, handler ports.TaskHandler) int {
	delivered := 0
	for {
		q.mu.Lock()
		if len(q.published) == 0 {
			q.mu.Unlock()
			return delivered
		}
		next := q.published[0]
		q.published = q.published[1:]
		q.mu.Unlock()

		_ = handler(ctx, next.Task)
		delivered++
	}
}

// Published returns the tasks currently waiting in the queue
func (q *TaskQueue) Published() []PublishedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PublishedTask, len(q.published))
	copy(out, q.published)
	return out
}

// WasAcked reports whether the task was acknowledged
func (q *TaskQueue) WasAcked(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked[taskID]
}

// WasRejected reports whether the task was rejected and with which requeue
// flag
func (q *TaskQueue) WasRejected(taskID string) (rejected, requeue bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	requeue, rejected = q.rejected[taskID]
	return rejected, requeue
}
