package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	mockadapter "github.com/subflow/billing-service/internal/adapters/mock"
	"github.com/subflow/billing-service/internal/domain"
	"github.com/subflow/billing-service/internal/domain/ports"
)

type MockBillingProcessor struct {
	mock.Mock
}

func (m *MockBillingProcessor) ProcessBilling(ctx context.Context, subscriptionID string, isRetry bool, retryCount int) (*ports.BillingResult, error) {
	args := m.Called(ctx, subscriptionID, isRetry, retryCount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.BillingResult), args.Error(1)
}

type consumerFixture struct {
	consumer  *Consumer
	queue     *mockadapter.TaskQueue
	locker    *mockadapter.SubscriptionLocker
	processor *MockBillingProcessor
}

func newConsumerFixture() *consumerFixture {
	f := &consumerFixture{
		queue:     mockadapter.NewTaskQueue(),
		locker:    mockadapter.NewSubscriptionLocker(),
		processor: new(MockBillingProcessor),
	}
	f.consumer = NewConsumer(f.queue, f.processor, f.locker, noopLogger{}, time.Minute)
	return f
}

func billingTask() domain.BillingTask {
	return domain.BillingTask{
		TaskID:         "task-1",
		SubscriptionID: "sub-1",
		TaskType:       domain.TaskTypeBilling,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestProcessBillingTaskAcksOnSuccess(t *testing.T) {
	f := newConsumerFixture()
	task := billingTask()

	f.processor.On("ProcessBilling", mock.Anything, "sub-1", false, 0).
		Return(&ports.BillingResult{Success: true, SubscriptionID: "sub-1"}, nil)

	err := f.consumer.ProcessBillingTask(context.Background(), task)

	require.NoError(t, err)
	assert.True(t, f.queue.WasAcked("task-1"))
	assert.False(t, f.locker.IsHeld("sub-1"))
	f.processor.AssertExpectations(t)
}

func TestProcessBillingTaskAcksWhenRetryQueued(t *testing.T) {
	f := newConsumerFixture()
	task := billingTask()

	f.processor.On("ProcessBilling", mock.Anything, "sub-1", false, 0).
		Return(&ports.BillingResult{SubscriptionID: "sub-1", QueuedForRetry: true}, nil)

	err := f.consumer.ProcessBillingTask(context.Background(), task)

	require.NoError(t, err)
	assert.True(t, f.queue.WasAcked("task-1"))
}

func TestProcessBillingTaskPassesRetryMetadata(t *testing.T) {
	f := newConsumerFixture()
	task := billingTask()
	task.TaskType = domain.TaskTypeRetry
	task.RetryCount = 2

	f.processor.On("ProcessBilling", mock.Anything, "sub-1", true, 2).
		Return(&ports.BillingResult{Success: true, SubscriptionID: "sub-1"}, nil)

	err := f.consumer.ProcessBillingTask(context.Background(), task)

	require.NoError(t, err)
	f.processor.AssertExpectations(t)
}

func TestProcessBillingTaskRejectsMalformedTaskWithoutRequeue(t *testing.T) {
	f := newConsumerFixture()
	task := billingTask()
	task.SubscriptionID = ""

	err := f.consumer.ProcessBillingTask(context.Background(), task)

	require.NoError(t, err)
	rejected, requeue := f.queue.WasRejected("task-1")
	assert.True(t, rejected)
	assert.False(t, requeue)
	f.processor.AssertNotCalled(t, "ProcessBilling", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessBillingTaskRequeuesOnLockContention(t *testing.T) {
	f := newConsumerFixture()
	task := billingTask()

	// Another worker already holds the lease
	held, err := f.locker.Acquire(context.Background(), "sub-1", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	err = f.consumer.ProcessBillingTask(context.Background(), task)

	require.NoError(t, err)
	rejected, requeue := f.queue.WasRejected("task-1")
	assert.True(t, rejected)
	assert.True(t, requeue)
	f.processor.AssertNotCalled(t, "ProcessBilling", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessBillingTaskRejectsPermanentFailureWithoutRequeue(t *testing.T) {
	f := newConsumerFixture()
	task := billingTask()

	f.processor.On("ProcessBilling", mock.Anything, "sub-1", false, 0).
		Return(&ports.BillingResult{
			SubscriptionID:     "sub-1",
			ErrorCode:          string(domain.FailureCardExpired),
			EnteredGracePeriod: true,
		}, nil)

	err := f.consumer.ProcessBillingTask(context.Background(), task)

	require.NoError(t, err)
	rejected, requeue := f.queue.WasRejected("task-1")
	assert.True(t, rejected)
	assert.False(t, requeue)
}

func TestProcessBillingTaskRequeuesOnUnexpectedError(t *testing.T) {
	f := newConsumerFixture()
	task := billingTask()

	processErr := errors.New("database connection lost")
	f.processor.On("ProcessBilling", mock.Anything, "sub-1", false, 0).
		Return(nil, processErr)

	err := f.consumer.ProcessBillingTask(context.Background(), task)

	require.ErrorIs(t, err, processErr)
	rejected, requeue := f.queue.WasRejected("task-1")
	assert.True(t, rejected)
	assert.True(t, requeue)
	assert.False(t, f.locker.IsHeld("sub-1"))
}

func TestProcessBillingTaskReleasesLockAfterProcessing(t *testing.T) {
	f := newConsumerFixture()
	task := billingTask()

	f.processor.On("ProcessBilling", mock.Anything, "sub-1", false, 0).
		Return(&ports.BillingResult{Success: true, SubscriptionID: "sub-1"}, nil)

	require.NoError(t, f.consumer.ProcessBillingTask(context.Background(), task))
	assert.False(t, f.locker.IsHeld("sub-1"))

	// The lease is free for the next billing pass
	held, err := f.locker.Acquire(context.Background(), "sub-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, held)
}
