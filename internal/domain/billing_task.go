package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskType identifies why a billing task was scheduled
type TaskType string

const (
	TaskTypeBilling     TaskType = "billing"
	TaskTypeRetry       TaskType = "retry"
	TaskTypeManualRetry TaskType = "manual_retry"
)

// IsValid returns true for the three supported task types
func (t TaskType) IsValid() bool {
	switch t {
	case TaskTypeBilling, TaskTypeRetry, TaskTypeManualRetry:
		return true
	}
	return false
}

// IsRetry returns true for operator- or system-scheduled retries
func (t TaskType) IsRetry() bool {
	return t == TaskTypeRetry || t == TaskTypeManualRetry
}

// BillingTask is the ephemeral queue message that drives a billing pass.
// It exists only within the queue and during processing.
type BillingTask struct {
	TaskID         string            `json:"taskId"`
	SubscriptionID string            `json:"subscriptionId"`
	TaskType       TaskType          `json:"taskType"`
	RetryCount     int               `json:"retryCount"`
	CreatedAt      time.Time         `json:"createdAt"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// NewBillingTask creates a scheduled billing task for a subscription
func NewBillingTask(subscriptionID string, now time.Time) BillingTask {
	return BillingTask{
		TaskID:         uuid.New().String(),
		SubscriptionID: subscriptionID,
		TaskType:       TaskTypeBilling,
		CreatedAt:      now,
	}
}

// NewRetryTask creates a retry task carrying the incremented retry count
func NewRetryTask(subscriptionID string, retryCount int, now time.Time) BillingTask {
	return BillingTask{
		TaskID:         uuid.New().String(),
		SubscriptionID: subscriptionID,
		TaskType:       TaskTypeRetry,
		RetryCount:     retryCount,
		CreatedAt:      now,
	}
}

// Validate checks the fields a consumer requires before processing.
// Malformed tasks cannot become well-formed through redelivery.
func (t BillingTask) Validate() error {
	if t.TaskID == "" {
		return NewDomainError(ErrorCodeInvalidTaskData, "task is missing taskId")
	}
	if t.SubscriptionID == "" {
		return NewDomainError(ErrorCodeInvalidTaskData, "task is missing subscriptionId").
			WithDetail("task_id", t.TaskID)
	}
	if !t.TaskType.IsValid() {
		return NewDomainError(ErrorCodeInvalidTaskData, "task has an unknown taskType").
			WithDetail("task_id", t.TaskID).
			WithDetail("task_type", string(t.TaskType))
	}
	return nil
}
