package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBillingTask(t *testing.T) {
	now := date(2026, time.March, 1)
	task := NewBillingTask("sub-1", now)

	assert.NotEmpty(t, task.TaskID)
	assert.Equal(t, "sub-1", task.SubscriptionID)
	assert.Equal(t, TaskTypeBilling, task.TaskType)
	assert.Equal(t, 0, task.RetryCount)
	assert.Equal(t, now, task.CreatedAt)
	assert.NoError(t, task.Validate())
}

func TestNewRetryTask(t *testing.T) {
	now := date(2026, time.March, 1)
	task := NewRetryTask("sub-1", 2, now)

	assert.NotEmpty(t, task.TaskID)
	assert.Equal(t, TaskTypeRetry, task.TaskType)
	assert.Equal(t, 2, task.RetryCount)
	assert.True(t, task.TaskType.IsRetry())
	assert.NoError(t, task.Validate())
}

func TestTaskTypeIsRetry(t *testing.T) {
	assert.False(t, TaskTypeBilling.IsRetry())
	assert.True(t, TaskTypeRetry.IsRetry())
	assert.True(t, TaskTypeManualRetry.IsRetry())
}

func TestBillingTaskValidate(t *testing.T) {
	valid := BillingTask{
		TaskID:         "task-1",
		SubscriptionID: "sub-1",
		TaskType:       TaskTypeBilling,
	}
	require.NoError(t, valid.Validate())

	t.Run("missing task id", func(t *testing.T) {
		task := valid
		task.TaskID = ""
		err := task.Validate()
		require.Error(t, err)
		assert.Equal(t, ErrorCodeInvalidTaskData, GetErrorCode(err))
	})

	t.Run("missing subscription id", func(t *testing.T) {
		task := valid
		task.SubscriptionID = ""
		err := task.Validate()
		require.Error(t, err)
		assert.Equal(t, ErrorCodeInvalidTaskData, GetErrorCode(err))
	})

	t.Run("unknown task type", func(t *testing.T) {
		task := valid
		task.TaskType = TaskType("cleanup")
		err := task.Validate()
		require.Error(t, err)
		assert.Equal(t, ErrorCodeInvalidTaskData, GetErrorCode(err))
	})
}
