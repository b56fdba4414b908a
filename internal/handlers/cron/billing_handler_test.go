package cron

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockTaskPublisher struct {
	mock.Mock
}

func (m *MockTaskPublisher) PublishDueBillingTasks(ctx context.Context, asOf time.Time, batchSize int32) (int, error) {
	args := m.Called(ctx, asOf, batchSize)
	return args.Int(0), args.Error(1)
}

const testSecret = "cron-secret"

func newHandler(publisher *MockTaskPublisher) *BillingHandler {
	return NewBillingHandler(publisher, zap.NewNop(), testSecret)
}

func TestPublishDueBillingTasksHandler(t *testing.T) {
	publisher := new(MockTaskPublisher)
	handler := newHandler(publisher)

	publisher.On("PublishDueBillingTasks", mock.Anything, mock.Anything, int32(100)).Return(7, nil)

	req := httptest.NewRequest(http.MethodPost, "/cron/publish-due-billing-tasks", nil)
	req.Header.Set("X-Cron-Secret", testSecret)
	rec := httptest.NewRecorder()

	handler.PublishDueBillingTasks(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PublishTasksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 7, resp.Published)
	publisher.AssertExpectations(t)
}

func TestPublishDueBillingTasksHandlerWithBody(t *testing.T) {
	publisher := new(MockTaskPublisher)
	handler := newHandler(publisher)

	asOf := time.Date(2026, time.February, 15, 0, 0, 0, 0, time.UTC)
	publisher.On("PublishDueBillingTasks", mock.Anything, asOf, int32(50)).Return(3, nil)

	body, _ := json.Marshal(map[string]interface{}{
		"as_of_date": "2026-02-15",
		"batch_size": 50,
	})
	req := httptest.NewRequest(http.MethodPost, "/cron/publish-due-billing-tasks", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := httptest.NewRecorder()

	handler.PublishDueBillingTasks(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)
}

func TestPublishDueBillingTasksHandlerRejectsMissingSecret(t *testing.T) {
	publisher := new(MockTaskPublisher)
	handler := newHandler(publisher)

	req := httptest.NewRequest(http.MethodPost, "/cron/publish-due-billing-tasks", nil)
	rec := httptest.NewRecorder()

	handler.PublishDueBillingTasks(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	publisher.AssertNotCalled(t, "PublishDueBillingTasks", mock.Anything, mock.Anything, mock.Anything)
}

func TestPublishDueBillingTasksHandlerRejectsWrongSecret(t *testing.T) {
	publisher := new(MockTaskPublisher)
	handler := newHandler(publisher)

	req := httptest.NewRequest(http.MethodPost, "/cron/publish-due-billing-tasks", nil)
	req.Header.Set("X-Cron-Secret", "wrong")
	rec := httptest.NewRecorder()

	handler.PublishDueBillingTasks(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPublishDueBillingTasksHandlerRejectsGet(t *testing.T) {
	publisher := new(MockTaskPublisher)
	handler := newHandler(publisher)

	req := httptest.NewRequest(http.MethodGet, "/cron/publish-due-billing-tasks", nil)
	req.Header.Set("X-Cron-Secret", testSecret)
	rec := httptest.NewRecorder()

	handler.PublishDueBillingTasks(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPublishDueBillingTasksHandlerValidatesBatchSize(t *testing.T) {
	publisher := new(MockTaskPublisher)
	handler := newHandler(publisher)

	body, _ := json.Marshal(map[string]interface{}{"batch_size": 5000})
	req := httptest.NewRequest(http.MethodPost, "/cron/publish-due-billing-tasks", bytes.NewReader(body))
	req.Header.Set("X-Cron-Secret", testSecret)
	rec := httptest.NewRecorder()

	handler.PublishDueBillingTasks(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	publisher.AssertNotCalled(t, "PublishDueBillingTasks", mock.Anything, mock.Anything, mock.Anything)
}

func TestPublishDueBillingTasksHandlerValidatesDate(t *testing.T) {
	publisher := new(MockTaskPublisher)
	handler := newHandler(publisher)

	body, _ := json.Marshal(map[string]interface{}{"as_of_date": "15/02/2026"})
	req := httptest.NewRequest(http.MethodPost, "/cron/publish-due-billing-tasks", bytes.NewReader(body))
	req.Header.Set("X-Cron-Secret", testSecret)
	rec := httptest.NewRecorder()

	handler.PublishDueBillingTasks(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
