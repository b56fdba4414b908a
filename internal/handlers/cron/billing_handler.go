package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/subflow/billing-service/pkg/timeutil"
	"go.uber.org/zap"
)

// TaskPublisher publishes billing tasks for due subscriptions
type TaskPublisher interface {
	PublishDueBillingTasks(ctx context.Context, asOf time.Time, batchSize int32) (int, error)
}

// BillingHandler handles cron job endpoints for scheduled billing
type BillingHandler struct {
	publisher  TaskPublisher
	logger     *zap.Logger
	cronSecret string
}

// NewBillingHandler creates a new billing cron handler
func NewBillingHandler(publisher TaskPublisher, logger *zap.Logger, cronSecret string) *BillingHandler {
	return &BillingHandler{
		publisher:  publisher,
		logger:     logger,
		cronSecret: cronSecret,
	}
}

// PublishTasksRequest represents the request body for the scheduler trigger
type PublishTasksRequest struct {
	AsOfDate  *string `json:"as_of_date"` // Optional: ISO date string, defaults to today
	BatchSize *int    `json:"batch_size"` // Optional: defaults to 100
}

// PublishTasksResponse represents the response from task publishing
type PublishTasksResponse struct {
	Success     bool   `json:"success"`
	Published   int    `json:"published"`
	ProcessedAt string `json:"processed_at"`
}

// PublishDueBillingTasks handles POST /cron/publish-due-billing-tasks.
// The scheduler calls this to fan due subscriptions out into the task queue;
// the queue consumers do the actual billing.
func (h *BillingHandler) PublishDueBillingTasks(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Billing cron job triggered",
		zap.String("method", r.Method),
		zap.String("remote_addr", r.RemoteAddr),
	)

	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}

	if !h.authenticateRequest(r) {
		h.logger.Warn("Unauthorized cron request",
			zap.String("remote_addr", r.RemoteAddr),
		)
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req PublishTasksRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.logger.Warn("Failed to parse request body", zap.Error(err))
			// Continue with defaults if parsing fails
		}
	}

	asOf := timeutil.Now()
	if req.AsOfDate != nil {
		parsed, err := timeutil.ParseDate("2006-01-02", *req.AsOfDate)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid as_of_date format: %v", err))
			return
		}
		asOf = parsed
	}

	batchSize := 100
	if req.BatchSize != nil {
		if *req.BatchSize < 1 || *req.BatchSize > 1000 {
			h.respondError(w, http.StatusBadRequest, "batch_size must be between 1 and 1000")
			return
		}
		batchSize = *req.BatchSize
	}

	published, err := h.publisher.PublishDueBillingTasks(r.Context(), asOf, int32(batchSize))
	if err != nil {
		h.logger.Error("Publishing due billing tasks failed", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "publishing billing tasks failed")
		return
	}

	h.logger.Info("Due billing tasks published",
		zap.Int("published", published),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(PublishTasksResponse{
		Success:     true,
		Published:   published,
		ProcessedAt: timeutil.Now().Format(time.RFC3339),
	}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// HealthCheck handles GET /cron/health for monitoring
func (h *BillingHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := map[string]interface{}{
		"status": "healthy",
		"time":   timeutil.Now().Format(time.RFC3339),
	}

	json.NewEncoder(w).Encode(resp)
}

// authenticateRequest verifies the cron request is authorized
func (h *BillingHandler) authenticateRequest(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}

	if secret := r.Header.Get("X-Cron-Secret"); secret == h.cronSecret {
		return true
	}

	if r.Header.Get("Authorization") == "Bearer "+h.cronSecret {
		return true
	}

	return false
}

// respondError sends an error response
func (h *BillingHandler) respondError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := map[string]interface{}{
		"success": false,
		"error":   message,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}
