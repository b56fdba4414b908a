package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Billing attempt metrics
	billingAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_attempts_total",
		Help: "Total billing passes executed by the orchestrator",
	}, []string{
		"result",       // success, failed, skipped
		"failure_type", // standardized failure taxonomy, empty on success
		"is_retry",     // true for retry/manual_retry tasks
	})

	billingRevenueCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_revenue_cents_total",
		Help: "Total successfully charged amount in cents",
	}, []string{
		"currency",
		"billing_cycle",
	})

	billingRetriesQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_retries_queued_total",
		Help: "Retry tasks published after transient payment failures",
	})

	gracePeriodEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_grace_period_entries_total",
		Help: "Subscriptions moved into grace period after payment failure",
	}, []string{
		"failure_type",
	})

	// Gateway call metrics
	gatewayChargeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_charge_duration_seconds",
		Help:    "Time spent in payment gateway charge calls",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{
		"gateway",
		"status", // approved, declined, error
	})

	// Task queue consumer metrics
	consumerTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_consumer_tasks_total",
		Help: "Billing tasks processed by the queue consumer",
	}, []string{
		"task_type",
		"outcome", // acked, rejected, requeued, lock_contended
	})

	tasksPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_tasks_published_total",
		Help: "Billing tasks published to the task queue",
	}, []string{
		"task_type",
		"delayed", // true when published with a delivery delay
	})
)

// RecordBillingAttempt records the outcome of one billing pass
func RecordBillingAttempt(result, failureType string, isRetry bool) {
	billingAttemptsTotal.WithLabelValues(result, failureType, boolLabel(isRetry)).Inc()
}

// RecordBillingRevenue records a successfully charged amount.
// Only called for settled charges.
func RecordBillingRevenue(currency, billingCycle string, amountCents int64) {
	billingRevenueCents.WithLabelValues(currency, billingCycle).Add(float64(amountCents))
}

// RecordRetryQueued records a published retry task
func RecordRetryQueued() {
	billingRetriesQueued.Inc()
}

// RecordGracePeriodEntry records a subscription entering grace period
func RecordGracePeriodEntry(failureType string) {
	gracePeriodEntries.WithLabelValues(failureType).Inc()
}

// RecordGatewayCharge records a gateway charge call
func RecordGatewayCharge(gateway, status string, duration float64) {
	gatewayChargeDuration.WithLabelValues(gateway, status).Observe(duration)
}

// RecordConsumerTask records the consumer's handling of one delivered task
func RecordConsumerTask(taskType, outcome string) {
	consumerTasksTotal.WithLabelValues(taskType, outcome).Inc()
}

// RecordTaskPublished records a task handed to the queue
func RecordTaskPublished(taskType string, delayed bool) {
	tasksPublishedTotal.WithLabelValues(taskType, boolLabel(delayed)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
