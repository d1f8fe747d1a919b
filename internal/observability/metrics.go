package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce              sync.Once
	httpDurationHistogram     *prometheus.HistogramVec
	transitionCounter         *prometheus.CounterVec
	webhookCounter            *prometheus.CounterVec
	gatewayCallCounter        *prometheus.CounterVec
	idempotencyCounter        *prometheus.CounterVec
	notificationDroppedTotal  prometheus.Counter
	pendingBankApprovalsGauge prometheus.Gauge
	workerRunCounter          *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "merchant_status_transitions_total",
			Help: "Committed merchant status transitions",
		}, []string{"from", "to"})

		webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bank_webhook_events_total",
			Help: "Bank decision webhook outcomes",
		}, []string{"outcome"})

		gatewayCallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bank_gateway_calls_total",
			Help: "Outbound bank partner call outcomes",
		}, []string{"operation", "result"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		notificationDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_dropped_total",
			Help: "Notifications dropped because the dispatch queue was full",
		})

		pendingBankApprovalsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "merchants_pending_bank_approval",
			Help: "Applications currently awaiting the bank partner decision",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			transitionCounter,
			webhookCounter,
			gatewayCallCounter,
			idempotencyCounter,
			notificationDroppedTotal,
			pendingBankApprovalsGauge,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementTransition(from, to string) {
	if transitionCounter == nil {
		return
	}
	transitionCounter.WithLabelValues(from, to).Inc()
}

func IncrementWebhookEvent(outcome string) {
	if webhookCounter == nil {
		return
	}
	webhookCounter.WithLabelValues(outcome).Inc()
}

func IncrementGatewayCall(operation, result string) {
	if gatewayCallCounter == nil {
		return
	}
	gatewayCallCounter.WithLabelValues(operation, result).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementNotificationDropped() {
	if notificationDroppedTotal == nil {
		return
	}
	notificationDroppedTotal.Inc()
}

func SetPendingBankApprovals(count int64) {
	if pendingBankApprovalsGauge == nil {
		return
	}
	pendingBankApprovalsGauge.Set(float64(count))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
