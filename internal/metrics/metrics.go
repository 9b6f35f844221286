package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	UpdatesReceived    *prometheus.CounterVec
	UpdatesDuplicate   prometheus.Counter
	TelegramRequests   *prometheus.CounterVec
	TelegramLatency    *prometheus.HistogramVec
	InboxWrites        *prometheus.CounterVec
	ReplyDispatch      *prometheus.CounterVec
	ContactSubmissions *prometheus.CounterVec
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			UpdatesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telegram_updates_total",
				Help:      "Total Telegram updates received by type.",
			}, []string{"type"}),
			UpdatesDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telegram_updates_duplicate_total",
				Help:      "Telegram updates dropped because their update_id was already claimed.",
			}),
			TelegramRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telegram_requests_total",
				Help:      "Total Telegram Bot API requests by method and status.",
			}, []string{"method", "status"}),
			TelegramLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "telegram_request_duration_seconds",
				Help:      "Latency distribution for Telegram Bot API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method", "status"}),
			InboxWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbox_writes_total",
				Help:      "Inbox store writes by operation and status.",
			}, []string{"operation", "status"}),
			ReplyDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reply_dispatch_total",
				Help:      "Operator reply deliveries by channel and outcome.",
			}, []string{"channel", "outcome"}),
			ContactSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "contact_submissions_total",
				Help:      "Public contact form submissions by outcome.",
			}, []string{"outcome"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.UpdatesReceived,
			metricsInstance.UpdatesDuplicate,
			metricsInstance.TelegramRequests,
			metricsInstance.TelegramLatency,
			metricsInstance.InboxWrites,
			metricsInstance.ReplyDispatch,
			metricsInstance.ContactSubmissions,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}

// Error increments the error counter for component. Safe on a nil receiver.
func (m *Metrics) Error(component string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component).Inc()
}
