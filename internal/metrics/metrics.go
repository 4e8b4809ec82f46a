package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pillminder"

// Metrics owns a private registry so tests can build as many as they like.
// All record methods are safe on a nil receiver.
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	remindersScheduled prometheus.Counter
	remindersFailed    prometheus.Counter
	remindersCancelled *prometheus.CounterVec
	remindersDelivered *prometheus.CounterVec
	followUps          prometheus.Counter
	actions            *prometheus.CounterVec
	alerts             *prometheus.CounterVec
	storeLatency       *prometheus.HistogramVec
	requestsBlocked    prometheus.Counter
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		remindersScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_scheduled_total",
			Help:      "Daily reminder registrations that succeeded.",
		}),
		remindersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_failed_total",
			Help:      "Reminder registrations that failed.",
		}),
		remindersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_cancelled_total",
			Help:      "Reminder cancellations by result.",
		}, []string{"result"}),
		remindersDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_delivered_total",
			Help:      "Reminder deliveries by sink.",
		}, []string{"sink", "result"}),
		followUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "follow_ups_scheduled_total",
			Help:      "One-off follow-up reminders scheduled.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dose_actions_total",
			Help:      "Dose actions by kind.",
		}, []string{"kind"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "caretaker_alerts_total",
			Help:      "Caretaker alerts by outcome.",
		}, []string{"outcome"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_op_seconds",
			Help:      "Store operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"op", "blob"}),
		requestsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rate_limited_total",
			Help:      "API requests rejected by the rate limiter.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.remindersScheduled,
		m.remindersFailed,
		m.remindersCancelled,
		m.remindersDelivered,
		m.followUps,
		m.actions,
		m.alerts,
		m.storeLatency,
		m.requestsBlocked,
	)
	return m
}

func (m *Metrics) RecordReminderScheduled(success bool) {
	if m == nil {
		return
	}
	if success {
		m.remindersScheduled.Inc()
	} else {
		m.remindersFailed.Inc()
	}
}

func (m *Metrics) RecordReminderCancelled(success bool) {
	if m == nil {
		return
	}
	m.remindersCancelled.WithLabelValues(result(success)).Inc()
}

func (m *Metrics) RecordDelivery(sink string, success bool) {
	if m == nil {
		return
	}
	m.remindersDelivered.WithLabelValues(sink, result(success)).Inc()
}

func (m *Metrics) RecordFollowUp() {
	if m == nil {
		return
	}
	m.followUps.Inc()
}

func (m *Metrics) RecordAction(kind string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(kind).Inc()
}

// RecordAlert takes one of "sent", "simulated", "skipped".
func (m *Metrics) RecordAlert(outcome string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStore(op, blob string, d time.Duration) {
	if m == nil {
		return
	}
	m.storeLatency.WithLabelValues(op, blob).Observe(d.Seconds())
}

func (m *Metrics) RecordRequestBlocked() {
	if m == nil {
		return
	}
	m.requestsBlocked.Inc()
}

func (m *Metrics) Uptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func result(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}
