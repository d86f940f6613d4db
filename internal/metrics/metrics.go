package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wablast/wablast/internal/events"
)

// Metrics holds all Prometheus metrics for wablast.
type Metrics struct {
	MessagesSentTotal   *prometheus.CounterVec
	MessagesFailedTotal *prometheus.CounterVec

	RunsTotal          *prometheus.CounterVec
	ActiveRun          prometheus.Gauge
	RunDurationSeconds prometheus.Histogram

	AccountsReady prometheus.Gauge

	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered on a private
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wablast_messages_sent_total",
				Help: "Total number of successfully sent campaign messages",
			},
			[]string{"account"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wablast_messages_failed_total",
				Help: "Total number of failed campaign messages",
			},
			[]string{"account"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wablast_runs_total",
				Help: "Total number of campaign runs by terminal status",
			},
			[]string{"status"},
		),
		ActiveRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wablast_active_run",
				Help: "Whether a campaign run is currently active (0 or 1)",
			},
		),
		RunDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wablast_run_duration_seconds",
				Help:    "Duration of campaign runs",
				Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400},
			},
		),
		AccountsReady: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wablast_accounts_ready",
				Help: "Number of messaging accounts currently ready to send",
			},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wablast_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wablast_api_request_duration_seconds",
				Help:    "API request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.RunsTotal,
		m.ActiveRun,
		m.RunDurationSeconds,
		m.AccountsReady,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
	)

	return m
}

// Registry returns the private registry for the metrics HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveEvent translates a campaign event into metric updates. The app
// subscribes this to the event bus so the execution core stays free of
// metric plumbing.
func (m *Metrics) ObserveEvent(ev events.Event) {
	switch ev.Type {
	case events.TypeStarted:
		m.ActiveRun.Set(1)
	case events.TypeProgress:
		// SentCount/FailedCount are cumulative; count the delta via the
		// per-message account label instead.
		if ev.Error == "" {
			m.MessagesSentTotal.WithLabelValues(strconv.Itoa(ev.Account)).Inc()
		} else {
			m.MessagesFailedTotal.WithLabelValues(strconv.Itoa(ev.Account)).Inc()
		}
	case events.TypeComplete:
		m.ActiveRun.Set(0)
		m.RunsTotal.WithLabelValues("completed").Inc()
	case events.TypeError:
		m.ActiveRun.Set(0)
		m.RunsTotal.WithLabelValues("failed").Inc()
	}
}
