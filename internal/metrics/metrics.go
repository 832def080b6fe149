// Package metrics exposes pipeline counters on a private prometheus
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vtcal"

// Metrics groups every collector the pipeline updates. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sourceEvents   *prometheus.CounterVec
	sourceEmpty    *prometheus.CounterVec
	runs           *prometheus.CounterVec
	newEvents      prometheus.Counter
	calendarPushes *prometheus.CounterVec
	runDuration    prometheus.Summary
	lastSuccessTS  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.sourceEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_events_total",
		Help:      "Events returned by each source adapter",
	}, []string{"source"})
	m.sourceEmpty = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_empty_total",
		Help:      "Fetches that returned no events (including unavailable sources)",
	}, []string{"source"})
	m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Pipeline runs by trigger and outcome",
	}, []string{"trigger", "result"})
	m.newEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "new_events_total",
		Help:      "Events seen for the first time",
	})
	m.calendarPushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calendar_pushes_total",
		Help:      "Calendar writes by result",
	}, []string{"result"})
	m.runDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Time spent in one pipeline run",
	})
	m.lastSuccessTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last committed run",
	})

	m.registry.MustRegister(
		m.sourceEvents, m.sourceEmpty, m.runs, m.newEvents,
		m.calendarPushes, m.runDuration, m.lastSuccessTS,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SourceFetched(source string, n int) {
	if m == nil {
		return
	}
	m.sourceEvents.WithLabelValues(source).Add(float64(n))
	if n == 0 {
		m.sourceEmpty.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) NewEvents(n int) {
	if m == nil {
		return
	}
	m.newEvents.Add(float64(n))
}

func (m *Metrics) CalendarPush(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.calendarPushes.WithLabelValues(result).Inc()
}

// RunFinished records a run outcome ("ok", "error", "superseded", ...).
func (m *Metrics) RunFinished(trigger, result string, took time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(trigger, result).Inc()
	m.runDuration.Observe(took.Seconds())
	if result == "ok" {
		m.lastSuccessTS.Set(float64(at.Unix()))
	}
}
