// Package obsmetrics exposes Prometheus metrics for a ConnectionManager:
// how many sessions are open, how deep each session's pipeline runs, and
// how long requests take, broken down by wire protocol and operation kind.
package obsmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for one ConnectionManager.
type Collector struct {
	Registry *prometheus.Registry

	sessionsOpen    *prometheus.GaugeVec
	requestsPending *prometheus.GaugeVec
	pipelineDepth   *prometheus.GaugeVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry. Safe to call
// more than once — each call is independent and does not touch the default
// global registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		sessionsOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "asyncsql_sessions_open",
				Help: "Number of currently open sessions per protocol",
			},
			[]string{"protocol"},
		),
		requestsPending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "asyncsql_requests_pending",
				Help: "Number of requests queued or active across all sessions per protocol",
			},
			[]string{"protocol"},
		),
		pipelineDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "asyncsql_pipeline_depth",
				Help: "Most recently observed queue depth for a pipelining session",
			},
			[]string{"protocol"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "asyncsql_request_duration_seconds",
				Help:    "Duration from request execution to settlement",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"protocol", "op"},
		),
		requestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asyncsql_request_errors_total",
				Help: "Requests that settled with an error, by protocol and operation",
			},
			[]string{"protocol", "op"},
		),
	}

	reg.MustRegister(
		c.sessionsOpen,
		c.requestsPending,
		c.pipelineDepth,
		c.requestDuration,
		c.requestErrors,
	)
	return c
}

// SessionOpened increments the open-session gauge for protocol.
func (c *Collector) SessionOpened(protocol string) {
	c.sessionsOpen.WithLabelValues(protocol).Inc()
}

// SessionClosed decrements the open-session gauge for protocol.
func (c *Collector) SessionClosed(protocol string) {
	c.sessionsOpen.WithLabelValues(protocol).Dec()
}

// RequestEnqueued increments the pending-request gauge for protocol.
func (c *Collector) RequestEnqueued(protocol string) {
	c.requestsPending.WithLabelValues(protocol).Inc()
}

// RequestCompleted decrements the pending-request gauge, observes the
// request's total duration, and counts it as an error if err is non-nil.
func (c *Collector) RequestCompleted(protocol, op string, d time.Duration, err error) {
	c.requestsPending.WithLabelValues(protocol).Dec()
	c.requestDuration.WithLabelValues(protocol, op).Observe(d.Seconds())
	if err != nil {
		c.requestErrors.WithLabelValues(protocol, op).Inc()
	}
}

// SetPipelineDepth records the current queue depth for a pipelining
// session of the given protocol.
func (c *Collector) SetPipelineDepth(protocol string, depth int) {
	c.pipelineDepth.WithLabelValues(protocol).Set(float64(depth))
}
