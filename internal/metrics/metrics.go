package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schematichub/overview-gateway/internal/relay"
)

const namespace = "overview_gateway"

// Batch commit outcomes recorded by RecordCommit.
const (
	OutcomeProcessed   = "processed"
	OutcomeSkipped     = "skipped"
	OutcomeFailed      = "failed"
	OutcomeRateLimited = "rate_limited"
	OutcomeCancelled   = "cancelled"
)

// Collector owns a private Prometheus registry. Each instance is independent
// so tests and multiple servers never collide on registration.
type Collector struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	throttled       prometheus.Counter

	streamsActive prometheus.Gauge
	relayEvents   *prometheus.CounterVec
	decodeErrors  prometheus.Counter

	batchRuns    *prometheus.CounterVec
	batchCommits *prometheus.CounterVec
}

// NewCollector creates a Collector with Go runtime and process collectors
// registered alongside the gateway metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_throttled_total",
			Help:      "Requests rejected by the inbound token bucket.",
		}),
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_streams_active",
			Help:      "Relay streams currently open.",
		}),
		relayEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_total",
			Help:      "Outbound relay events by kind.",
		}, []string{"kind"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_decode_errors_total",
			Help:      "Upstream data lines that could not be decoded.",
		}),
		batchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Batch runs by trigger and result.",
		}, []string{"trigger", "result"}),
		batchCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_commits_total",
			Help:      "Commits visited by batch runs, by outcome.",
		}, []string{"outcome"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requests, c.requestDuration, c.throttled,
		c.streamsActive, c.relayEvents, c.decodeErrors,
		c.batchRuns, c.batchCommits,
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the scrape endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one finished HTTP request.
func (c *Collector) RecordRequest(route string, code int, duration time.Duration) {
	c.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottled counts one inbound rejection.
func (c *Collector) RecordThrottled() { c.throttled.Inc() }

// StreamOpened and StreamClosed bracket a relay stream.
func (c *Collector) StreamOpened() { c.streamsActive.Inc() }

func (c *Collector) StreamClosed() { c.streamsActive.Dec() }

// ObserveEvent implements relay.Observer.
func (c *Collector) ObserveEvent(kind relay.EventKind) {
	c.relayEvents.WithLabelValues(kind.String()).Inc()
}

// ObserveDecodeError implements relay.Observer.
func (c *Collector) ObserveDecodeError(error) { c.decodeErrors.Inc() }

// RecordCommit counts one commit visited by a batch run.
func (c *Collector) RecordCommit(outcome string) {
	c.batchCommits.WithLabelValues(outcome).Inc()
}

// RecordRun counts one finished batch run.
func (c *Collector) RecordRun(trigger, result string) {
	c.batchRuns.WithLabelValues(trigger, result).Inc()
}

var _ relay.Observer = (*Collector)(nil)
