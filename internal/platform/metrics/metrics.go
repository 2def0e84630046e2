package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the streaming service.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	framesTotal     prometheus.Counter
	samplesTotal    prometheus.Counter
	anomaliesTotal  *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	bufferedSamples prometheus.Gauge
	latestTimestamp prometheus.Gauge
	liveClients     prometheus.Gauge
	liveDropped     prometheus.Counter
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcmini_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcmini_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		framesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcmini_frames_ingested_total",
			Help: "Total number of device frames handed to the buffer manager",
		}),
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcmini_samples_ingested_total",
			Help: "Total number of reference-channel samples that produced timestamps",
		}),
		anomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcmini_ingest_anomalies_total",
			Help: "Malformed or degraded frames absorbed by the ingest path, by kind",
		}, []string{"kind"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dcmini_ingest_duration_seconds",
			Help:    "Time spent inside a single ingest call, sink delivery included",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		bufferedSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dcmini_buffered_samples",
			Help: "Number of timestamp slots currently retained",
		}),
		latestTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dcmini_latest_frame_timestamp_ms",
			Help: "Device-clock timestamp of the last ingested frame",
		}),
		liveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dcmini_live_clients",
			Help: "Number of connected live websocket viewers",
		}),
		liveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcmini_live_messages_dropped_total",
			Help: "Live messages discarded because a viewer could not keep up",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.framesTotal,
		m.samplesTotal,
		m.anomaliesTotal,
		m.ingestDuration,
		m.bufferedSamples,
		m.latestTimestamp,
		m.liveClients,
		m.liveDropped,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// ObserveIngest records one ingest call that produced samples new timestamps.
func (m *Metrics) ObserveIngest(d time.Duration, samples int) {
	m.framesTotal.Inc()
	if samples > 0 {
		m.samplesTotal.Add(float64(samples))
	}
	m.ingestDuration.Observe(d.Seconds())
}

// IncAnomaly counts one absorbed ingest anomaly of the given kind.
func (m *Metrics) IncAnomaly(kind string) {
	m.anomaliesTotal.WithLabelValues(kind).Inc()
}

// SetBuffered sets the retained-sample gauge and the latest device timestamp.
func (m *Metrics) SetBuffered(samples int, latestTimestampMs uint64) {
	m.bufferedSamples.Set(float64(samples))
	m.latestTimestamp.Set(float64(latestTimestampMs))
}

// SetLiveClients sets the live viewer gauge.
func (m *Metrics) SetLiveClients(n int) {
	m.liveClients.Set(float64(n))
}

// IncLiveDropped counts one live message dropped for a slow viewer.
func (m *Metrics) IncLiveDropped() {
	m.liveDropped.Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		inner.ServeHTTP(w, r)
	})
}
