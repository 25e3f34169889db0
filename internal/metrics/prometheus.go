// Package metrics exposes SpeechLink's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/speechlink/internal/capture"
	"github.com/nerrad567/speechlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/speechlink/internal/utterance"
)

const namespace = "speechlink"

var (
	brokerStates = []mqtt.ConnectionState{
		mqtt.StateDisconnected, mqtt.StateConnecting, mqtt.StateConnected, mqtt.StateClosing,
	}
	captureStates = []capture.State{
		capture.StateIdle, capture.StateRecording, capture.StateFinalizing,
	}
)

// Metrics contains all Prometheus metrics for the client.
type Metrics struct {
	registry *prometheus.Registry

	// Utterance metrics
	Utterances         *prometheus.CounterVec
	UtteranceBytes     prometheus.Histogram
	UtteranceDuration  prometheus.Histogram
	UtteranceFragments prometheus.Histogram

	// State metrics
	BrokerState       *prometheus.GaugeVec
	BrokerTransitions prometheus.Counter
	CaptureState      *prometheus.GaugeVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all metrics on a private registry, which also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		Utterances: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Finished push-to-talk sessions by outcome",
		}, []string{"result"}),
		UtteranceBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_size_bytes",
			Help:      "Size of captured utterances before encoding",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 11), // 1KB to 1MB
		}),
		UtteranceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Time between engage and release",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~1 minute
		}),
		UtteranceFragments: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_fragments",
			Help:      "Number of device fragments per utterance",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),

		BrokerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connection_state",
			Help:      "1 for the current broker connection state, 0 otherwise",
		}, []string{"state"}),
		BrokerTransitions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_state_transitions_total",
			Help:      "Broker connection state changes",
		}),
		CaptureState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_state",
			Help:      "1 for the current push-to-talk state, 0 otherwise",
		}, []string{"state"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.SetBrokerState(mqtt.StateDisconnected)
	m.BrokerTransitions.Add(0)
	m.SetCaptureState(capture.StateIdle)
	return m
}

// ObserveOutcome records a finished session. Empty and undelivered
// sessions are counted but not added to the size histograms.
func (m *Metrics) ObserveOutcome(o utterance.Outcome) {
	m.Utterances.WithLabelValues(string(o.Result)).Inc()
	if o.Result != utterance.ResultPublished {
		return
	}
	m.UtteranceBytes.Observe(float64(o.Size))
	m.UtteranceDuration.Observe(o.Duration.Seconds())
	m.UtteranceFragments.Observe(float64(o.Fragments))
}

// SetBrokerState marks state as the current broker connection state.
func (m *Metrics) SetBrokerState(state mqtt.ConnectionState) {
	for _, s := range brokerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.BrokerState.WithLabelValues(s.String()).Set(v)
	}
}

// RecordBrokerState is the mqtt state-change hook.
func (m *Metrics) RecordBrokerState(state mqtt.ConnectionState) {
	m.BrokerTransitions.Inc()
	m.SetBrokerState(state)
}

// SetCaptureState marks state as the current push-to-talk state.
func (m *Metrics) SetCaptureState(state capture.State) {
	for _, s := range captureStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.CaptureState.WithLabelValues(s.String()).Set(v)
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// Registry returns the registry the metrics live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
