// Package metrics exposes the proxy's Prometheus instrumentation: request
// counts and latency, bytes moved per direction, sanitization activity, and
// live session/TLS-handshake gauges and histograms.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds every metric the proxy emits. It is safe for concurrent
// use, since every field is itself a concurrency-safe Prometheus
// collector.
type Recorder struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	bytesIn             prometheus.Counter
	bytesOut            prometheus.Counter
	secretsSanitized    *prometheus.CounterVec
	activeSessions      prometheus.Gauge
	tlsHandshakeSeconds prometheus.Histogram
	hostBlocked         *prometheus.CounterVec
}

// NewRecorder registers and returns a Recorder against reg. Passing
// prometheus.NewRegistry() keeps tests hermetic; passing
// prometheus.DefaultRegisterer wires into the process-wide /metrics
// endpoint.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slapenir",
			Name:      "requests_total",
			Help:      "Total proxied requests by method and response status class.",
		}, []string{"method", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "slapenir",
			Name:      "request_duration_seconds",
			Help:      "Upstream round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "slapenir",
			Name:      "bytes_in_total",
			Help:      "Bytes received from the agent across all sessions.",
		}),

		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "slapenir",
			Name:      "bytes_out_total",
			Help:      "Bytes sent to the agent across all sessions.",
		}),

		secretsSanitized: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slapenir",
			Name:      "secrets_sanitized_total",
			Help:      "Real credential occurrences redacted from responses, by strategy type.",
		}, []string{"strategy_type"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "slapenir",
			Name:      "active_sessions",
			Help:      "Currently open CONNECT tunnels.",
		}),

		tlsHandshakeSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "slapenir",
			Name:      "tls_handshake_seconds",
			Help:      "Time spent completing the agent-facing TLS handshake during interception.",
			Buckets:   prometheus.DefBuckets,
		}),

		hostBlocked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slapenir",
			Name:      "host_blocked_total",
			Help:      "CONNECT attempts rejected by host policy, by reason.",
		}, []string{"reason"}),
	}
}

// Handler returns the promhttp handler to mount at the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (r *Recorder) ObserveRequest(method, statusClass string, seconds float64) {
	r.requestsTotal.WithLabelValues(method, statusClass).Inc()
	r.requestDuration.WithLabelValues(method).Observe(seconds)
}

func (r *Recorder) AddBytesIn(n int)  { r.bytesIn.Add(float64(n)) }
func (r *Recorder) AddBytesOut(n int) { r.bytesOut.Add(float64(n)) }

func (r *Recorder) ObserveSecretsSanitized(strategyType string, count int) {
	if count <= 0 {
		return
	}
	r.secretsSanitized.WithLabelValues(strategyType).Add(float64(count))
}

func (r *Recorder) SessionOpened() { r.activeSessions.Inc() }
func (r *Recorder) SessionClosed() { r.activeSessions.Dec() }

func (r *Recorder) ObserveTLSHandshake(seconds float64) { r.tlsHandshakeSeconds.Observe(seconds) }

func (r *Recorder) ObserveHostBlocked(reason string) { r.hostBlocked.WithLabelValues(reason).Inc() }
