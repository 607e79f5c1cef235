package httpdrive

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements Metrics on top of github.com/prometheus/client_golang,
// generalizing DefaultMetrics' atomic counters into registerable collectors.
type PrometheusMetrics struct {
	callsStarted     prometheus.Counter
	callDuration     *prometheus.HistogramVec
	bytesTransmitted prometheus.Counter
	bytesReceived    prometheus.Counter
	redirectsFollowed prometheus.Counter
}

// NewPrometheusMetrics builds a PrometheusMetrics and registers its
// collectors with reg. Pass prometheus.DefaultRegisterer for the global
// registry.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	m := &PrometheusMetrics{
		callsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Number of calls started by the driver.",
		}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds, labeled by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		bytesTransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_transmitted_total",
			Help:      "Request body bytes handed out for transmission, including chunk framing.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Response body bytes decoded from received data.",
		}),
		redirectsFollowed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirects_followed_total",
			Help:      "Redirection responses followed.",
		}),
	}
	reg.MustRegister(m.callsStarted, m.callDuration, m.bytesTransmitted, m.bytesReceived, m.redirectsFollowed)
	return m
}

func (m *PrometheusMetrics) CallStarted() { m.callsStarted.Inc() }

func (m *PrometheusMetrics) CallCompleted(outcome Outcome, d time.Duration) {
	m.callDuration.WithLabelValues(string(outcome)).Observe(d.Seconds())
}

func (m *PrometheusMetrics) BytesTransmitted(n int64) { m.bytesTransmitted.Add(float64(n)) }
func (m *PrometheusMetrics) BytesReceived(n int64)    { m.bytesReceived.Add(float64(n)) }
func (m *PrometheusMetrics) RedirectFollowed()        { m.redirectsFollowed.Inc() }
