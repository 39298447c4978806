package resolution

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the resolution client's Prometheus collectors. A nil
// *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmcnotebook",
			Subsystem: "resolution",
			Name:      "requests_total",
			Help:      "Resolution service calls by outcome.",
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tmcnotebook",
			Subsystem: "resolution",
			Name:      "request_duration_seconds",
			Help:      "Latency of resolution service calls including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmcnotebook",
			Subsystem: "resolution",
			Name:      "retries_total",
			Help:      "Resolution calls retried after a network failure.",
		}, []string{"operation"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.requests, m.duration, m.retries} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observe(op string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	m.requests.WithLabelValues(op, status).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) retried(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}
