package geometry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the cache's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	lookups *prometheus.CounterVec
	entries prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmcnotebook",
			Subsystem: "geometry_cache",
			Name:      "lookups_total",
			Help:      "Feature lookups by result.",
		}, []string{"result"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tmcnotebook",
			Subsystem: "geometry_cache",
			Name:      "entries",
			Help:      "Features currently cached.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.lookups, m.entries} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) lookup(hits, misses int) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues("hit").Add(float64(hits))
	m.lookups.WithLabelValues("miss").Add(float64(misses))
}

func (m *Metrics) size(n int) {
	if m == nil {
		return
	}
	m.entries.Set(float64(n))
}
