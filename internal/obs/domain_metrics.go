package obs

import "github.com/prometheus/client_golang/prometheus"

// CartMetrics groups Prometheus collectors for cart domain activity.
type CartMetrics struct {
	Mutations         *prometheus.CounterVec
	Migrations        *prometheus.CounterVec
	PayloadRejections *prometheus.CounterVec
}

// NewCartMetrics registers and returns cart domain collectors.
func NewCartMetrics(namespace string, reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &CartMetrics{
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Total number of cart mutations by operation.",
		}, []string{"operation"}),
		Migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_migrations_total",
			Help:      "Total number of cart migrations by kind and result.",
		}, []string{"kind", "result"}),
		PayloadRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_payload_rejections_total",
			Help:      "Total number of writes rejected by the payload size ceiling.",
		}, []string{"operation"}),
	}
	m.Mutations = registerCounterVec(reg, m.Mutations)
	m.Migrations = registerCounterVec(reg, m.Migrations)
	m.PayloadRejections = registerCounterVec(reg, m.PayloadRejections)
	return m
}
