package metrics

import (
	"net/http"
	"time"

	"perparb/internal/domain/model"
	"perparb/internal/infrastructure/stats"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process's prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	records       *prometheus.CounterVec
	connState     *prometheus.GaugeVec
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	opportunities prometheus.Gauge
}

func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Ingested records by exchange, category and outcome.",
			},
			[]string{"exchange", "category", "outcome"},
		),
		connState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_state",
				Help:      "Connector state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 closed).",
			},
			[]string{"exchange"},
		),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregation_cycles_total",
				Help:      "Aggregation cycles by result.",
			},
			[]string{"result"},
		),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_cycle_seconds",
			Help:      "Aggregation cycle duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		opportunities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "opportunities",
			Help:      "Opportunities in the last published result.",
		}),
	}
	m.registry.MustRegister(
		m.records, m.connState, m.cycles, m.cycleDuration, m.opportunities,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe implements stats.Observer.
func (m *Metrics) Observe(exchange string, cat stats.Category, outcome stats.Outcome, n int) {
	m.records.WithLabelValues(exchange, string(cat), string(outcome)).Add(float64(n))
}

func (m *Metrics) SetConnectionState(exchange string, st model.ConnectionState) {
	m.connState.WithLabelValues(exchange).Set(float64(st))
}

func (m *Metrics) CycleCompleted(d time.Duration, opportunities int) {
	m.cycles.WithLabelValues("ok").Inc()
	m.cycleDuration.Observe(d.Seconds())
	m.opportunities.Set(float64(opportunities))
}

func (m *Metrics) CycleSkipped() { m.cycles.WithLabelValues("skipped").Inc() }

func (m *Metrics) CycleFailed() { m.cycles.WithLabelValues("failed").Inc() }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
