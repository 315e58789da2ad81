// Package metrics exports prefetch activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smart-prefetch/models"
)

const namespace = "prefetch"

// Collector implements scheduler.Listener and records cycle results from
// the engine. Each Collector owns its registry.
type Collector struct {
	registry *prometheus.Registry

	issued       *prometheus.CounterVec
	completed    *prometheus.CounterVec
	retries      prometheus.Counter
	softTimeouts prometheus.Counter
	candidates   *prometheus.CounterVec
	inFlight     prometheus.Gauge
	queued       prometheus.Gauge
	duration     prometheus.Histogram
	cycles       prometheus.Counter
	pressure     prometheus.Counter
	connection   prometheus.Gauge
}

func New() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		issued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issued_total",
			Help:      "Prefetch hints issued, by resource type",
		}, []string{"type"}),
		completed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completed_total",
			Help:      "Prefetch attempts settled, by outcome",
		}, []string{"outcome"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "High-priority prefetches issued a second time",
		}),
		softTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "soft_timeouts_total",
			Help:      "Prefetches that never reported back in time",
		}),
		candidates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Prediction candidates produced, by reason",
		}, []string{"reason"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Prefetches currently in flight",
		}),
		queued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued",
			Help:      "Candidates waiting for a concurrency slot",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "Time from issue to completion of successful prefetches",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Prediction cycles completed",
		}),
		pressure: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_pressure_total",
			Help:      "Memory pressure signals handled",
		}),
		connection: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_class",
			Help:      "Current connection class (0 offline, 1 slow, 2 medium, 3 fast)",
		}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) PrefetchIssued(rec models.PrefetchRecord) {
	c.issued.WithLabelValues(string(rec.Type)).Inc()
	c.inFlight.Inc()
	if rec.Attempts > 1 {
		c.retries.Inc()
	}
}

func (c *Collector) PrefetchCompleted(rec models.PrefetchRecord) {
	c.inFlight.Dec()
	if rec.State == models.StateDone {
		c.completed.WithLabelValues("done").Inc()
		c.duration.Observe(rec.LoadTime().Seconds())
		return
	}
	c.completed.WithLabelValues("failed").Inc()
	if rec.TimedOut {
		c.softTimeouts.Inc()
	}
}

// CycleCompleted records the candidates of one prediction cycle and the
// queue depth after it.
func (c *Collector) CycleCompleted(cands []models.PredictionCandidate, queued int) {
	c.cycles.Inc()
	for _, cand := range cands {
		c.candidates.WithLabelValues(string(cand.Reason)).Inc()
	}
	c.queued.Set(float64(queued))
}

func (c *Collector) MemoryPressure() {
	c.pressure.Inc()
}

func (c *Collector) ConnectionChanged(class models.ConnectionClass) {
	c.connection.Set(float64(class))
}
