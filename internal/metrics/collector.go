// Package metrics exposes routing activity in Prometheus format. Counters
// are fed from the internal event bus so the routing code stays unaware of them.
package metrics

import (
	"net/http"
	"time"

	"automove/internal/bus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "automove"

// Collector owns a private registry with the automove metrics.
type Collector struct {
	registry *prometheus.Registry
	start    time.Time

	events      *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	relocations prometheus.Counter
	failures    prometheus.Counter
	latency     prometheus.Histogram
	storage     prometheus.Counter
}

// New creates a collector. Go runtime and process metrics are included.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		start:    time.Now(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Reply events received, by source.",
		}, []string{"source"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Routing decisions, by kind and reason.",
		}, []string{"kind", "reason"}),
		relocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relocations_total",
			Help:      "Channels moved to another category.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relocation_failures_total",
			Help:      "Moves rejected or not completed by the host.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relocation_latency_seconds",
			Help:      "Time spent moving a channel, including rate limiting.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		storage: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_unavailable_total",
			Help:      "Events dropped because the config store was unreachable.",
		}),
	}

	c.registry.MustRegister(
		c.events,
		c.decisions,
		c.relocations,
		c.failures,
		c.latency,
		c.storage,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the collector was created.",
		}, func() float64 { return time.Since(c.start).Seconds() }),
	)
	return c
}

// WatchPending exposes the number of scheduled closing moves.
func (c *Collector) WatchPending(pending func() int) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_closes",
		Help:      "Closing moves waiting for their delay to elapse.",
	}, func() float64 { return float64(pending()) }))
}

// Subscribe feeds the collector from eb. It returns the handler id for eb.Off("*", id).
func (c *Collector) Subscribe(eb *bus.EventBus) string {
	return eb.On("*", c.observe)
}

func (c *Collector) observe(e bus.Event) {
	switch e.Type {
	case bus.EventReplyReceived:
		source := e.Source
		if source == "" {
			source = "unknown"
		}
		c.events.WithLabelValues(source).Inc()
	case bus.EventDecided:
		c.decisions.WithLabelValues(string(e.Decision.Kind), e.Decision.Reason).Inc()
	case bus.EventRelocated:
		c.relocations.Inc()
		c.latency.Observe(e.Latency.Seconds())
	case bus.EventRelocationFailed:
		c.failures.Inc()
		c.latency.Observe(e.Latency.Seconds())
	case bus.EventStorageUnavailable:
		c.storage.Inc()
	}
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Uptime() time.Duration { return time.Since(c.start) }

// Handler renders the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
