// Package metrics exports tracker activity as Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/willibrandon/dyno/pkg/recorder"
	"github.com/willibrandon/dyno/pkg/registry"
)

const namespace = "dyno"

// Collector holds the dyno metrics. It satisfies tracker.Observer, so it can
// be attached with tracker.WithObserver, and it can also be fed parsed
// snapshot files.
type Collector struct {
	liveAllocations  prometheus.Gauge
	liveBytes        prometheus.Gauge
	allocations      prometheus.Counter
	frees            prometheus.Counter
	capacityExceeded prometheus.Counter
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		liveAllocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_allocations",
			Help:      "Number of tracked allocations currently live.",
		}),
		liveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_bytes",
			Help:      "Total size of tracked allocations currently live.",
		}),
		allocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Allocations seen, tracked or not.",
		}),
		frees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frees_total",
			Help:      "Frees seen.",
		}),
		capacityExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capacity_exceeded_total",
			Help:      "Allocations left untracked because the registry was full.",
		}),
	}

	for _, m := range []prometheus.Collector{
		c.liveAllocations, c.liveBytes, c.allocations, c.frees, c.capacityExceeded,
	} {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return c, nil
}

// Observe updates the metrics from a tracker event.
func (c *Collector) Observe(e recorder.Event) {
	switch e.Type {
	case recorder.Allocation:
		c.allocations.Inc()
	case recorder.CapacityExceeded:
		c.allocations.Inc()
		c.capacityExceeded.Inc()
	case recorder.Deallocation:
		c.frees.Inc()
	}
	c.liveAllocations.Set(float64(e.Live))
	c.liveBytes.Set(float64(e.LiveBytes))
}

// ObserveSnapshot sets the live gauges from a parsed snapshot file. The
// counters are left alone since a snapshot carries no history.
func (c *Collector) ObserveSnapshot(records []registry.Record) {
	v := registry.ViewOf(records)
	c.liveAllocations.Set(float64(v.Len()))
	c.liveBytes.Set(float64(v.Bytes()))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
