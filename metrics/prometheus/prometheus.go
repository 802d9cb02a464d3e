// Package prometheus reports cache metrics to a Prometheus registry.
package prometheus

import (
	"sync"

	"github.com/learnwise/cachecore/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements metrics.Collector on top of Prometheus metrics.
type Collector struct {
	registry prometheus.Registerer

	mu         sync.RWMutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

var _ metrics.Collector = (*Collector)(nil)

// New creates a collector. A nil registry uses prometheus.DefaultRegisterer.
func New(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	return &Collector{
		registry:   registry,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

func (c *Collector) IncCounter(name string, delta int64) {
	c.counter(name).Add(float64(delta))
}

func (c *Collector) SetGauge(name string, value int64) {
	c.gauge(name).Set(float64(value))
}

func (c *Collector) ObserveHistogram(name string, value float64) {
	c.histogram(name).Observe(value)
}

// register returns the collector already registered under the same
// descriptor when there is one.
func register[T prometheus.Collector](reg prometheus.Registerer, m T) T {
	if err := reg.Register(m); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return m
}

func (c *Collector) counter(name string) prometheus.Counter {
	c.mu.RLock()
	counter, ok := c.counters[name]
	c.mu.RUnlock()
	if ok {
		return counter
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if counter, ok = c.counters[name]; ok {
		return counter
	}
	counter = register(c.registry, prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: name}))
	c.counters[name] = counter
	return counter
}

func (c *Collector) gauge(name string) prometheus.Gauge {
	c.mu.RLock()
	gauge, ok := c.gauges[name]
	c.mu.RUnlock()
	if ok {
		return gauge
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gauge, ok = c.gauges[name]; ok {
		return gauge
	}
	gauge = register(c.registry, prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: name}))
	c.gauges[name] = gauge
	return gauge
}

func (c *Collector) histogram(name string) prometheus.Histogram {
	c.mu.RLock()
	histogram, ok := c.histograms[name]
	c.mu.RUnlock()
	if ok {
		return histogram
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if histogram, ok = c.histograms[name]; ok {
		return histogram
	}
	histogram = register(c.registry, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    name,
		Help:    name,
		Buckets: prometheus.DefBuckets,
	}))
	c.histograms[name] = histogram
	return histogram
}
