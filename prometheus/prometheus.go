// Package prometheus provides a Prometheus backed implementation of the
// event store MetricsCollector interface
package prometheus

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ParikhKadam/eventsourcing"
)

var _ eventsourcing.MetricsCollector = (*Collector)(nil)

// Default histogram buckets for latency metrics (in seconds)
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// NewCollector creates a collector which registers its metrics with reg.
// Histogram and counter vectors are created lazily on first use, keyed by
// metric name, with label names taken from the first observation
func NewCollector(reg prometheus.Registerer, opts ...Option) *Collector {
	c := Collector{
		reg:        reg,
		buckets:    defaultBuckets,
		histograms: map[string]*prometheus.HistogramVec{},
		counters:   map[string]*prometheus.CounterVec{},
	}

	for _, opt := range opts {
		opt(&c)
	}

	return &c
}

// Option represents a collector configuration option
type Option func(*Collector)

// WithBuckets overrides the default histogram buckets
func WithBuckets(buckets []float64) Option {
	return func(c *Collector) { c.buckets = buckets }
}

// Collector implements eventsourcing.MetricsCollector on top of
// prometheus histogram and counter vectors
type Collector struct {
	reg     prometheus.Registerer
	buckets []float64

	mu         sync.Mutex
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
}

// RecordDuration observes duration on the histogram registered under metric
func (c *Collector) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	c.histogram(metric, labels).With(labels).Observe(duration.Seconds())
}

// IncrementCounter increments the counter registered under metric
func (c *Collector) IncrementCounter(metric string, labels map[string]string) {
	c.counter(metric, labels).With(labels).Inc()
}

// AddCounter adds delta to the counter registered under metric
func (c *Collector) AddCounter(metric string, delta float64, labels map[string]string) {
	c.counter(metric, labels).With(labels).Add(delta)
}

func (c *Collector) histogram(metric string, labels map[string]string) *prometheus.HistogramVec {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.histograms[metric]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metric,
			Help:    metric,
			Buckets: c.buckets,
		}, labelNames(labels))

		c.reg.MustRegister(h)

		c.histograms[metric] = h
	}

	return h
}

func (c *Collector) counter(metric string, labels map[string]string) *prometheus.CounterVec {
	c.mu.Lock()
	defer c.mu.Unlock()

	cnt, ok := c.counters[metric]
	if !ok {
		cnt = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metric,
			Help: metric,
		}, labelNames(labels))

		c.reg.MustRegister(cnt)

		c.counters[metric] = cnt
	}

	return cnt
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))

	for name := range labels {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
