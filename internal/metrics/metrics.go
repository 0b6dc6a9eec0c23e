// Package metrics exposes engine activity as Prometheus metrics.
//
// A Collector is an engine.Observer with its own registry, so several
// engines in one process (tests, for instance) never share counters.
package metrics

import (
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/talves-forked/toast/internal/engine"
)

const namespace = "toast"

// Collector records engine events.
//
// Thread-safety: safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	queries     *prometheus.CounterVec
	executions  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inputWrites prometheus.Counter
	inputBytes  prometheus.Counter
	revision    prometheus.Gauge
}

var _ engine.Observer = (*Collector)(nil)

// New creates a Collector with a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Query resolutions by rule and outcome.",
		}, []string{"rule", "outcome"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_executions_total",
			Help:      "Rule body runs that produced a value.",
		}, []string{"rule"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time to resolve a query, by rule.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"rule"}),
		inputWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_writes_total",
			Help:      "Input Store writes.",
		}),
		inputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_bytes_total",
			Help:      "Bytes written to the Input Store.",
		}),
		revision: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "revision",
			Help:      "Current revision.",
		}),
	}

	c.registry.MustRegister(
		c.queries,
		c.executions,
		c.duration,
		c.inputWrites,
		c.inputBytes,
		c.revision,
	)
	return c
}

// Watch exports gauges read from e at scrape time.
// Call at most once per collector.
func (c *Collector) Watch(e *engine.Engine) error {
	memo := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memo_entries",
		Help:      "Entries in the memoization table.",
	}, func() float64 { return float64(e.MemoCount()) })

	if err := c.registry.Register(memo); err != nil {
		return fmt.Errorf("watch engine: %w", err)
	}
	return nil
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// InputWritten counts an input write.
func (c *Collector) InputWritten(ev engine.InputEvent) {
	c.inputWrites.Inc()
	c.inputBytes.Add(float64(ev.Size))
	c.revision.Set(float64(ev.Revision))
}

// QueryResolved counts a query resolution.
func (c *Collector) QueryResolved(ev engine.QueryEvent) {
	rule := ev.Key.Rule
	c.queries.WithLabelValues(rule, string(ev.Outcome)).Inc()
	if ev.Outcome.Ran() {
		c.executions.WithLabelValues(rule).Inc()
	}
	c.duration.WithLabelValues(rule).Observe(ev.Duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WriteText writes every metric family in the text exposition format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
