// Package metrics records federation telemetry in Prometheus collectors fed
// by domain.LifecycleHooks.
package metrics

import (
	"context"
	"net/http"

	"github.com/aretw0/max/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so several collectors can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	nodeState     *prometheus.GaugeVec
	transitions   *prometheus.CounterVec
	startLatency  *prometheus.HistogramVec
	restarts      *prometheus.CounterVec
	dispatchTotal *prometheus.CounterVec
	dispatchTime  *prometheus.HistogramVec
	syncRuns      *prometheus.CounterVec
	syncLoaded    *prometheus.CounterVec
}

// NewCollector creates a collector. An empty namespace defaults to "max".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "max"
	}
	c := &Collector{registry: prometheus.NewRegistry()}

	c.nodeState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "state",
			Help:      "Lifecycle state of a node (0=created, 1=starting, 2=running, 3=stopping, 4=stopped, 5=failed)",
		},
		[]string{"kind", "node"},
	)
	c.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by target state",
		},
		[]string{"kind", "to"},
	)
	c.startLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "start_duration_seconds",
			Help:      "Time spent starting a node",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	c.restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "restarts_total",
			Help:      "Automatic restarts of failed children",
		},
		[]string{"kind", "escalated"},
	)
	c.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Dispatched requests by method and error kind",
		},
		[]string{"kind", "method", "err_kind"},
	)
	c.dispatchTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Dispatch latency by method",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"kind", "method"},
	)
	c.syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Finished sync runs by status",
		},
		[]string{"installation", "status"},
	)
	c.syncLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_loaded_total",
			Help:      "Records written by finished sync runs",
		},
		[]string{"installation"},
	)

	c.registry.MustRegister(
		c.nodeState, c.transitions, c.startLatency, c.restarts,
		c.dispatchTotal, c.dispatchTime, c.syncRuns, c.syncLoaded,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Hooks returns lifecycle hooks that feed the collector.
func (c *Collector) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: c.onTransition,
		OnDispatch:   c.onDispatch,
		OnRestart:    c.onRestart,
		OnSync:       c.onSync,
	}
}

func (c *Collector) onTransition(_ context.Context, e *domain.TransitionEvent) {
	kind := string(e.Kind)
	c.nodeState.WithLabelValues(kind, e.NodeID).Set(float64(e.To))
	c.transitions.WithLabelValues(kind, e.To.String()).Inc()
	if e.From == domain.StateStarting {
		c.startLatency.WithLabelValues(kind).Observe(e.Duration.Seconds())
	}
}

func (c *Collector) onDispatch(_ context.Context, e *domain.DispatchEvent) {
	kind := string(e.Kind)
	c.dispatchTotal.WithLabelValues(kind, e.Method, string(e.ErrKind)).Inc()
	c.dispatchTime.WithLabelValues(kind, e.Method).Observe(e.Duration.Seconds())
}

func (c *Collector) onRestart(_ context.Context, e *domain.RestartEvent) {
	escalated := "false"
	if e.Escalated {
		escalated = "true"
	}
	c.restarts.WithLabelValues(string(e.Kind), escalated).Inc()
}

func (c *Collector) onSync(_ context.Context, e *domain.SyncEvent) {
	c.syncRuns.WithLabelValues(e.NodeID, string(e.Status)).Inc()
	c.syncLoaded.WithLabelValues(e.NodeID).Add(float64(e.Loaded))
}
