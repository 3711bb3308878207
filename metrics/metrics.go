// Package metrics exports planning and interception events as Prometheus
// metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/glimte/mmate-policy/tracking"
)

const namespace = "mmate_policy"

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

var durationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}

// Collector records tracking events in Prometheus metrics. It implements
// tracking.Sink.
type Collector struct {
	registry *prometheus.Registry

	plansTotal          *prometheus.CounterVec
	planDuration        *prometheus.HistogramVec
	planSteps           prometheus.Histogram
	interceptorsTotal   *prometheus.CounterVec
	interceptorDuration *prometheus.HistogramVec
	pipelinesTotal      *prometheus.CounterVec
	pipelineDuration    prometheus.Histogram
}

// CollectorOption configures a Collector
type CollectorOption func(*collectorOptions)

type collectorOptions struct {
	registry       *prometheus.Registry
	runtimeMetrics bool
}

// WithRegistry registers the metrics on registry instead of a new one
func WithRegistry(registry *prometheus.Registry) CollectorOption {
	return func(o *collectorOptions) {
		if registry != nil {
			o.registry = registry
		}
	}
}

// WithRuntimeMetrics adds the Go runtime and process collectors
func WithRuntimeMetrics() CollectorOption {
	return func(o *collectorOptions) {
		o.runtimeMetrics = true
	}
}

// NewCollector creates a collector and registers its metrics
func NewCollector(opts ...CollectorOption) *Collector {
	o := &collectorOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: o.registry,
		plansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_total",
				Help:      "Total number of planning calls",
			},
			[]string{"role", "status"},
		),
		planDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_duration_seconds",
				Help:      "Duration of successful planning calls in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"role"},
		),
		planSteps: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_steps",
				Help:      "Number of steps in resolved plans",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
			},
		),
		interceptorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interceptor_executions_total",
				Help:      "Total number of interceptor executions",
			},
			[]string{"role_id", "name", "status"},
		),
		interceptorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "interceptor_duration_seconds",
				Help:      "Duration of individual interceptor execution in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"role_id"},
		),
		pipelinesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipelines_total",
				Help:      "Total number of pipeline executions",
			},
			[]string{"status"},
		),
		pipelineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Duration of pipeline executions in seconds",
				Buckets:   durationBuckets,
			},
		),
	}

	c.registry.MustRegister(
		c.plansTotal,
		c.planDuration,
		c.planSteps,
		c.interceptorsTotal,
		c.interceptorDuration,
		c.pipelinesTotal,
		c.pipelineDuration,
	)
	if o.runtimeMetrics {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return c
}

// Registry returns the registry holding the collector's metrics
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Publish implements tracking.Sink
func (c *Collector) Publish(ctx context.Context, event tracking.Event) {
	status := statusSuccess
	if event.Failed() {
		status = statusFailure
	}

	switch event.Kind {
	case tracking.PlanResolved:
		c.plansTotal.WithLabelValues(event.Role, status).Inc()
		c.planDuration.WithLabelValues(event.Role).Observe(event.Duration.Seconds())
		c.planSteps.Observe(float64(len(event.RoleIDs)))
	case tracking.PlanFailed:
		c.plansTotal.WithLabelValues(event.Role, status).Inc()
	case tracking.InterceptorSucceeded, tracking.InterceptorFailed:
		c.interceptorsTotal.WithLabelValues(event.RoleID, event.Name, status).Inc()
		c.interceptorDuration.WithLabelValues(event.RoleID).Observe(event.Duration.Seconds())
	case tracking.PipelineCompleted, tracking.PipelineFailed:
		c.pipelinesTotal.WithLabelValues(status).Inc()
		c.pipelineDuration.Observe(event.Duration.Seconds())
	}
}
