// Package metrics provides internal metrics collection for the flow engine.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the engine's Prometheus metrics.
type Collector struct {
	turnsTotal            *prometheus.CounterVec
	nodeExecutionsTotal   *prometheus.CounterVec
	nodeExecutionDuration *prometheus.HistogramVec
	tokensStreamedTotal   prometheus.Counter
	nodeRetriesTotal      prometheus.Counter
	confirmationsTotal    *prometheus.CounterVec
	checkpointsTotal      prometheus.Counter
	replaysTotal          prometheus.Counter

	logger *zap.Logger
}

// NewCollector registers the engine metrics with the given registerer (nil
// uses the default registerer).
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of turns by terminal status",
		},
		[]string{"status"},
	)

	c.nodeExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of node executions by kind and result",
		},
		[]string{"kind", "result"},
	)

	c.nodeExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_execution_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	c.tokensStreamedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_streamed_total",
			Help:      "Total number of streamed token events",
		},
	)

	c.nodeRetriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_retries_total",
			Help:      "Total number of retried node invocations",
		},
	)

	c.confirmationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Total number of tool confirmations by outcome",
		},
		[]string{"outcome"},
	)

	c.checkpointsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Total number of checkpoints recorded",
		},
	)

	c.replaysTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replays_total",
			Help:      "Total number of checkpoint replays started",
		},
	)

	return c
}

// TurnFinished records a turn reaching a terminal status.
func (c *Collector) TurnFinished(status string) {
	c.turnsTotal.WithLabelValues(status).Inc()
}

// NodeExecuted records a node invocation and its duration.
func (c *Collector) NodeExecuted(kind, result string, seconds float64) {
	c.nodeExecutionsTotal.WithLabelValues(kind, result).Inc()
	c.nodeExecutionDuration.WithLabelValues(kind).Observe(seconds)
}

// TokenStreamed records one streamed token event.
func (c *Collector) TokenStreamed() {
	c.tokensStreamedTotal.Inc()
}

// NodeRetried records one retried node invocation.
func (c *Collector) NodeRetried() {
	c.nodeRetriesTotal.Inc()
}

// ConfirmationResolved records a confirmation outcome
// (approved/rejected/timeout).
func (c *Collector) ConfirmationResolved(outcome string) {
	c.confirmationsTotal.WithLabelValues(outcome).Inc()
}

// CheckpointSaved records one checkpoint write.
func (c *Collector) CheckpointSaved() {
	c.checkpointsTotal.Inc()
}

// ReplayStarted records one checkpoint replay.
func (c *Collector) ReplayStarted() {
	c.replaysTotal.Inc()
}
