// Package metrics registers the backend's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts events published to live subscribers.
	EventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagegen_events_published_total",
			Help: "Total events published to the live bus",
		},
	)

	// EventsPersisted counts events appended to the durable log.
	EventsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagegen_events_persisted_total",
			Help: "Total events appended to the event log",
		},
	)

	// PersistFailures counts log appends that failed. The event stays
	// live-only; its offset is never reused.
	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagegen_persist_failures_total",
			Help: "Total event log append failures",
		},
	)

	// SubscriberDrops counts subscribers dropped for falling behind.
	SubscriberDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagegen_subscriber_drops_total",
			Help: "Total subscribers dropped due to full buffers",
		},
	)

	// ActiveProcessors tracks registry size.
	ActiveProcessors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagegen_active_processors",
			Help: "Number of per-session processors in the registry",
		},
	)

	// ProcessorEvictions counts idle evictions.
	ProcessorEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagegen_processor_evictions_total",
			Help: "Total processors evicted after idling",
		},
	)

	// RetryAttempts counts corrective continuations issued by the retry
	// stream, labeled by the failure kind that triggered them.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagegen_retry_attempts_total",
			Help: "Total corrective generator continuations",
		},
		[]string{"reason"},
	)

	// GeneratorDuration tracks wall time of generator invocations.
	GeneratorDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagegen_generator_duration_seconds",
			Help:    "Generator invocation duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// ActionsEnqueued counts actions accepted by the ingress.
	ActionsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagegen_actions_enqueued_total",
			Help: "Total actions enqueued",
		},
		[]string{"type"},
	)
)
