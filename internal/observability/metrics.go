package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsDispatched counts trigger events delivered by the event queue
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perfassess_trigger_events_dispatched_total",
		Help: "Trigger events delivered to the session handler by kind",
	}, []string{"kind"})

	// HandlerFailures counts trigger event handlers that panicked
	HandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perfassess_trigger_event_handler_failures_total",
		Help: "Trigger event handlers that failed by kind",
	}, []string{"kind"})

	// MetricFailures counts metric computations that errored or panicked
	MetricFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perfassess_metric_failures_total",
		Help: "Metric computations that failed by metric",
	}, []string{"metric"})

	// AssessmentUpdates counts writes to assessment proxies by node kind
	AssessmentUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perfassess_assessment_updates_total",
		Help: "Assessment values written to the proxy by node kind",
	}, []string{"kind"})

	// SnapshotDuration tracks how long snapshot walks hold the proxy read lock
	SnapshotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "perfassess_snapshot_duration_seconds",
		Help:    "Snapshot generation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10us to ~80ms
	})

	// SnapshotsPublished counts snapshots handed to publishers by outcome
	SnapshotsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perfassess_snapshots_published_total",
		Help: "Snapshots published by result",
	}, []string{"result"})

	// TriggersFired counts triggers that fired by role
	TriggersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perfassess_triggers_fired_total",
		Help: "Triggers that fired by role (start, end, scenario_end)",
	}, []string{"role"})

	// ActiveSessions is the number of live knowledge sessions
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perfassess_active_sessions",
		Help: "Knowledge sessions currently hosted",
	})
)
