package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_published_total",
		Help: "Outbox events accepted by the broker and archived.",
	}, []string{"event_type"})
	publishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Failed publish attempts.",
	}, []string{"event_type"})
	eventsDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_dead_lettered_total",
		Help: "Outbox events parked after exhausting retries.",
	}, []string{"event_type"})
	runsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_runs_skipped_total",
		Help: "Processing runs skipped because another run held the guard.",
	}, []string{"reason"})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_run_duration_seconds",
		Help:    "Duration of one outbox processing run.",
		Buckets: prometheus.DefBuckets,
	})
	publishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_publish_duration_seconds",
		Help:    "Broker publish latency per event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
)
