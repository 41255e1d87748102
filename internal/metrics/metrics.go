package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomePersisted labels events that passed the severity gate.
	OutcomePersisted = "persisted"
	// OutcomeSkipped labels events below the persistence threshold.
	OutcomeSkipped = "skipped"
	// OutcomeRejected labels events that failed validation.
	OutcomeRejected = "rejected"
	// OutcomeError labels events whose correlation write failed.
	OutcomeError = "error"

	// PathBroker labels broadcasts delivered through the broker topic.
	PathBroker = "broker"
	// PathFallback labels broadcasts delivered directly in-process.
	PathFallback = "fallback"
)

var (
	eventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel_ingest",
			Name:      "events_total",
			Help:      "Total events handled by the ingestion gate, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	ingestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentinel_ingest",
			Name:      "ingest_seconds",
			Help:      "Ingestion gate latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	broadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel_ingest",
			Name:      "broadcasts_total",
			Help:      "Broadcast attempts, partitioned by delivery path.",
		},
		[]string{"path"},
	)

	connectionsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel_ingest",
			Name:      "connections_dropped_total",
			Help:      "Live connections deregistered after a failed send.",
		},
	)

	pollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel_ingest",
			Name:      "poll_cycles_total",
			Help:      "Poller cycles, partitioned by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	schedulerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel_ingest",
			Name:      "scheduler_runs_total",
			Help:      "Debounced job executions, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	schedulerCancellations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel_ingest",
			Name:      "scheduler_debounce_cancellations_total",
			Help:      "Pending job attempts superseded before their timer fired.",
		},
	)
)

// Register attaches sentinel-ingest collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsIngestedTotal,
		ingestDurationSeconds,
		broadcastsTotal,
		connectionsDropped,
		pollCyclesTotal,
		schedulerRunsTotal,
		schedulerCancellations,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIngest records one gate call.
func ObserveIngest(duration time.Duration, outcome string) {
	eventsIngestedTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	ingestDurationSeconds.Observe(duration.Seconds())
}

// ObserveBroadcast records one broadcast attempt on the given path.
func ObserveBroadcast(path string) {
	broadcastsTotal.WithLabelValues(path).Inc()
}

// ObserveConnectionDropped records a deregistered connection.
func ObserveConnectionDropped() {
	connectionsDropped.Inc()
}

// ObservePollCycle records one poller cycle for a source.
func ObservePollCycle(source, outcome string) {
	pollCyclesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveSchedulerRun records one executed job.
func ObserveSchedulerRun(outcome string) {
	schedulerRunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDebounceCancelled records a superseded pending attempt.
func ObserveDebounceCancelled() {
	schedulerCancellations.Inc()
}
