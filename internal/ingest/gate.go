// Package ingest implements the severity-gated ingestion policy and the
// incident correlation state machine behind it.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sentinelstack/sentinel-ingest/internal/metrics"
	"github.com/sentinelstack/sentinel-ingest/internal/models"
	"github.com/sentinelstack/sentinel-ingest/internal/store"
	"github.com/sentinelstack/sentinel-ingest/internal/utils"
)

// PersistThreshold is the minimum severity that triggers persistence and
// incident correlation. Events below it are broadcast-only.
const PersistThreshold = models.SeverityError

// Broadcaster receives every valid event, persisted or not. Delivery is
// fire-and-forget; implementations never block the gate.
type Broadcaster interface {
	Broadcast(ev models.TelemetryEvent)
}

// Result reports the outcome of one ingestion.
type Result struct {
	Persisted  bool
	IncidentID string
}

// Gate applies the severity policy and correlates persisted events into
// incidents. The active-incident invariant is enforced twice: a striped
// in-process lock keyed by (owner, service) serializes concurrent ingestions
// in this process, and the store's uniqueness conflict on CreateIncident
// covers writers the lock cannot see. Conflicts retry a bounded number of
// times before surfacing as a persistence error.
type Gate struct {
	logger      *slog.Logger
	store       store.Store
	broadcaster Broadcaster
	locks       *keyLocks
	latencies   *utils.LatencyTracker
	maxRetries  int
}

// NewGate constructs the ingestion gate. broadcaster may be nil, in which
// case events are persisted but not fanned out.
func NewGate(logger *slog.Logger, st store.Store, broadcaster Broadcaster) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		logger:      logger,
		store:       st,
		broadcaster: broadcaster,
		locks:       newKeyLocks(64),
		latencies:   utils.NewLatencyTracker(1024),
		maxRetries:  3,
	}
}

// Ingest validates the event, broadcasts it, and persists it when severity
// meets the threshold. Broadcast is attempted exactly once for every valid
// event, independent of the persistence outcome.
func (g *Gate) Ingest(ctx context.Context, ev models.TelemetryEvent) (Result, error) {
	start := time.Now()

	if err := ev.Validate(); err != nil {
		metrics.ObserveIngest(time.Since(start), metrics.OutcomeRejected)
		g.logger.Warn("event rejected",
			slog.String("source_id", ev.SourceID),
			slog.String("service", ev.ServiceName),
			slog.Any("error", err))
		return Result{}, utils.E(utils.KindValidation, "ingest", "invalid event", err)
	}

	if g.broadcaster != nil {
		g.broadcaster.Broadcast(ev)
	}

	if ev.Severity < PersistThreshold {
		metrics.ObserveIngest(time.Since(start), metrics.OutcomeSkipped)
		return Result{Persisted: false}, nil
	}

	incidentID, err := g.correlate(ctx, ev)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveIngest(duration, metrics.OutcomeError)
		g.logger.Error("incident correlation failed",
			slog.String("service", ev.ServiceName),
			slog.String("owner", ev.Owner),
			slog.Any("error", err))
		return Result{}, err
	}

	g.latencies.Observe(duration)
	metrics.ObserveIngest(duration, metrics.OutcomePersisted)
	if count := g.latencies.Count(); count >= 100 && count%100 == 0 {
		g.logger.Info("ingest latency",
			slog.Duration("p95", g.latencies.Percentile(95)),
			slog.Int("samples", count))
	}

	return Result{Persisted: true, IncidentID: incidentID}, nil
}

func (g *Gate) correlate(ctx context.Context, ev models.TelemetryEvent) (string, error) {
	key := ev.Owner + "\x00" + ev.ServiceName
	g.locks.Lock(key)
	defer g.locks.Unlock(key)

	eventID, err := g.store.AppendEvent(ctx, ev)
	if err != nil {
		return "", utils.E(utils.KindPersistence, "ingest", "append event", err)
	}

	for attempt := 0; attempt < g.maxRetries; attempt++ {
		incident, err := g.store.GetActiveIncident(ctx, ev.Owner, ev.ServiceName)
		if err != nil {
			return "", utils.E(utils.KindPersistence, "ingest", "lookup active incident", err)
		}

		if incident != nil {
			severity := escalate(incident.Severity, ev.Severity)
			if err := g.store.AttachEvent(ctx, incident.ID, eventID, ev.Timestamp, severity); err != nil {
				if errors.Is(err, store.ErrIncidentNotFound) {
					// Incident was transitioned away between read and write.
					continue
				}
				return "", utils.E(utils.KindPersistence, "ingest", "attach event", err)
			}
			return incident.ID, nil
		}

		created, err := g.store.CreateIncident(ctx, models.Incident{
			ServiceName: ev.ServiceName,
			Owner:       ev.Owner,
			Status:      models.IncidentOpen,
			Severity:    ev.Severity,
			FirstSeenAt: ev.Timestamp,
			LastSeenAt:  ev.Timestamp,
			EventIDs:    []string{eventID},
		})
		if err != nil {
			if errors.Is(err, store.ErrActiveIncidentExists) {
				// Lost the race to a concurrent creator; re-read and attach.
				continue
			}
			return "", utils.E(utils.KindPersistence, "ingest", "create incident", err)
		}
		g.logger.Info("incident opened",
			slog.String("incident_id", created.ID),
			slog.String("service", created.ServiceName),
			slog.String("owner", created.Owner),
			slog.String("severity", created.Severity.String()))
		return created.ID, nil
	}

	return "", utils.E(utils.KindPersistence, "ingest", "correlation retries exhausted", store.ErrActiveIncidentExists)
}

// escalate returns the incident severity after attaching an event of the
// given severity. Only a critical event raises the high-water mark.
func escalate(current, incoming models.Severity) models.Severity {
	if incoming == models.SeverityCritical && incoming > current {
		return incoming
	}
	return current
}

// Transition moves an incident to a new lifecycle status on behalf of the
// diagnosis/healing collaborator. The core never initiates this itself.
func (g *Gate) Transition(ctx context.Context, incidentID string, status models.IncidentStatus) (*models.Incident, error) {
	updated, err := g.store.TransitionIncident(ctx, incidentID, status)
	if err != nil {
		if errors.Is(err, store.ErrIllegalTransition) || errors.Is(err, store.ErrIncidentNotFound) {
			return nil, utils.E(utils.KindValidation, "transition", "rejected", err)
		}
		return nil, utils.E(utils.KindPersistence, "transition", "store write", err)
	}
	g.logger.Info("incident transitioned",
		slog.String("incident_id", updated.ID),
		slog.String("status", string(updated.Status)))
	return updated, nil
}
