// Package store abstracts the persistent operations the ingestion core
// requires. Production deployments plug in a database-backed implementation;
// the in-memory one in this package serves tests and single-node setups.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sentinelstack/sentinel-ingest/internal/models"
)

// ErrActiveIncidentExists is returned by CreateIncident when an active
// incident already exists for the (owner, service) pair. Implementations
// must detect this atomically (unique constraint or equivalent) so that
// concurrent creators cannot both succeed.
var ErrActiveIncidentExists = errors.New("active incident already exists")

// ErrIncidentNotFound is returned when an incident id is unknown.
var ErrIncidentNotFound = errors.New("incident not found")

// ErrIllegalTransition is returned by TransitionIncident when the lifecycle
// forbids the requested move (for example, out of a terminal state).
var ErrIllegalTransition = errors.New("illegal incident transition")

// Store defines the persistence operations consumed by the gate and poller.
type Store interface {
	// AppendEvent persists a telemetry event and returns its assigned id.
	AppendEvent(ctx context.Context, ev models.TelemetryEvent) (string, error)

	// GetActiveIncident returns the single active incident for the pair, or
	// nil when none exists.
	GetActiveIncident(ctx context.Context, owner, service string) (*models.Incident, error)

	// CreateIncident stores a new incident. Returns ErrActiveIncidentExists
	// when the uniqueness constraint on (owner, service, active) would be
	// violated.
	CreateIncident(ctx context.Context, inc models.Incident) (*models.Incident, error)

	// AttachEvent appends an event reference to an incident, advances
	// LastSeenAt to seenAt when later, and raises Severity to severity when
	// higher. The check that the incident is still active happens under the
	// same isolation as the write: attaching to an unknown or no-longer-active
	// incident returns ErrIncidentNotFound, so a caller racing a concurrent
	// transition re-reads instead of appending to a terminal incident.
	AttachEvent(ctx context.Context, incidentID, eventID string, seenAt time.Time, severity models.Severity) error

	// TransitionIncident moves an incident to a new status and returns the
	// updated record. Returns ErrIllegalTransition when the lifecycle forbids
	// the move; the check happens under the same isolation as the write.
	TransitionIncident(ctx context.Context, incidentID string, status models.IncidentStatus) (*models.Incident, error)

	// GetCursor returns the polling cursor for a source, or nil when the
	// source has never completed a cycle.
	GetCursor(ctx context.Context, sourceID string) (*models.PollingCursor, error)

	// SetCursor advances the cursor for a source. The stored watermark never
	// moves backward; an earlier timestamp is ignored.
	SetCursor(ctx context.Context, sourceID string, windowEnd time.Time) error
}
