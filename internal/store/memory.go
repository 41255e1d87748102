package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelstack/sentinel-ingest/internal/models"
)

// Memory is a mutex-guarded in-memory Store. All operations run under one
// lock, which gives the serializable read-modify-write semantics the
// active-incident uniqueness constraint requires.
type Memory struct {
	mu        sync.RWMutex
	events    map[string]models.TelemetryEvent
	incidents map[string]*models.Incident
	cursors   map[string]models.PollingCursor
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:    make(map[string]models.TelemetryEvent),
		incidents: make(map[string]*models.Incident),
		cursors:   make(map[string]models.PollingCursor),
	}
}

// AppendEvent stores the event under a fresh id.
func (m *Memory) AppendEvent(ctx context.Context, ev models.TelemetryEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	m.mu.Lock()
	m.events[id] = ev
	m.mu.Unlock()
	return id, nil
}

// GetActiveIncident returns the active incident for the pair, or nil.
func (m *Memory) GetActiveIncident(ctx context.Context, owner, service string) (*models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked(owner, service), nil
}

func (m *Memory) activeLocked(owner, service string) *models.Incident {
	for _, inc := range m.incidents {
		if inc.Owner == owner && inc.ServiceName == service && inc.Status.Active() {
			copied := *inc
			copied.EventIDs = append([]string(nil), inc.EventIDs...)
			return &copied
		}
	}
	return nil
}

// CreateIncident inserts a new incident, enforcing the one-active-per-pair
// constraint under the store lock.
func (m *Memory) CreateIncident(ctx context.Context, inc models.Incident) (*models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.activeLocked(inc.Owner, inc.ServiceName); existing != nil {
		return nil, ErrActiveIncidentExists
	}
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	stored := inc
	stored.EventIDs = append([]string(nil), inc.EventIDs...)
	m.incidents[stored.ID] = &stored

	copied := stored
	copied.EventIDs = append([]string(nil), stored.EventIDs...)
	return &copied, nil
}

// AttachEvent appends an event reference and bumps the high-water marks.
// Incidents that have left the active states no longer accept events; the
// caller re-reads and opens a fresh incident instead.
func (m *Memory) AttachEvent(ctx context.Context, incidentID, eventID string, seenAt time.Time, severity models.Severity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[incidentID]
	if !ok || !inc.Status.Active() {
		return ErrIncidentNotFound
	}
	inc.EventIDs = append(inc.EventIDs, eventID)
	if seenAt.After(inc.LastSeenAt) {
		inc.LastSeenAt = seenAt
	}
	if severity > inc.Severity {
		inc.Severity = severity
	}
	return nil
}

// TransitionIncident sets the status and returns the updated incident.
func (m *Memory) TransitionIncident(ctx context.Context, incidentID string, status models.IncidentStatus) (*models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[incidentID]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	if !inc.Status.CanTransition(status) {
		return nil, ErrIllegalTransition
	}
	inc.Status = status
	copied := *inc
	copied.EventIDs = append([]string(nil), inc.EventIDs...)
	return &copied, nil
}

// GetCursor returns the cursor for a source, or nil when absent.
func (m *Memory) GetCursor(ctx context.Context, sourceID string) (*models.PollingCursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cursor, ok := m.cursors[sourceID]
	if !ok {
		return nil, nil
	}
	copied := cursor
	return &copied, nil
}

// SetCursor advances the watermark, ignoring attempts to move it backward.
func (m *Memory) SetCursor(ctx context.Context, sourceID string, windowEnd time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cursor := m.cursors[sourceID]
	cursor.SourceID = sourceID
	if windowEnd.After(cursor.WindowEnd) {
		cursor.WindowEnd = windowEnd
	}
	m.cursors[sourceID] = cursor
	return nil
}

// Incident returns an incident by id for test inspection.
func (m *Memory) Incident(id string) (*models.Incident, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil, false
	}
	copied := *inc
	copied.EventIDs = append([]string(nil), inc.EventIDs...)
	return &copied, true
}

// EventCount returns the number of persisted events.
func (m *Memory) EventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
