package models

import "time"

// IncidentStatus enumerates incident lifecycle states.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentHealing       IncidentStatus = "healing"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentFailed        IncidentStatus = "failed"
)

// Active reports whether the status still accepts new events. Resolved and
// failed incidents are terminal and are never matched again.
func (s IncidentStatus) Active() bool {
	switch s {
	case IncidentOpen, IncidentInvestigating, IncidentHealing:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transitions.
func (s IncidentStatus) Terminal() bool {
	return s == IncidentResolved || s == IncidentFailed
}

// CanTransition reports whether a move from s to target is legal. Terminal
// states accept nothing; no state ever returns to open. The diagnosis and
// healing collaborator drives investigating/healing/resolved/failed.
func (s IncidentStatus) CanTransition(target IncidentStatus) bool {
	if s.Terminal() {
		return false
	}
	switch target {
	case IncidentInvestigating, IncidentHealing, IncidentResolved, IncidentFailed:
		return true
	}
	return false
}

// Incident correlates one or more telemetry events believed to share a root
// cause. At most one active incident may exist per (owner, service) pair;
// the store and the ingestion gate enforce this together.
type Incident struct {
	ID          string         `json:"id"`
	ServiceName string         `json:"service_name"`
	Owner       string         `json:"owner"`
	Status      IncidentStatus `json:"status"`
	Severity    Severity       `json:"severity"`
	FirstSeenAt time.Time      `json:"first_seen_at"`
	LastSeenAt  time.Time      `json:"last_seen_at"`
	EventIDs    []string       `json:"event_ids"`
}

// PollingCursor is the per-source watermark marking the end of the last fully
// processed window. WindowEnd is monotonically non-decreasing.
type PollingCursor struct {
	SourceID            string    `json:"source_id"`
	WindowEnd           time.Time `json:"window_end"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}
