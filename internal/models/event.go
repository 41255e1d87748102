package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Severity is a totally ordered impact level. Comparisons use the numeric
// value, never the string form.
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityTrace:    "trace",
	SeverityInfo:     "info",
	SeverityWarning:  "warning",
	SeverityError:    "error",
	SeverityCritical: "critical",
}

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Valid reports whether s is one of the defined levels.
func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// ParseSeverity maps a severity name to its level. Common aliases emitted by
// upstream collectors (warn, err, fatal, debug) are accepted.
func ParseSeverity(raw string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace", "debug":
		return SeverityTrace, nil
	case "info":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error", "err":
		return SeverityError, nil
	case "critical", "fatal":
		return SeverityCritical, nil
	}
	return SeverityTrace, fmt.Errorf("unknown severity %q", raw)
}

// MarshalText encodes the severity by name for JSON/YAML payloads.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TelemetryEvent is a single observed occurrence (log line or trace span)
// reported by a push source or pulled by the poller. Events are immutable
// after construction.
type TelemetryEvent struct {
	SourceID    string            `json:"source_id" msgpack:"source_id"`
	ServiceName string            `json:"service_name" msgpack:"service_name"`
	Severity    Severity          `json:"severity" msgpack:"severity"`
	Message     string            `json:"message" msgpack:"message"`
	Timestamp   time.Time         `json:"timestamp" msgpack:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	Owner       string            `json:"owner,omitempty" msgpack:"owner,omitempty"`
}

// Validate checks the fields required before an event may enter the gate.
func (e TelemetryEvent) Validate() error {
	if strings.TrimSpace(e.ServiceName) == "" {
		return errors.New("service_name is required")
	}
	if strings.TrimSpace(e.SourceID) == "" {
		return errors.New("source_id is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if !e.Severity.Valid() {
		return fmt.Errorf("invalid severity %d", int(e.Severity))
	}
	return nil
}
