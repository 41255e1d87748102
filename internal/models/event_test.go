package models

import (
	"testing"
	"time"
)

func TestSeverityOrdering(t *testing.T) {
	ordered := []Severity{SeverityTrace, SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1] >= ordered[i] {
			t.Fatalf("expected %s < %s", ordered[i-1], ordered[i])
		}
	}
}

func TestParseSeverityAliases(t *testing.T) {
	cases := map[string]Severity{
		"TRACE":    SeverityTrace,
		"debug":    SeverityTrace,
		"info":     SeverityInfo,
		"warn":     SeverityWarning,
		"Warning":  SeverityWarning,
		"err":      SeverityError,
		"error":    SeverityError,
		"fatal":    SeverityCritical,
		"critical": SeverityCritical,
	}
	for raw, want := range cases {
		got, err := ParseSeverity(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s, got %s", raw, want, got)
		}
	}

	if _, err := ParseSeverity("loud"); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
}

func TestEventValidate(t *testing.T) {
	valid := TelemetryEvent{
		SourceID:    "src-1",
		ServiceName: "checkout",
		Severity:    SeverityInfo,
		Message:     "ok",
		Timestamp:   time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	missing := valid
	missing.ServiceName = "  "
	if err := missing.Validate(); err == nil {
		t.Fatalf("expected error for blank service name")
	}

	zeroTime := valid
	zeroTime.Timestamp = time.Time{}
	if err := zeroTime.Validate(); err == nil {
		t.Fatalf("expected error for zero timestamp")
	}

	badSeverity := valid
	badSeverity.Severity = Severity(42)
	if err := badSeverity.Validate(); err == nil {
		t.Fatalf("expected error for undefined severity")
	}
}

func TestIncidentStatusLifecycle(t *testing.T) {
	for _, status := range []IncidentStatus{IncidentOpen, IncidentInvestigating, IncidentHealing} {
		if !status.Active() {
			t.Fatalf("expected %s to be active", status)
		}
		if !status.CanTransition(IncidentResolved) {
			t.Fatalf("expected %s -> resolved to be legal", status)
		}
		if status.CanTransition(IncidentOpen) {
			t.Fatalf("%s must not return to open", status)
		}
	}

	for _, status := range []IncidentStatus{IncidentResolved, IncidentFailed} {
		if status.Active() {
			t.Fatalf("expected %s to be terminal", status)
		}
		if status.CanTransition(IncidentInvestigating) {
			t.Fatalf("terminal %s must reject transitions", status)
		}
	}
}
