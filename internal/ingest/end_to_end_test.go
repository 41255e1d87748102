package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sentinelstack/sentinel-ingest/internal/broadcast"
	"github.com/sentinelstack/sentinel-ingest/internal/models"
	"github.com/sentinelstack/sentinel-ingest/internal/store"
)

type viewerConn struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *viewerConn) ID() string { return "viewer-1" }

func (c *viewerConn) Send(payload []byte) error {
	c.mu.Lock()
	c.payloads = append(c.payloads, payload)
	c.mu.Unlock()
	return nil
}

func (c *viewerConn) envelopes(t *testing.T) []broadcast.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]broadcast.Envelope, 0, len(c.payloads))
	for _, payload := range c.payloads {
		envelope, err := broadcast.DecodeEnvelope(payload)
		if err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		out = append(out, envelope)
	}
	return out
}

// failPublisher simulates a broker outage so delivery degrades to the local
// hub, which is the single-instance path this test observes.
type failPublisher struct{}

func (failPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return errors.New("broker unavailable")
}

func TestIngestToLiveViewerEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	hub := broadcast.NewHub(nil)
	viewer := &viewerConn{}
	hub.Register(viewer)

	broadcaster := broadcast.NewBroadcaster(nil, failPublisher{}, hub, "events")
	gate := NewGate(nil, st, broadcaster)
	base := time.Now().UTC()

	// An info event is broadcast but never persisted.
	info, err := gate.Ingest(ctx, event("x", "tenant-1", models.SeverityInfo, base))
	if err != nil {
		t.Fatalf("ingest info: %v", err)
	}
	if info.Persisted {
		t.Fatalf("info event persisted")
	}
	if st.EventCount() != 0 {
		t.Fatalf("info event reached the store")
	}

	// Two errors correlate into one incident; the critical escalates it.
	first, err := gate.Ingest(ctx, event("x", "tenant-1", models.SeverityError, base.Add(time.Second)))
	if err != nil {
		t.Fatalf("ingest error: %v", err)
	}
	second, err := gate.Ingest(ctx, event("x", "tenant-1", models.SeverityError, base.Add(2*time.Second)))
	if err != nil {
		t.Fatalf("ingest second error: %v", err)
	}
	critical, err := gate.Ingest(ctx, event("x", "tenant-1", models.SeverityCritical, base.Add(3*time.Second)))
	if err != nil {
		t.Fatalf("ingest critical: %v", err)
	}
	if first.IncidentID != second.IncidentID || second.IncidentID != critical.IncidentID {
		t.Fatalf("events split across incidents: %s %s %s", first.IncidentID, second.IncidentID, critical.IncidentID)
	}

	inc, ok := st.Incident(first.IncidentID)
	if !ok {
		t.Fatalf("incident missing")
	}
	if inc.Severity != models.SeverityCritical {
		t.Fatalf("expected critical incident, got %s", inc.Severity)
	}
	if len(inc.EventIDs) != 3 {
		t.Fatalf("expected 3 attached events, got %d", len(inc.EventIDs))
	}
	if !inc.LastSeenAt.Equal(base.Add(3 * time.Second)) {
		t.Fatalf("last_seen_at not advanced: %v", inc.LastSeenAt)
	}

	// The viewer saw every event, persisted or not, in arrival order.
	envelopes := viewer.envelopes(t)
	if len(envelopes) != 4 {
		t.Fatalf("expected 4 deliveries, got %d", len(envelopes))
	}
	if envelopes[0].Event.Severity != models.SeverityInfo {
		t.Fatalf("first delivery should be the info event, got %s", envelopes[0].Event.Severity)
	}
	if envelopes[3].Event.Severity != models.SeverityCritical {
		t.Fatalf("last delivery should be the critical event, got %s", envelopes[3].Event.Severity)
	}
}
