package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sentinelstack/sentinel-ingest/internal/models"
)

type stubPublisher struct {
	published [][]byte
	err       error
}

func (p *stubPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, payload)
	return nil
}

func sampleEvent() models.TelemetryEvent {
	return models.TelemetryEvent{
		SourceID:    "push-1",
		ServiceName: "checkout",
		Severity:    models.SeverityInfo,
		Message:     "hello",
		Timestamp:   time.Now().UTC().Truncate(time.Millisecond),
		Owner:       "tenant-1",
	}
}

func TestBroadcastPrefersBroker(t *testing.T) {
	hub := NewHub(nil)
	local := &stubConn{id: "local"}
	hub.Register(local)

	publisher := &stubPublisher{}
	b := NewBroadcaster(nil, publisher, hub, "events")

	b.Broadcast(sampleEvent())

	if len(publisher.published) != 1 {
		t.Fatalf("expected one broker publish, got %d", len(publisher.published))
	}
	// Local delivery happens via the broker consumer, not the publish path.
	if local.received() != 0 {
		t.Fatalf("broker path must not also deliver locally")
	}

	envelope, err := DecodeEnvelope(publisher.published[0])
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.ID == "" {
		t.Fatalf("envelope missing id")
	}
	if envelope.Event.ServiceName != "checkout" {
		t.Fatalf("unexpected event in envelope: %+v", envelope.Event)
	}
}

func TestBroadcastFallsBackOnPublishFailure(t *testing.T) {
	hub := NewHub(nil)
	local := &stubConn{id: "local"}
	hub.Register(local)

	publisher := &stubPublisher{err: errors.New("broker down")}
	b := NewBroadcaster(nil, publisher, hub, "events")

	b.Broadcast(sampleEvent())

	if local.received() != 1 {
		t.Fatalf("expected direct local delivery on publish failure, got %d", local.received())
	}
}

func TestBroadcastWithoutBrokerDeliversLocally(t *testing.T) {
	hub := NewHub(nil)
	local := &stubConn{id: "local"}
	hub.Register(local)

	b := NewBroadcaster(nil, nil, hub, "events")
	b.Broadcast(sampleEvent())

	if local.received() != 1 {
		t.Fatalf("expected local delivery without a broker, got %d", local.received())
	}
}

func TestHandleDeliveryForwardsToHub(t *testing.T) {
	hub := NewHub(nil)
	local := &stubConn{id: "local"}
	hub.Register(local)

	b := NewBroadcaster(nil, &stubPublisher{}, hub, "events")
	b.HandleDelivery([]byte("raw"))

	if local.received() != 1 {
		t.Fatalf("consumer delivery not forwarded")
	}
}
