package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sentinelstack/sentinel-ingest/internal/broker"
	"github.com/sentinelstack/sentinel-ingest/internal/metrics"
	"github.com/sentinelstack/sentinel-ingest/internal/models"
)

// Envelope is the wire form carried on the broker topic.
type Envelope struct {
	ID          string                `msgpack:"id"`
	PublishedAt time.Time             `msgpack:"published_at"`
	Event       models.TelemetryEvent `msgpack:"event"`
}

// Broadcaster publishes every ingested event to the broker topic so all
// processes can forward it to their local connections. When the publish
// fails (or no broker is configured) delivery degrades to this process's
// hub only.
type Broadcaster struct {
	logger    *slog.Logger
	publisher broker.Publisher
	hub       *Hub
	topic     string
}

// NewBroadcaster wires the fan-out. publisher may be nil for single-instance
// deployments without a broker.
func NewBroadcaster(logger *slog.Logger, publisher broker.Publisher, hub *Hub, topic string) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{logger: logger, publisher: publisher, hub: hub, topic: topic}
}

// Broadcast delivers the event to all live viewers, best effort. It never
// blocks on consumers and never returns an error to the ingesting caller.
func (b *Broadcaster) Broadcast(ev models.TelemetryEvent) {
	envelope := Envelope{
		ID:          uuid.NewString(),
		PublishedAt: time.Now().UTC(),
		Event:       ev,
	}
	payload, err := msgpack.Marshal(&envelope)
	if err != nil {
		b.logger.Error("encode broadcast envelope", slog.Any("error", err))
		return
	}

	if b.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := b.publisher.Publish(ctx, b.topic, payload)
		cancel()
		if err == nil {
			metrics.ObserveBroadcast(metrics.PathBroker)
			return
		}
		b.logger.Warn("broker publish failed, delivering locally", slog.Any("error", err))
	}

	metrics.ObserveBroadcast(metrics.PathFallback)
	b.hub.Deliver(payload)
}

// HandleDelivery forwards one broker-delivered payload to local connections.
// Wired as the subscription handler for the broadcast topic.
func (b *Broadcaster) HandleDelivery(payload []byte) {
	b.hub.Deliver(payload)
}

// DecodeEnvelope unpacks a payload produced by Broadcast. Exposed for
// transports rendering events to viewers.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var envelope Envelope
	if err := msgpack.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, err
	}
	return envelope, nil
}
