// Package broadcast fans every ingested event out to live viewers. The
// primary path publishes to a broker topic consumed by every process; direct
// in-process delivery is the fallback when the broker is unavailable.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/sentinelstack/sentinel-ingest/internal/metrics"
)

// Conn is one live viewer connection. Send must be bounded (buffered channel
// or write deadline) so one slow consumer cannot stall delivery to the rest;
// a failed Send gets the connection deregistered.
type Conn interface {
	ID() string
	Send(payload []byte) error
}

// Hub is the connection registry for this process. Registration,
// deregistration, and delivery are safe to call concurrently.
type Hub struct {
	logger *slog.Logger
	mu     sync.RWMutex
	conns  map[string]Conn
}

// NewHub returns an empty registry.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, conns: make(map[string]Conn)}
}

// Register adds a connection. A connection with the same id replaces the
// previous one.
func (h *Hub) Register(conn Conn) {
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	h.mu.Unlock()
	h.logger.Debug("connection registered", slog.String("conn_id", conn.ID()))
}

// Deregister removes a connection by id.
func (h *Hub) Deregister(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
	h.logger.Debug("connection deregistered", slog.String("conn_id", id))
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Deliver sends the payload to every registered connection. Send failures are
// isolated: the failing connection is dropped and delivery to the rest
// continues. Nothing propagates to the caller.
func (h *Hub) Deliver(payload []byte) {
	h.mu.RLock()
	snapshot := make([]Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		snapshot = append(snapshot, conn)
	}
	h.mu.RUnlock()

	for _, conn := range snapshot {
		if err := conn.Send(payload); err != nil {
			if h.dropIfCurrent(conn) {
				metrics.ObserveConnectionDropped()
				h.logger.Warn("connection send failed, dropping",
					slog.String("conn_id", conn.ID()),
					slog.Any("error", err))
			}
		}
	}
}

// dropIfCurrent evicts the failing connection only while it is still the one
// registered under its id. A client that reconnected under the same id since
// the delivery snapshot keeps its fresh connection.
func (h *Hub) dropIfCurrent(conn Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	current, ok := h.conns[conn.ID()]
	if !ok || current != conn {
		return false
	}
	delete(h.conns, conn.ID())
	return true
}
