package broadcast

import (
	"errors"
	"sync"
	"testing"
)

type stubConn struct {
	id      string
	mu      sync.Mutex
	sent    [][]byte
	failing bool
}

func (c *stubConn) ID() string { return c.id }

func (c *stubConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *stubConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestHubDeliverToAll(t *testing.T) {
	hub := NewHub(nil)
	a := &stubConn{id: "a"}
	b := &stubConn{id: "b"}
	hub.Register(a)
	hub.Register(b)

	hub.Deliver([]byte("payload"))

	if a.received() != 1 || b.received() != 1 {
		t.Fatalf("expected both connections to receive, got %d/%d", a.received(), b.received())
	}
}

func TestHubFailingConnIsIsolatedAndDropped(t *testing.T) {
	hub := NewHub(nil)
	healthy := &stubConn{id: "healthy"}
	broken := &stubConn{id: "broken", failing: true}
	hub.Register(healthy)
	hub.Register(broken)

	hub.Deliver([]byte("one"))

	if healthy.received() != 1 {
		t.Fatalf("healthy connection missed delivery")
	}
	if hub.Len() != 1 {
		t.Fatalf("failing connection not deregistered, %d registered", hub.Len())
	}

	hub.Deliver([]byte("two"))
	if healthy.received() != 2 {
		t.Fatalf("delivery stopped after drop")
	}
}

// reconnectingConn re-registers a fresh connection under its own id before
// reporting the send failure, like a client that reconnected while delivery
// was in flight.
type reconnectingConn struct {
	hub         *Hub
	replacement Conn
}

func (c *reconnectingConn) ID() string { return c.replacement.ID() }

func (c *reconnectingConn) Send(payload []byte) error {
	c.hub.Register(c.replacement)
	return errors.New("stale connection")
}

func TestHubFailureDoesNotEvictReconnectedConn(t *testing.T) {
	hub := NewHub(nil)
	fresh := &stubConn{id: "viewer"}
	stale := &reconnectingConn{hub: hub, replacement: fresh}
	hub.Register(stale)

	hub.Deliver([]byte("one"))

	if hub.Len() != 1 {
		t.Fatalf("fresh connection evicted, %d registered", hub.Len())
	}
	hub.Deliver([]byte("two"))
	if fresh.received() != 1 {
		t.Fatalf("fresh connection missed delivery after reconnect")
	}
}

func TestHubDeregister(t *testing.T) {
	hub := NewHub(nil)
	a := &stubConn{id: "a"}
	hub.Register(a)
	hub.Deregister("a")

	hub.Deliver([]byte("payload"))
	if a.received() != 0 {
		t.Fatalf("deregistered connection still receives")
	}
	if hub.Len() != 0 {
		t.Fatalf("expected empty hub")
	}
}

func TestHubConcurrentRegisterAndDeliver(t *testing.T) {
	hub := NewHub(nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		conn := &stubConn{id: string(rune('a' + i))}
		go func() {
			defer wg.Done()
			hub.Register(conn)
		}()
		go func() {
			defer wg.Done()
			hub.Deliver([]byte("x"))
		}()
	}
	wg.Wait()
	if hub.Len() != 16 {
		t.Fatalf("expected 16 connections, got %d", hub.Len())
	}
}
