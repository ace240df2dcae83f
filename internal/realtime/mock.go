package realtime

import (
	"context"
	"sync"
)

// MockConn is an in-process realtime connection for tests and local dev.
// Inbound events are pushed with Emit; outbound payloads are recorded.
type MockConn struct {
	mu     sync.Mutex
	sent   []any
	events chan any
	closed bool
}

func NewMockConn() *MockConn {
	return &MockConn{events: make(chan any, 256)}
}

func (c *MockConn) Send(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, payload)
	return nil
}

func (c *MockConn) Events() <-chan any {
	return c.events
}

// Emit delivers an inbound event as if it arrived on the socket.
func (c *MockConn) Emit(msg any) {
	c.events <- msg
}

func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func (c *MockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sent returns a copy of everything written to the connection so far.
func (c *MockConn) Sent() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.sent))
	copy(out, c.sent)
	return out
}

// MockDialer hands out a fixed connection, or an error.
type MockDialer struct {
	Conn *MockConn
	Err  error
}

func (d *MockDialer) Dial(_ context.Context) (Conn, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Conn, nil
}
