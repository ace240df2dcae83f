package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/aathul-raj/hermes/internal/protocol"
)

// Conn is one live AI-realtime connection. Events() delivers decoded
// inbound events in arrival order; the channel is closed when the socket
// closes. Send serializes writes so ordering is preserved relative to
// other sends on the same connection.
type Conn interface {
	Send(payload any) error
	Events() <-chan any
	Close() error
}

// Dialer opens realtime connections. Faked in bridge tests.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type Config struct {
	URL    string
	APIKey string
}

// WebsocketDialer dials the realtime API over a gorilla websocket.
type WebsocketDialer struct {
	cfg Config
}

func NewWebsocketDialer(cfg Config) *WebsocketDialer {
	return &WebsocketDialer{cfg: cfg}
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.cfg.URL, headers)
	if err != nil {
		return nil, fmt.Errorf("dial realtime websocket: %w", err)
	}

	c := &wsConn{conn: conn, events: make(chan any, 256), done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	events    chan any
}

func (c *wsConn) Send(payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(payload)
}

func (c *wsConn) Events() <-chan any {
	return c.events
}

// readLoop is the only sender on, and the only closer of, the events
// channel.
func (c *wsConn) readLoop() {
	defer close(c.events)
	defer c.close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.ParseRealtimeEvent(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnsupportedEvent) {
				// Control chatter the bridge does not act on.
				continue
			}
			log.Printf("[realtime] dropping malformed event: %v", err)
			continue
		}
		select {
		case c.events <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) Close() error {
	return c.close()
}

func (c *wsConn) close() error {
	var retErr error
	c.closeOnce.Do(func() {
		close(c.done)
		retErr = c.conn.Close()
	})
	return retErr
}
