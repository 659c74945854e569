package reconcile

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/linnemanlabs/overwatch/internal/hub"
)

// WSTransport dials the event stream over a websocket.
type WSTransport struct {
	URL    string
	Header http.Header
	dialer *websocket.Dialer
}

// NewWSTransport creates a transport for the given ws:// or wss:// URL.
func NewWSTransport(url string) *WSTransport {
	return &WSTransport{
		URL:    url,
		dialer: websocket.DefaultDialer,
	}
}

// Dial opens one websocket connection.
func (t *WSTransport) Dial(ctx context.Context) (Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", t.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

type subscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

func (c *wsConn) Subscribe(channels []string) error {
	if err := c.conn.WriteJSON(subscribeRequest{Op: "subscribe", Channels: channels}); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Next reads one event. Cancelling ctx closes the connection so a
// blocked read returns promptly.
func (c *wsConn) Next(ctx context.Context) (hub.Event, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	var ev hub.Event
	if err := c.conn.ReadJSON(&ev); err != nil {
		if ctx.Err() != nil {
			return hub.Event{}, ctx.Err()
		}
		return hub.Event{}, fmt.Errorf("read event: %w", err)
	}
	return ev, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
