package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/linnemanlabs/go-core/log"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// subscribeOp is the only client-to-server message the hub understands.
type subscribeOp struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// WSHandler upgrades HTTP requests to websocket connections and bridges
// them onto the Hub. Each connection starts with no subscriptions; the
// client declares channels with a subscribe op.
type WSHandler struct {
	hub      *Hub
	logger   log.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a websocket handler bound to the hub.
func NewWSHandler(h *Hub, logger log.Logger) *WSHandler {
	if logger == nil {
		logger = log.Nop()
	}
	return &WSHandler{
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error(r.Context(), err, "websocket upgrade failed")
		return
	}

	id, events := h.hub.Subscribe(nil)
	L := h.logger.With("subscriber_id", id)
	L.Info(r.Context(), "viewer connected", "remote", conn.RemoteAddr().String())

	done := make(chan struct{})

	// Writer: pump hub events and keepalive pings to the connection.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		defer conn.Close()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					L.Info(r.Context(), "viewer write failed, dropping", "error", err.Error())
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Reader: handle subscription ops until the connection drops.
	for {
		var op subscribeOp
		if err := conn.ReadJSON(&op); err != nil {
			break
		}
		if op.Op == "subscribe" {
			h.hub.SetChannels(id, op.Channels)
			L.Info(r.Context(), "subscription updated", "channels", op.Channels)
		}
	}

	close(done)
	h.hub.Unsubscribe(id)
	L.Info(r.Context(), "viewer disconnected")
}
