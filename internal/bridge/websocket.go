package bridge

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512
)

// WSConfig configures the WebSocket endpoint
type WSConfig struct {
	Heartbeat   time.Duration
	CheckOrigin func(r *http.Request) bool
}

// ServeWS upgrades the request and writes the same JSON frames the SSE
// stream carries. Client messages are read and discarded so control
// frames are processed and disconnects are noticed.
func ServeWS(h *Hub, cfg WSConfig) http.HandlerFunc {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     cfg.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	pongWait := 2 * cfg.Heartbeat

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.WithError(err).Debug("WebSocket upgrade failed")
			return
		}
		defer conn.Close()

		sub := h.Subscribe()
		defer sub.Close()

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			conn.SetReadLimit(maxMessageSize)
			conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(cfg.Heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-gone:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case f, ok := <-sub.Frames():
				if !ok {
					msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "evicted")
					conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(f); err != nil {
					return
				}
			}
		}
	}
}
