package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// wsWriteTimeout bounds a single event write; a client that cannot drain
// one event within it is disconnected.
const wsWriteTimeout = 5 * time.Second

// handleEvents serves GET /ws/events: a WebSocket stream of activity
// events (memory.stored, memory.deleted, screen.captured,
// retention.purged, skills.synced). Authentication uses the same bearer
// keys as the action endpoints; clients that cannot set headers pass
// ?access_token= instead.
func (g *Gateway) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.authorize(r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: g.config.origins(),
		})
		if err != nil {
			g.logger.Warn("websocket accept failed", "error", err)
			return
		}

		ch, cancelSub := g.hub.Subscribe()
		defer cancelSub()
		g.logger.Debug("event subscriber connected", "remote", r.RemoteAddr)

		// CloseRead rejects inbound frames and cancels the context when
		// the peer disconnects; the stream is strictly server-to-client.
		ctx := conn.CloseRead(r.Context())

		for {
			select {
			case <-ctx.Done():
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			case evt, ok := <-ch:
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "event hub closed")
					return
				}
				data, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
				err = conn.Write(writeCtx, websocket.MessageText, data)
				cancel()
				if err != nil {
					g.logger.Debug("event subscriber dropped", "remote", r.RemoteAddr, "error", err)
					return
				}
			}
		}
	}
}
