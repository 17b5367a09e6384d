// Package ws bridges websocket connections to document rooms.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/coreadhq/coread-backend/internal/hub"
	"github.com/coreadhq/coread-backend/internal/protocol"
	"github.com/coreadhq/coread-backend/internal/room"
)

const writeTimeout = 3 * time.Second

// Keepalive policy: a peer that misses a pong within pingTimeout is torn
// down so the room can reap it. Vars so tests can shorten the cadence.
var (
	pingInterval = 15 * time.Second
	pingTimeout  = 5 * time.Second
)

func Handler(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session")
		userID := r.URL.Query().Get("user")
		name := r.URL.Query().Get("name")
		if sessionID == "" || userID == "" {
			http.Error(w, "missing session or user", http.StatusBadRequest)
			return
		}
		if name == "" {
			name = userID
		}

		rm := h.Room(sessionID)
		if rm == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan protocol.Message, 16)
		rm.Inbox() <- room.Join{UserID: userID, DisplayName: name, Outbox: out}
		// The outbox doubles as a connection token: a rejoin under the
		// same user id must not be evicted by this handler's leave.
		defer func() { rm.Inbox() <- room.Leave{UserID: userID, Conn: out} }()

		log := logger.With(zap.String("session", sessionID), zap.String("user_id", userID))

		connCtx, connCancel := context.WithCancel(r.Context())
		defer connCancel()

		// Writer goroutine
		go func() {
			for msg := range out {
				ctx, cancel := context.WithTimeout(connCtx, writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, msg.Encode())
				cancel()
				if err != nil {
					return
				}
			}
		}()

		// Keepalive goroutine. The reader loop below services the pongs.
		go func() {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-connCtx.Done():
					return
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(connCtx, pingTimeout)
					err := conn.Ping(ctx)
					cancel()
					if err != nil {
						if connCtx.Err() == nil {
							log.Debug("keepalive failed", zap.Error(err))
						}
						connCancel()
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(connCtx)
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Otherwise, just exit (room.Leave in defer):
				return
			}

			var msg protocol.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = conn.Write(connCtx, websocket.MessageText,
					protocol.Message{Type: protocol.TypeError, Code: protocol.CodeBadJSON, Error: "malformed frame"}.Encode())
				continue
			}

			switch msg.Type {
			case protocol.TypePageSync, protocol.TypeTransferRequest:
				rm.Inbox() <- room.FromClient{UserID: userID, Msg: msg}
			case protocol.TypeLeave:
				return
			default:
				log.Debug("unsupported frame", zap.String("type", msg.Type))
				_ = conn.Write(connCtx, websocket.MessageText,
					protocol.Message{Type: protocol.TypeError, Code: protocol.CodeUnknownType, Error: "unsupported message type"}.Encode())
			}
		}
	}
}
