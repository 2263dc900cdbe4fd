package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"linkpulse/internal/errs"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 90 * time.Second
	maxMessageSize = 1024
)

// ClientMessage is one message sent by a dashboard client.
type ClientMessage struct {
	Type      string `json:"type"`      // "subscribe:profile", "unsubscribe:profile" or "ping"
	ProfileID string `json:"profileId"` // target profile for (un)subscribe
}

// UpgradeRequired only lets WebSocket upgrade requests through to the
// handler.
func UpgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WebsocketHandler returns the fiber handler implementing the subscriber
// protocol.
func (h *Hub) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		sub := NewSubscriber()
		h.Register(sub)
		defer h.Unregister(sub)

		h.logger.Debug("WebSocket client connected", slog.String("remote_addr", conn.RemoteAddr().String()))

		done := make(chan struct{})
		go h.writeLoop(conn, sub, done)
		h.readLoop(conn, sub)

		sub.flagClose()
		<-done
		h.logger.Debug("WebSocket client disconnected", slog.String("remote_addr", conn.RemoteAddr().String()))
	})
}

// writeLoop drains the subscriber queue onto the socket. It is the only
// goroutine writing to the connection.
func (h *Hub) writeLoop(conn *websocket.Conn, sub *Subscriber, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case msg := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				sub.flagClose()
				return
			}
		case <-sub.closed:
			// Drain whatever is already queued, then close the socket so
			// the read loop unblocks.
			for {
				select {
				case msg := <-sub.send:
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					if conn.WriteJSON(msg) != nil {
						conn.Close()
						return
					}
				default:
					conn.Close()
					return
				}
			}
		}
	}
}

func (h *Hub) readLoop(conn *websocket.Conn, sub *Subscriber) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "subscribe:profile":
			h.handleSubscribe(sub, msg.ProfileID)
		case "unsubscribe:profile":
			if msg.ProfileID != "" {
				h.Unsubscribe(sub, msg.ProfileID)
			}
		case "ping":
			sub.offer(Envelope{Type: MsgPong, Timestamp: time.Now().UnixMilli()})
		default:
			sub.offer(Envelope{
				Type:      MsgError,
				Message:   "unknown message type: " + msg.Type,
				Code:      CodeSubscriptionError,
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}
}

// handleSubscribe verifies the profile on-chain, attaches the subscriber
// and sends the initial live tuple. Verification transport failures are
// unknown, not not-exists: the subscription is rejected with
// SUBSCRIPTION_ERROR rather than PROFILE_NOT_FOUND.
func (h *Hub) handleSubscribe(sub *Subscriber, profileID string) {
	now := time.Now().UnixMilli()
	if profileID == "" {
		sub.offer(Envelope{Type: MsgError, Message: "profileId is required", Code: CodeSubscriptionError, Timestamp: now})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := h.chainAdapter.ProfileExists(ctx, profileID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			sub.offer(Envelope{Type: MsgError, Message: "profile not found: " + profileID, Code: CodeProfileNotFound, Timestamp: now})
			return
		}
		sub.offer(Envelope{Type: MsgError, Message: "failed to verify profile", Code: CodeSubscriptionError, Timestamp: now})
		return
	}
	if !exists {
		sub.offer(Envelope{Type: MsgError, Message: "profile not found: " + profileID, Code: CodeProfileNotFound, Timestamp: now})
		return
	}

	h.Subscribe(sub, profileID)
	h.pushRealtime(ctx, profileID, sub)
}
