package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

const sseInterval = 5 * time.Second

// SSEHandler streams analytics:realtime payloads for a single profile as
// Server-Sent Events until the client disconnects.
func (h *Hub) SSEHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		profileID := c.Params("profileId")
		if profileID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "profileId is required")
		}

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			h.streamProfile(profileID, w)
		}))
		return nil
	}
}

func (h *Hub) streamProfile(profileID string, w *bufio.Writer) {
	ticker := time.NewTicker(sseInterval)
	defer ticker.Stop()

	// Initial event, then one every interval. A failed flush means the
	// client went away.
	for {
		if !h.writeSSEEvent(profileID, w) {
			return
		}
		<-ticker.C
	}
}

func (h *Hub) writeSSEEvent(profileID string, w *bufio.Writer) bool {
	ctx, cancel := context.WithTimeout(context.Background(), sseInterval)
	stats, err := h.analytics.GetRealTimeAnalytics(ctx, profileID)
	cancel()
	if err != nil {
		h.logger.Debug("SSE stats lookup failed",
			slog.String("profile_id", profileID),
			slog.Any("error", err))
		// Keep the stream open; the next tick retries.
		return flushSSE(w, Envelope{
			Type:      MsgError,
			ProfileID: profileID,
			Message:   "failed to load realtime stats",
			Code:      CodeSubscriptionError,
			Timestamp: time.Now().UnixMilli(),
		})
	}

	return flushSSE(w, Envelope{
		Type:      MsgRealtime,
		ProfileID: profileID,
		Data:      stats,
		Timestamp: time.Now().UnixMilli(),
	})
}

func flushSSE(w *bufio.Writer, msg Envelope) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	if _, err := w.WriteString("data: " + string(payload) + "\n\n"); err != nil {
		return false
	}
	return w.Flush() == nil
}
