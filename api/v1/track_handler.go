// Package v1 exposes the public event ingestion API.
package v1

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	apphttp "linkpulse/internal/http"
	"linkpulse/internal/tracking"
)

// TrackHandler serves the /api/track endpoints.
type TrackHandler struct {
	tracker *tracking.Tracker
	logger  *slog.Logger
}

// NewTrackHandler wires the ingest handlers.
func NewTrackHandler(tracker *tracking.Tracker, logger *slog.Logger) *TrackHandler {
	return &TrackHandler{tracker: tracker, logger: logger}
}

// TrackViewParams is the POST /api/track/view body.
type TrackViewParams struct {
	ProfileID string    `json:"profileId"`
	SessionID string    `json:"sessionId"`
	Referrer  string    `json:"referrer"`
	Timestamp time.Time `json:"timestamp"`
}

// TrackClickParams is the POST /api/track/click body.
type TrackClickParams struct {
	ProfileID string    `json:"profileId"`
	LinkIndex int       `json:"linkIndex"`
	LinkTitle string    `json:"linkTitle"`
	LinkURL   string    `json:"linkUrl"`
	SessionID string    `json:"sessionId"`
	Referrer  string    `json:"referrer"`
	Timestamp time.Time `json:"timestamp"`
}

// BatchViewsParams is the POST /api/track/batch/views body.
type BatchViewsParams struct {
	Views []TrackViewParams `json:"views"`
}

// EndSessionParams is the POST /api/track/session/end body.
type EndSessionParams struct {
	SessionID string `json:"sessionId"`
}

// TrackView records one profile view.
func (h *TrackHandler) TrackView(c *fiber.Ctx) error {
	var params TrackViewParams
	if err := c.BodyParser(&params); err != nil {
		return apphttp.RespondError(c, fiber.NewError(fiber.StatusBadRequest, "invalid request body"))
	}

	viewID, sessionID, err := h.tracker.TrackView(c.UserContext(), tracking.ViewInput{
		ProfileID: params.ProfileID,
		SessionID: params.SessionID,
		VisitorIP: clientIP(c),
		UserAgent: userAgent(c),
		Referrer:  params.Referrer,
		Timestamp: params.Timestamp,
	})
	if err != nil {
		h.logger.Debug("Failed to track view", slog.Any("error", err))
		return apphttp.RespondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"viewId":    viewID,
			"sessionId": sessionID,
		},
	})
}

// TrackClick records one link click.
func (h *TrackHandler) TrackClick(c *fiber.Ctx) error {
	var params TrackClickParams
	if err := c.BodyParser(&params); err != nil {
		return apphttp.RespondError(c, fiber.NewError(fiber.StatusBadRequest, "invalid request body"))
	}

	clickID, sessionID, err := h.tracker.TrackClick(c.UserContext(), tracking.ClickInput{
		ProfileID: params.ProfileID,
		LinkIndex: params.LinkIndex,
		LinkTitle: params.LinkTitle,
		LinkURL:   params.LinkURL,
		SessionID: params.SessionID,
		VisitorIP: clientIP(c),
		UserAgent: userAgent(c),
		Referrer:  params.Referrer,
		Timestamp: params.Timestamp,
	})
	if err != nil {
		h.logger.Debug("Failed to track click", slog.Any("error", err))
		return apphttp.RespondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"clickId":   clickID,
			"sessionId": sessionID,
		},
	})
}

// BatchTrackViews records a batch of views in one transaction.
func (h *TrackHandler) BatchTrackViews(c *fiber.Ctx) error {
	var params BatchViewsParams
	if err := c.BodyParser(&params); err != nil {
		return apphttp.RespondError(c, fiber.NewError(fiber.StatusBadRequest, "invalid request body"))
	}

	ip, ua := clientIP(c), userAgent(c)
	inputs := make([]tracking.ViewInput, len(params.Views))
	for i, view := range params.Views {
		inputs[i] = tracking.ViewInput{
			ProfileID: view.ProfileID,
			SessionID: view.SessionID,
			VisitorIP: ip,
			UserAgent: ua,
			Referrer:  view.Referrer,
			Timestamp: view.Timestamp,
		}
	}

	tracked, err := h.tracker.BatchTrackViews(c.UserContext(), inputs)
	if err != nil {
		h.logger.Debug("Failed to track view batch", slog.Any("error", err))
		return apphttp.RespondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"trackedCount": tracked,
		},
	})
}

// EndSession closes an open session. Idempotent.
func (h *TrackHandler) EndSession(c *fiber.Ctx) error {
	var params EndSessionParams
	if err := c.BodyParser(&params); err != nil {
		return apphttp.RespondError(c, fiber.NewError(fiber.StatusBadRequest, "invalid request body"))
	}

	if err := h.tracker.EndSession(c.UserContext(), params.SessionID); err != nil {
		return apphttp.RespondError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// GetSession returns one session row.
func (h *TrackHandler) GetSession(c *fiber.Ctx) error {
	session, err := h.tracker.GetSession(c.UserContext(), c.Params("sessionId"))
	if err != nil {
		return apphttp.RespondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    session,
	})
}
