package http

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"linkpulse/internal/analytics"
	"linkpulse/internal/errs"
	"linkpulse/internal/timeframe"
)

// AnalyticsHandler serves the /api/analytics endpoints.
type AnalyticsHandler struct {
	service *analytics.Service
	logger  *slog.Logger
}

// NewAnalyticsHandler wires the query handlers.
func NewAnalyticsHandler(service *analytics.Service, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{service: service, logger: logger}
}

// rangeFromQuery resolves the request's time range: explicit epoch-ms
// start/end bounds override the period preset, which defaults to 30d.
func rangeFromQuery(c *fiber.Ctx) (timeframe.TimeFrame, error) {
	startStr, endStr := c.Query("start"), c.Query("end")
	if startStr != "" || endStr != "" {
		startMs, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil {
			return timeframe.TimeFrame{}, errs.Validation("start must be epoch milliseconds", "start")
		}
		endMs, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return timeframe.TimeFrame{}, errs.Validation("end must be epoch milliseconds", "end")
		}
		period, err := timeframe.ParsePeriod(c.Query("granularity"))
		if err != nil {
			return timeframe.TimeFrame{}, err
		}
		return timeframe.FromBounds(startMs, endMs, period)
	}
	return timeframe.FromPreset(c.Query("period"), time.Now())
}

// GetProfileAnalytics returns the full report for a profile.
func (h *AnalyticsHandler) GetProfileAnalytics(c *fiber.Ctx) error {
	tf, err := rangeFromQuery(c)
	if err != nil {
		return RespondError(c, err)
	}

	report, err := h.service.GetAnalytics(c.UserContext(), c.Params("profileId"), tf)
	if err != nil {
		h.logger.Debug("Failed to build analytics report", slog.Any("error", err))
		return RespondError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "data": report})
}

// GetSummary returns the 30-day report.
func (h *AnalyticsHandler) GetSummary(c *fiber.Ctx) error {
	report, err := h.service.GetSummary(c.UserContext(), c.Params("profileId"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": report})
}

// GetRealtime returns the live tuple. Always fresh, never cached.
func (h *AnalyticsHandler) GetRealtime(c *fiber.Ctx) error {
	stats, err := h.service.GetRealTimeAnalytics(c.UserContext(), c.Params("profileId"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": stats})
}

// GetLinks returns the period-scoped link slice.
func (h *AnalyticsHandler) GetLinks(c *fiber.Ctx) error {
	tf, err := rangeFromQuery(c)
	if err != nil {
		return RespondError(c, err)
	}

	report, err := h.service.GetLinkAnalytics(c.UserContext(), c.Params("profileId"), tf)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": report})
}

// GetGeo returns the period-scoped geographic slice.
func (h *AnalyticsHandler) GetGeo(c *fiber.Ctx) error {
	tf, err := rangeFromQuery(c)
	if err != nil {
		return RespondError(c, err)
	}

	points, err := h.service.GetGeoAnalytics(c.UserContext(), c.Params("profileId"), tf)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": points})
}
