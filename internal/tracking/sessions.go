package tracking

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"linkpulse/internal/database"
	"linkpulse/internal/enrich"
	"linkpulse/internal/errs"
)

// upsertSession creates the session on its first event or stitches a
// subsequent event onto it. Concurrent writers to one session contend on
// this row; the transaction retry in PerformWrite resolves the race, and
// the final counters equal the number of committed events.
func upsertSession(tx *gorm.DB, profileID, sessionID string, geo enrich.Geo, device enrich.Device, visitorIP, userAgent string, ts time.Time, isClick bool) error {
	pageViewInc, linkClickInc := 1, 0
	if isClick {
		pageViewInc, linkClickInc = 0, 1
	}
	now := time.Now().UTC()
	query := `
		INSERT INTO sessions (session_id, profile_id, visitor_ip, user_agent,
			country, region, city, device_type, browser, os,
			start_time, page_views, link_clicks, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			end_time = ?,
			duration = CAST((JULIANDAY(?) - JULIANDAY(sessions.start_time)) * 86400 AS INTEGER),
			page_views = sessions.page_views + ?,
			link_clicks = sessions.link_clicks + ?,
			updated_at = ?
	`
	return tx.Exec(query,
		sessionID, profileID, visitorIP, userAgent,
		geo.Country, geo.Region, geo.City, device.DeviceType, device.Browser, device.OS,
		ts, pageViewInc, linkClickInc, now, now,
		ts, ts, pageViewInc, linkClickInc, now).Error
}

// upsertDailyViews bumps the view counter of the event's UTC day. The counter is a best-effort
// hint: the aggregator recomputes and replaces it for closed days.
func upsertDailyViews(tx *gorm.DB, profileID string, ts time.Time) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO daily_stats (profile_id, date, views, unique_views, clicks, unique_clicks, sessions, created_at, updated_at)
		VALUES (?, ?, 1, 0, 0, 0, 0, ?, ?)
		ON CONFLICT (profile_id, date) DO UPDATE SET
			views = daily_stats.views + 1,
			updated_at = ?
	`
	return tx.Exec(query, profileID, dayOf(ts), now, now, now).Error
}

// upsertDailyClicks bumps the click counter of the event's UTC day.
func upsertDailyClicks(tx *gorm.DB, profileID string, ts time.Time) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO daily_stats (profile_id, date, views, unique_views, clicks, unique_clicks, sessions, created_at, updated_at)
		VALUES (?, ?, 0, 0, 1, 0, 0, ?, ?)
		ON CONFLICT (profile_id, date) DO UPDATE SET
			clicks = daily_stats.clicks + 1,
			updated_at = ?
	`
	return tx.Exec(query, profileID, dayOf(ts), now, now, now).Error
}

// upsertLinkClicks bumps the per-link counter of the event's UTC day. Title and URL are set on
// create only; the aggregator is the source of truth for those strings.
func upsertLinkClicks(tx *gorm.DB, profileID string, linkIndex int, linkTitle, linkURL string, ts time.Time) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO link_stats (profile_id, link_index, date, link_title, link_url, clicks, unique_clicks, ctr, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, 0, 0, ?, ?)
		ON CONFLICT (profile_id, link_index, date) DO UPDATE SET
			clicks = link_stats.clicks + 1,
			updated_at = ?
	`
	return tx.Exec(query, profileID, linkIndex, dayOf(ts), linkTitle, linkURL, now, now, now).Error
}

// EndSession closes an open session. Idempotent: a session already closed,
// or unknown, leaves the store unchanged.
func (t *Tracker) EndSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errs.Validation("sessionId is required", "sessionId")
	}

	db := t.dbManager.GetConnection().WithContext(ctx)
	now := time.Now().UTC()
	err := database.PerformWrite(t.logger, db, func(tx *gorm.DB) error {
		query := `
			UPDATE sessions SET
				end_time = ?,
				duration = CAST((JULIANDAY(?) - JULIANDAY(start_time)) * 86400 AS INTEGER),
				updated_at = ?
			WHERE session_id = ? AND end_time IS NULL
		`
		return tx.Exec(query, now, now, now, sessionID).Error
	})
	if err != nil {
		return storeError("failed to end session", err)
	}
	return nil
}

// GetSession fetches one session row.
func (t *Tracker) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, errs.Validation("sessionId is required", "sessionId")
	}

	var session Session
	err := t.dbManager.GetConnection().WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("session not found: " + sessionID)
		}
		return nil, errs.Unavailable("failed to load session", err)
	}
	return &session, nil
}
