package stats

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"gorm.io/gorm"

	"linkpulse/internal/database"
	"linkpulse/internal/pkg/async"
	"linkpulse/internal/timeframe"
)

// Aggregator materializes the five rollup tables for a closed day. Runs are
// idempotent: per-key upserts replace all aggregated values, so repeating a
// day produces identical rows as long as the raw tables are unchanged.
type Aggregator struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	pool      *async.Pool
}

// NewAggregator creates the aggregator with a bounded per-profile worker
// pool of min(32, 2·cores).
func NewAggregator(dbManager *database.DBManager, logger *slog.Logger) *Aggregator {
	workers := runtime.NumCPU() * 2
	if workers > 32 {
		workers = 32
	}
	return &Aggregator{
		dbManager: dbManager,
		logger:    logger,
		pool:      async.NewPool(workers),
	}
}

// Run aggregates yesterday (UTC), the most recent closed day.
func (a *Aggregator) Run(ctx context.Context) error {
	return a.RunForDay(ctx, timeframe.Yesterday(time.Now()))
}

// RunForDay aggregates the given day for every profile with raw events in
// it. Profile passes run concurrently; a failed key is logged and does not
// stop the run.
func (a *Aggregator) RunForDay(ctx context.Context, day time.Time) error {
	day = timeframe.DayUTC(day)
	next := day.AddDate(0, 0, 1)
	db := a.dbManager.GetConnection()

	var profiles []string
	err := db.WithContext(ctx).Raw(`
		SELECT profile_id FROM profile_views WHERE timestamp >= ? AND timestamp < ?
		UNION
		SELECT profile_id FROM link_clicks WHERE timestamp >= ? AND timestamp < ?
	`, day, next, day, next).Scan(&profiles).Error
	if err != nil {
		return fmt.Errorf("failed to list profiles for day %s: %w", day.Format("2006-01-02"), err)
	}

	if len(profiles) == 0 {
		a.logger.Info("No raw events to aggregate", slog.Time("day", day))
		return nil
	}

	a.logger.Info("Starting aggregation",
		slog.Time("day", day),
		slog.Int("profiles", len(profiles)))

	tasks := make([]async.Task, len(profiles))
	for i, profileID := range profiles {
		pid := profileID
		tasks[i] = async.Task{
			Name: pid,
			Execute: func(taskCtx context.Context) (interface{}, error) {
				return nil, a.aggregateProfile(taskCtx, db, pid, day, next)
			},
		}
	}

	results := a.pool.Execute(ctx, tasks)
	failed := 0
	for name, result := range results {
		if result.Err != nil {
			failed++
			a.logger.Error("Profile aggregation failed",
				slog.String("profile_id", name),
				slog.Time("day", day),
				slog.Any("error", result.Err))
		}
	}

	a.logger.Info("Aggregation finished",
		slog.Time("day", day),
		slog.Int("profiles", len(profiles)),
		slog.Int("failed", failed))
	return nil
}

// aggregateProfile runs the five rollups for one profile. Cancellation is
// honored between rollups, never mid-key. A failed rollup is logged and the
// remaining ones still run.
func (a *Aggregator) aggregateProfile(ctx context.Context, db *gorm.DB, profileID string, day, next time.Time) error {
	rollups := []struct {
		name string
		run  func(*gorm.DB, string, time.Time, time.Time) error
	}{
		{"daily", a.rollupDaily},
		{"links", a.rollupLinks},
		{"geo", a.rollupGeo},
		{"device", a.rollupDevice},
		{"referrer", a.rollupReferrer},
	}

	var firstErr error
	for _, rollup := range rollups {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rollup.run(db, profileID, day, next); err != nil {
			a.logger.Error("Rollup failed",
				slog.String("rollup", rollup.name),
				slog.String("profile_id", profileID),
				slog.Time("day", day),
				slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (a *Aggregator) rollupDaily(db *gorm.DB, profileID string, day, next time.Time) error {
	var events struct {
		Views        int
		UniqueViews  int
		Clicks       int
		UniqueClicks int
	}
	err := db.Raw(`
		SELECT
			(SELECT COUNT(*) FROM profile_views
				WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?) AS views,
			(SELECT COUNT(DISTINCT CASE WHEN session_id != '' THEN session_id END) FROM profile_views
				WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?) AS unique_views,
			(SELECT COUNT(*) FROM link_clicks
				WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?) AS clicks,
			(SELECT COUNT(DISTINCT CASE WHEN session_id != '' THEN session_id END) FROM link_clicks
				WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?) AS unique_clicks
	`, profileID, day, next, profileID, day, next, profileID, day, next, profileID, day, next).
		Scan(&events).Error
	if err != nil {
		return fmt.Errorf("failed to count raw events: %w", err)
	}

	var sessions struct {
		Sessions           int
		AvgDuration        float64
		SinglePageSessions int
	}
	err = db.Raw(`
		SELECT
			COUNT(*) AS sessions,
			COALESCE(AVG(duration), 0) AS avg_duration,
			COALESCE(SUM(CASE WHEN page_views <= 1 THEN 1 ELSE 0 END), 0) AS single_page_sessions
		FROM sessions
		WHERE profile_id = ? AND start_time >= ? AND start_time < ?
	`, profileID, day, next).Scan(&sessions).Error
	if err != nil {
		return fmt.Errorf("failed to aggregate sessions: %w", err)
	}

	bounceRate := 0.0
	if sessions.Sessions > 0 {
		bounceRate = 100 * float64(sessions.SinglePageSessions) / float64(sessions.Sessions)
	}

	now := time.Now().UTC()
	return db.Exec(`
		INSERT INTO daily_stats (profile_id, date, views, unique_views, clicks, unique_clicks,
			sessions, avg_duration, bounce_rate, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (profile_id, date) DO UPDATE SET
			views = excluded.views,
			unique_views = excluded.unique_views,
			clicks = excluded.clicks,
			unique_clicks = excluded.unique_clicks,
			sessions = excluded.sessions,
			avg_duration = excluded.avg_duration,
			bounce_rate = excluded.bounce_rate,
			updated_at = excluded.updated_at
	`, profileID, day, events.Views, events.UniqueViews, events.Clicks, events.UniqueClicks,
		sessions.Sessions, sessions.AvgDuration, bounceRate, now, now).Error
}

func (a *Aggregator) rollupLinks(db *gorm.DB, profileID string, day, next time.Time) error {
	var totalViews int64
	err := db.Raw(`
		SELECT COUNT(*) FROM profile_views
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?
	`, profileID, day, next).Scan(&totalViews).Error
	if err != nil {
		return fmt.Errorf("failed to count views for ctr: %w", err)
	}

	var rows []struct {
		LinkIndex    int
		Clicks       int
		UniqueClicks int
		LinkTitle    string
		LinkURL      string
	}
	err = db.Raw(`
		SELECT
			link_index,
			COUNT(*) AS clicks,
			COUNT(DISTINCT CASE WHEN session_id != '' THEN session_id END) AS unique_clicks,
			COALESCE(MAX(CASE WHEN link_title != '' THEN link_title END), 'Untitled') AS link_title,
			COALESCE(MAX(CASE WHEN link_url != '' THEN link_url END), '') AS link_url
		FROM link_clicks
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY link_index
	`, profileID, day, next).Scan(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to group link clicks: %w", err)
	}

	now := time.Now().UTC()
	for _, row := range rows {
		ctr := 0.0
		if totalViews > 0 {
			ctr = 100 * float64(row.Clicks) / float64(totalViews)
		}
		err := db.Exec(`
			INSERT INTO link_stats (profile_id, link_index, date, link_title, link_url,
				clicks, unique_clicks, ctr, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (profile_id, link_index, date) DO UPDATE SET
				link_title = excluded.link_title,
				link_url = excluded.link_url,
				clicks = excluded.clicks,
				unique_clicks = excluded.unique_clicks,
				ctr = excluded.ctr,
				updated_at = excluded.updated_at
		`, profileID, row.LinkIndex, day, row.LinkTitle, row.LinkURL,
			row.Clicks, row.UniqueClicks, ctr, now, now).Error
		if err != nil {
			return fmt.Errorf("failed to upsert link stat %d: %w", row.LinkIndex, err)
		}
	}
	return nil
}

func (a *Aggregator) rollupGeo(db *gorm.DB, profileID string, day, next time.Time) error {
	var viewRows []struct {
		Country string
		City    string
		Region  string
		Views   int
	}
	err := db.Raw(`
		SELECT country, city, COALESCE(MAX(region), '') AS region, COUNT(*) AS views
		FROM profile_views
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ? AND country != ''
		GROUP BY country, city
	`, profileID, day, next).Scan(&viewRows).Error
	if err != nil {
		return fmt.Errorf("failed to group views by geo: %w", err)
	}

	var clickRows []struct {
		Country string
		City    string
		Clicks  int
	}
	err = db.Raw(`
		SELECT country, city, COUNT(*) AS clicks
		FROM link_clicks
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ? AND country != ''
		GROUP BY country, city
	`, profileID, day, next).Scan(&clickRows).Error
	if err != nil {
		return fmt.Errorf("failed to group clicks by geo: %w", err)
	}

	clicksByKey := make(map[string]int, len(clickRows))
	for _, row := range clickRows {
		clicksByKey[row.Country+"\x00"+row.City] = row.Clicks
	}

	now := time.Now().UTC()
	for _, row := range viewRows {
		err := db.Exec(`
			INSERT INTO geo_stats (profile_id, country, city, date, region, views, clicks, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (profile_id, country, city, date) DO UPDATE SET
				region = excluded.region,
				views = excluded.views,
				clicks = excluded.clicks,
				updated_at = excluded.updated_at
		`, profileID, row.Country, row.City, day, row.Region,
			row.Views, clicksByKey[row.Country+"\x00"+row.City], now, now).Error
		if err != nil {
			return fmt.Errorf("failed to upsert geo stat %s/%s: %w", row.Country, row.City, err)
		}
	}
	return nil
}

func (a *Aggregator) rollupDevice(db *gorm.DB, profileID string, day, next time.Time) error {
	var viewRows []struct {
		DeviceType string
		Browser    string
		OS         string
		Views      int
	}
	err := db.Raw(`
		SELECT device_type, browser, os, COUNT(*) AS views
		FROM profile_views
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY device_type, browser, os
	`, profileID, day, next).Scan(&viewRows).Error
	if err != nil {
		return fmt.Errorf("failed to group views by device: %w", err)
	}

	var clickRows []struct {
		DeviceType string
		Browser    string
		OS         string
		Clicks     int
	}
	err = db.Raw(`
		SELECT device_type, browser, os, COUNT(*) AS clicks
		FROM link_clicks
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY device_type, browser, os
	`, profileID, day, next).Scan(&clickRows).Error
	if err != nil {
		return fmt.Errorf("failed to group clicks by device: %w", err)
	}

	clicksByKey := make(map[string]int, len(clickRows))
	for _, row := range clickRows {
		clicksByKey[row.DeviceType+"\x00"+row.Browser+"\x00"+row.OS] = row.Clicks
	}

	now := time.Now().UTC()
	for _, row := range viewRows {
		err := db.Exec(`
			INSERT INTO device_stats (profile_id, device_type, browser, os, date, views, clicks, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (profile_id, device_type, browser, os, date) DO UPDATE SET
				views = excluded.views,
				clicks = excluded.clicks,
				updated_at = excluded.updated_at
		`, profileID, row.DeviceType, row.Browser, row.OS, day,
			row.Views, clicksByKey[row.DeviceType+"\x00"+row.Browser+"\x00"+row.OS], now, now).Error
		if err != nil {
			return fmt.Errorf("failed to upsert device stat %s: %w", row.DeviceType, err)
		}
	}
	return nil
}

func (a *Aggregator) rollupReferrer(db *gorm.DB, profileID string, day, next time.Time) error {
	var viewRows []struct {
		Referrer string
		Views    int
	}
	err := db.Raw(`
		SELECT referrer, COUNT(*) AS views
		FROM profile_views
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY referrer
	`, profileID, day, next).Scan(&viewRows).Error
	if err != nil {
		return fmt.Errorf("failed to group views by referrer: %w", err)
	}

	var clickRows []struct {
		Referrer string
		Clicks   int
	}
	err = db.Raw(`
		SELECT referrer, COUNT(*) AS clicks
		FROM link_clicks
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY referrer
	`, profileID, day, next).Scan(&clickRows).Error
	if err != nil {
		return fmt.Errorf("failed to group clicks by referrer: %w", err)
	}

	clicksByReferrer := make(map[string]int, len(clickRows))
	for _, row := range clickRows {
		clicksByReferrer[row.Referrer] = row.Clicks
	}

	now := time.Now().UTC()
	for _, row := range viewRows {
		err := db.Exec(`
			INSERT INTO referrer_stats (profile_id, referrer, date, referrer_type, views, clicks, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (profile_id, referrer, date) DO UPDATE SET
				referrer_type = excluded.referrer_type,
				views = excluded.views,
				clicks = excluded.clicks,
				updated_at = excluded.updated_at
		`, profileID, row.Referrer, day, ClassifyReferrer(row.Referrer),
			row.Views, clicksByReferrer[row.Referrer], now, now).Error
		if err != nil {
			return fmt.Errorf("failed to upsert referrer stat %q: %w", row.Referrer, err)
		}
	}
	return nil
}
