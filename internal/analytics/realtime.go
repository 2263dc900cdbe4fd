package analytics

import (
	"context"
	"time"

	"linkpulse/internal/errs"
)

// Freshness windows for the live tuple.
const (
	activeUserWindow  = 5 * time.Minute
	recentEventWindow = 60 * time.Second
)

// GetRealTimeAnalytics returns the live tuple for a profile. This is the
// freshness path: it never consults the report cache.
func (s *Service) GetRealTimeAnalytics(ctx context.Context, profileID string) (*RealTimeStats, error) {
	if profileID == "" {
		return nil, errs.Validation("profileId is required", "profileId")
	}

	db := s.dbManager.GetConnection().WithContext(ctx)
	now := time.Now().UTC()

	var result RealTimeStats
	err := db.Raw(`
		SELECT
			(SELECT COUNT(*) FROM sessions
				WHERE profile_id = ? AND end_time IS NULL AND start_time >= ?) AS active_users,
			(SELECT COUNT(*) FROM profile_views
				WHERE profile_id = ? AND timestamp >= ?) AS recent_views,
			(SELECT COUNT(*) FROM link_clicks
				WHERE profile_id = ? AND timestamp >= ?) AS recent_clicks
	`, profileID, now.Add(-activeUserWindow),
		profileID, now.Add(-recentEventWindow),
		profileID, now.Add(-recentEventWindow)).Scan(&result).Error
	if err != nil {
		return nil, errs.Unavailable("failed to load realtime stats", err)
	}

	return &result, nil
}
