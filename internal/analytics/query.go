package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"linkpulse/internal/cache"
	"linkpulse/internal/database"
	"linkpulse/internal/errs"
	"linkpulse/internal/pkg/async"
	"linkpulse/internal/timeframe"
)

const queryFanOut = 8

// Service composes analytics reports. All dependencies are explicit.
type Service struct {
	dbManager *database.DBManager
	cache     cache.Cache
	logger    *slog.Logger
	pool      *async.Pool
	cacheTTL  time.Duration
}

// NewService wires the query layer.
func NewService(dbManager *database.DBManager, reportCache cache.Cache, logger *slog.Logger, cacheTTL time.Duration) *Service {
	if reportCache == nil {
		reportCache = cache.NewNoop()
	}
	return &Service{
		dbManager: dbManager,
		cache:     reportCache,
		logger:    logger,
		pool:      async.NewPool(queryFanOut),
		cacheTTL:  cacheTTL,
	}
}

// CacheKey composes the report cache key from the profile and the
// epoch-millisecond range bounds.
func CacheKey(profileID string, tf timeframe.TimeFrame) string {
	return fmt.Sprintf("analytics:%s:%d:%d", profileID, tf.From.UnixMilli(), tf.To.UnixMilli())
}

// GetAnalytics returns the report for a profile and range, from cache when
// fresh. On a miss the sub-queries fan out concurrently over the raw
// tables; ranges whose bounds fall on midnight UTC and that close before
// today read their time series from the daily rollups instead.
func (s *Service) GetAnalytics(ctx context.Context, profileID string, tf timeframe.TimeFrame) (*AnalyticsReport, error) {
	if profileID == "" {
		return nil, errs.Validation("profileId is required", "profileId")
	}

	key := CacheKey(profileID, tf)
	if payload, ok := s.cache.Get(ctx, key); ok {
		var report AnalyticsReport
		if err := json.Unmarshal(payload, &report); err == nil {
			return &report, nil
		}
		s.logger.Debug("Discarding undecodable cached report", slog.String("key", key))
	}

	report, err := s.buildReport(ctx, profileID, tf)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(report); err == nil {
		s.cache.Set(ctx, key, payload, s.cacheTTL)
	}

	return report, nil
}

// GetSummary returns the 30-day report ending now.
func (s *Service) GetSummary(ctx context.Context, profileID string) (*AnalyticsReport, error) {
	tf, err := timeframe.FromPreset("30d", time.Now())
	if err != nil {
		return nil, err
	}
	return s.GetAnalytics(ctx, profileID, tf)
}

func (s *Service) buildReport(ctx context.Context, profileID string, tf timeframe.TimeFrame) (*AnalyticsReport, error) {
	db := s.dbManager.GetConnection().WithContext(ctx)

	useRollupSeries := tf.EndsBeforeToday(time.Now()) && tf.Period != timeframe.PeriodHour &&
		tf.From.Equal(timeframe.DayUTC(tf.From)) && tf.To.Equal(timeframe.DayUTC(tf.To))

	tasks := []async.Task{
		{Name: "views", Execute: func(context.Context) (interface{}, error) {
			return totalsFor(db, "profile_views", profileID, tf)
		}},
		{Name: "clicks", Execute: func(context.Context) (interface{}, error) {
			return totalsFor(db, "link_clicks", profileID, tf)
		}},
		{Name: "viewSeries", Execute: func(context.Context) (interface{}, error) {
			if useRollupSeries {
				return rollupSeriesFor(db, "views", profileID, tf)
			}
			return seriesFor(db, "profile_views", profileID, tf)
		}},
		{Name: "clickSeries", Execute: func(context.Context) (interface{}, error) {
			if useRollupSeries {
				return rollupSeriesFor(db, "clicks", profileID, tf)
			}
			return seriesFor(db, "link_clicks", profileID, tf)
		}},
		{Name: "geo", Execute: func(context.Context) (interface{}, error) {
			return geographicFor(db, profileID, tf)
		}},
		{Name: "device", Execute: func(context.Context) (interface{}, error) {
			return deviceFor(db, profileID, tf)
		}},
		{Name: "referrer", Execute: func(context.Context) (interface{}, error) {
			return referrerFor(db, profileID, tf)
		}},
		{Name: "links", Execute: func(context.Context) (interface{}, error) {
			return linksFor(db, profileID, tf)
		}},
	}

	results := s.pool.Execute(ctx, tasks)
	for name, result := range results {
		if result.Err != nil {
			return nil, errs.Unavailable("analytics sub-query failed: "+name, result.Err)
		}
	}

	viewTotals := results["views"].Data.(eventTotals)
	clickTotals := results["clicks"].Data.(eventTotals)
	links := results["links"].Data.([]LinkPerformance)
	fillCTR(links, viewTotals.Total)

	report := &AnalyticsReport{
		ProfileViews:    viewTotals.Total,
		UniqueViews:     viewTotals.Unique,
		TotalClicks:     clickTotals.Total,
		UniqueClicks:    clickTotals.Unique,
		TotalLinks:      len(links),
		TimeSeriesData:  mergeSeries(results["viewSeries"].Data.(map[string]int64), results["clickSeries"].Data.(map[string]int64)),
		GeographicData:  results["geo"].Data.([]GeoPoint),
		DeviceData:      results["device"].Data.([]DevicePoint),
		ReferrerData:    results["referrer"].Data.([]ReferrerPoint),
		LinkPerformance: links,
	}

	if report.TotalLinks > 0 {
		report.AverageClicksPerLink = float64(report.TotalClicks) / float64(report.TotalLinks)
		top := report.LinkPerformance[0]
		report.TopLink = &top
	}

	return report, nil
}

// GetLinkAnalytics returns the period-scoped link slice of the report.
func (s *Service) GetLinkAnalytics(ctx context.Context, profileID string, tf timeframe.TimeFrame) (*AnalyticsReport, error) {
	report, err := s.GetAnalytics(ctx, profileID, tf)
	if err != nil {
		return nil, err
	}
	return &AnalyticsReport{
		ProfileViews:         report.ProfileViews,
		TotalClicks:          report.TotalClicks,
		UniqueClicks:         report.UniqueClicks,
		TotalLinks:           report.TotalLinks,
		AverageClicksPerLink: report.AverageClicksPerLink,
		TopLink:              report.TopLink,
		LinkPerformance:      report.LinkPerformance,
	}, nil
}

// GetGeoAnalytics returns the period-scoped geographic slice of the report.
func (s *Service) GetGeoAnalytics(ctx context.Context, profileID string, tf timeframe.TimeFrame) ([]GeoPoint, error) {
	report, err := s.GetAnalytics(ctx, profileID, tf)
	if err != nil {
		return nil, err
	}
	return report.GeographicData, nil
}
