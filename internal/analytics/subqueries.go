package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/pariz/gountries"
	"gorm.io/gorm"

	"linkpulse/internal/stats"
	"linkpulse/internal/timeframe"
)

const breakdownLimit = 10

var countryIndex = gountries.New()

type eventTotals struct {
	Total  int64
	Unique int64
}

// totalsFor counts rows and distinct non-empty session ids in the range for
// one raw table.
func totalsFor(db *gorm.DB, table, profileID string, tf timeframe.TimeFrame) (eventTotals, error) {
	var result eventTotals
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) AS total,
			COUNT(DISTINCT CASE WHEN session_id != '' THEN session_id END) AS "unique"
		FROM %s
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?
	`, table)
	err := db.Raw(query, profileID, tf.From, tf.To).Scan(&result).Error
	return result, err
}

type bucketCount struct {
	Bucket string
	Count  int64
}

// seriesFor groups a raw table into presentation buckets. SQLite groups at
// hour or day granularity; week and month buckets are merged in Go so ISO
// week numbering stays correct.
func seriesFor(db *gorm.DB, table, profileID string, tf timeframe.TimeFrame) (map[string]int64, error) {
	sqlFormat := "%Y-%m-%d"
	if tf.Period == timeframe.PeriodHour {
		sqlFormat = "%Y-%m-%d %H:00"
	}

	var rows []bucketCount
	query := fmt.Sprintf(`
		SELECT strftime('%s', timestamp) AS bucket, COUNT(*) AS count
		FROM %s
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY bucket
	`, sqlFormat, table)
	err := db.Raw(query, profileID, tf.From, tf.To).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	buckets := make(map[string]int64, len(rows))
	for _, row := range rows {
		key := row.Bucket
		if tf.Period == timeframe.PeriodWeek || tf.Period == timeframe.PeriodMonth {
			day, err := time.ParseInLocation("2006-01-02", row.Bucket, time.UTC)
			if err != nil {
				continue
			}
			key = tf.Period.Format(tf.Period.Truncate(day))
		}
		buckets[key] += row.Count
	}
	return buckets, nil
}

// mergeSeries joins the view and click bucket maps into one chronological
// series. Bucket labels sort lexicographically in chronological order for
// every period format.
func mergeSeries(views, clicks map[string]int64) []TimeSeriesPoint {
	labels := make(map[string]struct{}, len(views)+len(clicks))
	for label := range views {
		labels[label] = struct{}{}
	}
	for label := range clicks {
		labels[label] = struct{}{}
	}

	series := make([]TimeSeriesPoint, 0, len(labels))
	for label := range labels {
		series = append(series, TimeSeriesPoint{
			Date:   label,
			Views:  views[label],
			Clicks: clicks[label],
		})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })
	return series
}

// geographicFor builds the top-N geographic breakdown from the raw tables.
func geographicFor(db *gorm.DB, profileID string, tf timeframe.TimeFrame) ([]GeoPoint, error) {
	var viewRows []struct {
		Country string
		City    string
		Region  string
		Views   int64
	}
	err := db.Raw(`
		SELECT country, city, COALESCE(MAX(region), '') AS region, COUNT(*) AS views
		FROM profile_views
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ? AND country != ''
		GROUP BY country, city
		ORDER BY views DESC
		LIMIT ?
	`, profileID, tf.From, tf.To, breakdownLimit).Scan(&viewRows).Error
	if err != nil {
		return nil, err
	}

	var clickRows []struct {
		Country string
		City    string
		Clicks  int64
	}
	err = db.Raw(`
		SELECT country, city, COUNT(*) AS clicks
		FROM link_clicks
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ? AND country != ''
		GROUP BY country, city
	`, profileID, tf.From, tf.To).Scan(&clickRows).Error
	if err != nil {
		return nil, err
	}

	clicksByKey := make(map[string]int64, len(clickRows))
	for _, row := range clickRows {
		clicksByKey[row.Country+"\x00"+row.City] = row.Clicks
	}

	points := make([]GeoPoint, 0, len(viewRows))
	for _, row := range viewRows {
		points = append(points, GeoPoint{
			Country:     row.Country,
			CountryName: countryName(row.Country),
			Region:      row.Region,
			City:        row.City,
			Views:       row.Views,
			Clicks:      clicksByKey[row.Country+"\x00"+row.City],
		})
	}
	return points, nil
}

func countryName(isoCode string) string {
	country, err := countryIndex.FindCountryByAlpha(isoCode)
	if err != nil {
		return ""
	}
	return country.Name.Common
}

// deviceFor builds the device breakdown from the raw tables.
func deviceFor(db *gorm.DB, profileID string, tf timeframe.TimeFrame) ([]DevicePoint, error) {
	var viewRows []struct {
		DeviceType string
		Browser    string
		OS         string
		Views      int64
	}
	err := db.Raw(`
		SELECT device_type, browser, os, COUNT(*) AS views
		FROM profile_views
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY device_type, browser, os
		ORDER BY views DESC
	`, profileID, tf.From, tf.To).Scan(&viewRows).Error
	if err != nil {
		return nil, err
	}

	var clickRows []struct {
		DeviceType string
		Browser    string
		OS         string
		Clicks     int64
	}
	err = db.Raw(`
		SELECT device_type, browser, os, COUNT(*) AS clicks
		FROM link_clicks
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY device_type, browser, os
	`, profileID, tf.From, tf.To).Scan(&clickRows).Error
	if err != nil {
		return nil, err
	}

	clicksByKey := make(map[string]int64, len(clickRows))
	for _, row := range clickRows {
		clicksByKey[row.DeviceType+"\x00"+row.Browser+"\x00"+row.OS] = row.Clicks
	}

	points := make([]DevicePoint, 0, len(viewRows))
	for _, row := range viewRows {
		points = append(points, DevicePoint{
			DeviceType: row.DeviceType,
			Browser:    row.Browser,
			OS:         row.OS,
			Views:      row.Views,
			Clicks:     clicksByKey[row.DeviceType+"\x00"+row.Browser+"\x00"+row.OS],
		})
	}
	return points, nil
}

// referrerFor builds the top-N referrer breakdown. Storage keeps the raw
// referrer string; presentation reduces it to a hostname when parseable.
func referrerFor(db *gorm.DB, profileID string, tf timeframe.TimeFrame) ([]ReferrerPoint, error) {
	var viewRows []struct {
		Referrer string
		Views    int64
	}
	err := db.Raw(`
		SELECT referrer, COUNT(*) AS views
		FROM profile_views
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY referrer
		ORDER BY views DESC
		LIMIT ?
	`, profileID, tf.From, tf.To, breakdownLimit).Scan(&viewRows).Error
	if err != nil {
		return nil, err
	}

	var clickRows []struct {
		Referrer string
		Clicks   int64
	}
	err = db.Raw(`
		SELECT referrer, COUNT(*) AS clicks
		FROM link_clicks
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY referrer
	`, profileID, tf.From, tf.To).Scan(&clickRows).Error
	if err != nil {
		return nil, err
	}

	clicksByReferrer := make(map[string]int64, len(clickRows))
	for _, row := range clickRows {
		clicksByReferrer[row.Referrer] = row.Clicks
	}

	points := make([]ReferrerPoint, 0, len(viewRows))
	for _, row := range viewRows {
		presented := stats.ReferrerHostname(row.Referrer)
		if presented == "" {
			presented = "direct"
		}
		points = append(points, ReferrerPoint{
			Referrer:     presented,
			ReferrerType: stats.ClassifyReferrer(row.Referrer),
			Views:        row.Views,
			Clicks:       clicksByReferrer[row.Referrer],
		})
	}
	return points, nil
}

// linksFor builds the per-link breakdown ordered by clicks descending.
// CTR is filled in by the composer once the range's view total is known.
func linksFor(db *gorm.DB, profileID string, tf timeframe.TimeFrame) ([]LinkPerformance, error) {
	var rows []struct {
		LinkIndex    int
		LinkTitle    string
		LinkURL      string
		Clicks       int64
		UniqueClicks int64
	}
	err := db.Raw(`
		SELECT
			link_index,
			COALESCE(MAX(CASE WHEN link_title != '' THEN link_title END), 'Untitled') AS link_title,
			COALESCE(MAX(CASE WHEN link_url != '' THEN link_url END), '') AS link_url,
			COUNT(*) AS clicks,
			COUNT(DISTINCT CASE WHEN session_id != '' THEN session_id END) AS unique_clicks
		FROM link_clicks
		WHERE profile_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY link_index
		ORDER BY clicks DESC, link_index ASC
	`, profileID, tf.From, tf.To).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	links := make([]LinkPerformance, 0, len(rows))
	for _, row := range rows {
		links = append(links, LinkPerformance{
			LinkIndex:    row.LinkIndex,
			Title:        row.LinkTitle,
			URL:          row.LinkURL,
			Clicks:       row.Clicks,
			UniqueClicks: row.UniqueClicks,
		})
	}
	return links, nil
}

// fillCTR computes each link's click-through rate against the range's view
// total; zero views yield zero CTR.
func fillCTR(links []LinkPerformance, totalViews int64) {
	if totalViews <= 0 {
		return
	}
	for i := range links {
		links[i].CTR = 100 * float64(links[i].Clicks) / float64(totalViews)
	}
}
