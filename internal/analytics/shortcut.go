package analytics

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"linkpulse/internal/timeframe"
)

// rollupSeriesFor builds a bucket map from the daily rollups instead of
// scanning raw rows. Valid only for ranges whose bounds fall on midnight UTC,
// that close before midnight UTC today, with day-or-coarser buckets; after
// the aggregator has processed the range the values are identical to the
// raw path.
func rollupSeriesFor(db *gorm.DB, column, profileID string, tf timeframe.TimeFrame) (map[string]int64, error) {
	if column != "views" && column != "clicks" {
		return nil, fmt.Errorf("unsupported rollup column: %s", column)
	}

	var rows []struct {
		Date  time.Time
		Count int64
	}
	query := fmt.Sprintf(`
		SELECT date, %s AS count
		FROM daily_stats
		WHERE profile_id = ? AND date >= ? AND date < ? AND %s > 0
	`, column, column)
	err := db.Raw(query, profileID, timeframe.DayUTC(tf.From), tf.To).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	buckets := make(map[string]int64, len(rows))
	for _, row := range rows {
		key := tf.Period.Format(tf.Period.Truncate(row.Date))
		buckets[key] += row.Count
	}
	return buckets, nil
}
