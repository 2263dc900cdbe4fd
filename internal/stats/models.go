// Package stats holds the five daily rollup tables and the batch
// aggregator that materializes them.
package stats

import "time"

// DailyStat is the per-profile per-day rollup. Ingest increments the
// views/clicks counters as hints; the aggregator recomputes every field
// for closed days.
type DailyStat struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	ProfileID    string    `gorm:"uniqueIndex:idx_daily_unique;not null"`
	Date         time.Time `gorm:"uniqueIndex:idx_daily_unique;type:datetime;not null"`
	Views        int       `gorm:"not null;default:0"`
	UniqueViews  int       `gorm:"not null;default:0"`
	Clicks       int       `gorm:"not null;default:0"`
	UniqueClicks int       `gorm:"not null;default:0"`
	Sessions     int       `gorm:"not null;default:0"`
	AvgDuration  float64   `gorm:"not null;default:0"`
	BounceRate   float64   `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LinkStat is the per-link per-day click rollup.
type LinkStat struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	ProfileID    string    `gorm:"uniqueIndex:idx_link_unique;not null"`
	LinkIndex    int       `gorm:"uniqueIndex:idx_link_unique;not null"`
	Date         time.Time `gorm:"uniqueIndex:idx_link_unique;type:datetime;not null"`
	LinkTitle    string
	LinkURL      string
	Clicks       int     `gorm:"not null;default:0"`
	UniqueClicks int     `gorm:"not null;default:0"`
	CTR          float64 `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GeoStat is the per-location per-day rollup. Rows without a resolved
// country are never written.
type GeoStat struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	ProfileID string    `gorm:"uniqueIndex:idx_geo_unique;not null"`
	Country   string    `gorm:"uniqueIndex:idx_geo_unique;not null"`
	City      string    `gorm:"uniqueIndex:idx_geo_unique"`
	Date      time.Time `gorm:"uniqueIndex:idx_geo_unique;type:datetime;not null"`
	Region    string
	Views     int `gorm:"not null;default:0"`
	Clicks    int `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeviceStat is the per-device per-day rollup. Browser and OS default to
// the empty string in the key when the user agent did not resolve.
type DeviceStat struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	ProfileID  string    `gorm:"uniqueIndex:idx_device_unique;not null"`
	DeviceType string    `gorm:"uniqueIndex:idx_device_unique"`
	Browser    string    `gorm:"uniqueIndex:idx_device_unique"`
	OS         string    `gorm:"uniqueIndex:idx_device_unique"`
	Date       time.Time `gorm:"uniqueIndex:idx_device_unique;type:datetime;not null"`
	Views      int       `gorm:"not null;default:0"`
	Clicks     int       `gorm:"not null;default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ReferrerStat is the per-referrer per-day rollup. The referrer column
// stores the raw string as observed; presentation-layer hostname reduction
// happens in the query layer.
type ReferrerStat struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	ProfileID    string    `gorm:"uniqueIndex:idx_referrer_unique;not null"`
	Referrer     string    `gorm:"uniqueIndex:idx_referrer_unique"`
	Date         time.Time `gorm:"uniqueIndex:idx_referrer_unique;type:datetime;not null"`
	ReferrerType string    `gorm:"not null"`
	Views        int       `gorm:"not null;default:0"`
	Clicks       int       `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
