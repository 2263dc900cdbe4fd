package tracking

import "time"

// ProfileView is one recorded load of a profile page.
type ProfileView struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	ProfileID  string `gorm:"index:idx_views_profile_timestamp;not null"`
	SessionID  string `gorm:"index"`
	VisitorIP  string
	UserAgent  string
	Referrer   string
	Country    string
	Region     string
	City       string
	DeviceType string
	Browser    string
	OS         string
	Timestamp  time.Time `gorm:"index:idx_views_profile_timestamp;not null"`
	CreatedAt  time.Time
}

// LinkClick is one recorded click on a profile link.
type LinkClick struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	ProfileID  string `gorm:"index:idx_clicks_profile_timestamp;not null"`
	SessionID  string `gorm:"index"`
	LinkIndex  int    `gorm:"not null"`
	LinkTitle  string
	LinkURL    string
	VisitorIP  string
	UserAgent  string
	Referrer   string
	Country    string
	Region     string
	City       string
	DeviceType string
	Browser    string
	OS         string
	Timestamp  time.Time `gorm:"index:idx_clicks_profile_timestamp;not null"`
	CreatedAt  time.Time
}

// Session is a contiguous activity span by one visitor. StartTime never
// exceeds EndTime; Duration is their difference in seconds.
type Session struct {
	SessionID  string `gorm:"primaryKey;size:64"`
	ProfileID  string `gorm:"index;not null"`
	VisitorIP  string
	UserAgent  string
	Country    string
	Region     string
	City       string
	DeviceType string
	Browser    string
	OS         string
	StartTime  time.Time `gorm:"index;not null"`
	EndTime    *time.Time
	Duration   *int // seconds
	PageViews  int  `gorm:"not null;default:0"`
	LinkClicks int  `gorm:"not null;default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Realtime event kinds stored on the durable bus.
const (
	RealtimeKindView  = "view"
	RealtimeKindClick = "click"
)

// RealtimeEvent is an optional durable bus row giving the realtime fan-out
// at-least-once delivery across restarts.
type RealtimeEvent struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ProfileID string `gorm:"index;not null"`
	Kind      string `gorm:"not null"`
	Payload   string `gorm:"type:text"`
	Timestamp time.Time `gorm:"not null"`
	Processed int       `gorm:"index;not null;default:0"`
	CreatedAt time.Time
}
