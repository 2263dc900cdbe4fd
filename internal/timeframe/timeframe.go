// Package timeframe handles analytics time ranges and bucket truncation.
// All date bucketing is midnight-UTC based; the process timezone is never
// consulted.
package timeframe

import (
	"fmt"
	"time"

	"linkpulse/internal/errs"
)

// Period is the time-series bucket granularity.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// TimeFrame is a half-open [From, To) query range.
type TimeFrame struct {
	From   time.Time
	To     time.Time
	Period Period
}

// DayUTC truncates t to midnight UTC of the same day.
func DayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Yesterday returns the midnight-UTC start of the day before now.
func Yesterday(now time.Time) time.Time {
	return DayUTC(now).AddDate(0, 0, -1)
}

// Truncate snaps t to the start of its bucket for the given period.
func (p Period) Truncate(t time.Time) time.Time {
	u := t.UTC()
	switch p {
	case PeriodHour:
		return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
	case PeriodWeek:
		day := DayUTC(u)
		// ISO weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonth:
		return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return DayUTC(u)
	}
}

// Format renders a bucket start for presentation.
func (p Period) Format(t time.Time) string {
	u := t.UTC()
	switch p {
	case PeriodHour:
		return u.Format("2006-01-02 15:00")
	case PeriodWeek:
		year, week := u.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case PeriodMonth:
		return u.Format("2006-01")
	default:
		return u.Format("2006-01-02")
	}
}

// ParsePeriod validates a period string.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodHour, PeriodDay, PeriodWeek, PeriodMonth:
		return Period(s), nil
	case "":
		return PeriodDay, nil
	}
	return "", errs.Validation("unknown period: "+s, "period")
}

// presetDays maps the HTTP period presets to their day spans.
var presetDays = map[string]int{
	"7d":  7,
	"30d": 30,
	"90d": 90,
	"1y":  365,
}

// FromPreset builds a TimeFrame ending now from a preset like "30d".
// The bucket granularity is hour for 7d, month for 1y and day otherwise.
func FromPreset(preset string, now time.Time) (TimeFrame, error) {
	if preset == "" {
		preset = "30d"
	}
	days, ok := presetDays[preset]
	if !ok {
		return TimeFrame{}, errs.Validation("unknown period: "+preset, "period")
	}
	period := PeriodDay
	if days <= 7 {
		period = PeriodHour
	}
	if days >= 365 {
		period = PeriodMonth
	}
	end := now.UTC()
	return TimeFrame{
		From:   end.AddDate(0, 0, -days),
		To:     end,
		Period: period,
	}, nil
}

// FromBounds builds a TimeFrame from explicit epoch-millisecond bounds.
func FromBounds(startMs, endMs int64, period Period) (TimeFrame, error) {
	if startMs <= 0 || endMs <= 0 {
		return TimeFrame{}, errs.Validation("start and end must be positive epoch milliseconds", "start", "end")
	}
	from := time.UnixMilli(startMs).UTC()
	to := time.UnixMilli(endMs).UTC()
	if !from.Before(to) {
		return TimeFrame{}, errs.Validation("start must precede end", "start", "end")
	}
	return TimeFrame{From: from, To: to, Period: period}, nil
}

// EndsBeforeToday reports whether the range closes before midnight UTC of
// the current day, making it eligible for the rollup shortcut.
func (tf TimeFrame) EndsBeforeToday(now time.Time) bool {
	return !tf.To.After(DayUTC(now))
}

// Days iterates the midnight-UTC days covered by the frame, inclusive of the
// day containing From and exclusive of To when To is itself a midnight.
func (tf TimeFrame) Days() []time.Time {
	var days []time.Time
	for d := DayUTC(tf.From); d.Before(tf.To); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
