package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkpulse/internal/stats"
	"linkpulse/internal/testsupport"
	"linkpulse/internal/timeframe"
	"linkpulse/internal/tracking"
)

func TestAggregatorIdempotence(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	db := dm.GetConnection()

	yesterday := timeframe.Yesterday(time.Now())
	at := func(offset time.Duration) time.Time { return yesterday.Add(10*time.Hour + offset) }

	// 10 views in session S1, 3 clicks in session S2.
	for i := 0; i < 10; i++ {
		require.NoError(t, db.Create(&tracking.ProfileView{
			ProfileID: "P1", SessionID: "S1", Timestamp: at(time.Duration(i) * time.Minute),
		}).Error)
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&tracking.LinkClick{
			ProfileID: "P1", SessionID: "S2", LinkIndex: 0, Timestamp: at(time.Duration(i) * time.Minute),
		}).Error)
	}
	duration := 540
	end1 := at(9 * time.Minute)
	end2 := at(2 * time.Minute)
	require.NoError(t, db.Create(&tracking.Session{
		SessionID: "S1", ProfileID: "P1", StartTime: at(0), EndTime: &end1, Duration: &duration,
		PageViews: 10, LinkClicks: 0,
	}).Error)
	clickDuration := 120
	require.NoError(t, db.Create(&tracking.Session{
		SessionID: "S2", ProfileID: "P1", StartTime: at(0), EndTime: &end2, Duration: &clickDuration,
		PageViews: 0, LinkClicks: 3,
	}).Error)

	aggregator := stats.NewAggregator(dm, testsupport.Logger())

	fetch := func() stats.DailyStat {
		var daily stats.DailyStat
		require.NoError(t, db.Where("profile_id = ? AND date = ?", "P1", yesterday).First(&daily).Error)
		return daily
	}

	require.NoError(t, aggregator.RunForDay(context.Background(), yesterday))
	first := fetch()

	assert.Equal(t, 10, first.Views)
	assert.Equal(t, 1, first.UniqueViews)
	assert.Equal(t, 3, first.Clicks)
	assert.Equal(t, 1, first.UniqueClicks)
	assert.Equal(t, 2, first.Sessions)
	assert.InDelta(t, 50.0, first.BounceRate, 0.01)
	assert.InDelta(t, 330.0, first.AvgDuration, 0.01)

	// Running again must produce identical rollup rows.
	require.NoError(t, aggregator.RunForDay(context.Background(), yesterday))
	second := fetch()

	assert.Equal(t, first.Views, second.Views)
	assert.Equal(t, first.UniqueViews, second.UniqueViews)
	assert.Equal(t, first.Clicks, second.Clicks)
	assert.Equal(t, first.UniqueClicks, second.UniqueClicks)
	assert.Equal(t, first.Sessions, second.Sessions)
	assert.Equal(t, first.BounceRate, second.BounceRate)
	assert.Equal(t, first.AvgDuration, second.AvgDuration)

	var rowCount int64
	require.NoError(t, db.Model(&stats.DailyStat{}).Where("profile_id = ?", "P1").Count(&rowCount).Error)
	assert.EqualValues(t, 1, rowCount)
}

func TestAggregatorLinkRollup(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	db := dm.GetConnection()

	yesterday := timeframe.Yesterday(time.Now())
	ts := yesterday.Add(12 * time.Hour)

	for i := 0; i < 4; i++ {
		require.NoError(t, db.Create(&tracking.ProfileView{
			ProfileID: "P2", SessionID: "SV", Timestamp: ts,
		}).Error)
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, db.Create(&tracking.LinkClick{
			ProfileID: "P2", SessionID: "SA", LinkIndex: 0, LinkTitle: "A", LinkURL: "https://a.example", Timestamp: ts,
		}).Error)
	}
	require.NoError(t, db.Create(&tracking.LinkClick{
		ProfileID: "P2", SessionID: "SB", LinkIndex: 1, Timestamp: ts,
	}).Error)

	aggregator := stats.NewAggregator(dm, testsupport.Logger())
	require.NoError(t, aggregator.RunForDay(context.Background(), yesterday))

	var linkA stats.LinkStat
	require.NoError(t, db.Where("profile_id = ? AND link_index = ? AND date = ?", "P2", 0, yesterday).First(&linkA).Error)
	assert.Equal(t, 2, linkA.Clicks)
	assert.Equal(t, 1, linkA.UniqueClicks)
	assert.Equal(t, "A", linkA.LinkTitle)
	assert.InDelta(t, 50.0, linkA.CTR, 0.01) // 2 clicks / 4 views

	var linkB stats.LinkStat
	require.NoError(t, db.Where("profile_id = ? AND link_index = ? AND date = ?", "P2", 1, yesterday).First(&linkB).Error)
	assert.Equal(t, "Untitled", linkB.LinkTitle)
	assert.Equal(t, "", linkB.LinkURL)
	assert.InDelta(t, 25.0, linkB.CTR, 0.01)
}

func TestAggregatorGeoExcludesUnknownCountry(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	db := dm.GetConnection()

	yesterday := timeframe.Yesterday(time.Now())
	ts := yesterday.Add(8 * time.Hour)

	require.NoError(t, db.Create(&tracking.ProfileView{
		ProfileID: "P3", SessionID: "S1", Country: "DE", City: "Berlin", Region: "BE", Timestamp: ts,
	}).Error)
	require.NoError(t, db.Create(&tracking.ProfileView{
		ProfileID: "P3", SessionID: "S1", Timestamp: ts, // no resolved country
	}).Error)
	require.NoError(t, db.Create(&tracking.LinkClick{
		ProfileID: "P3", SessionID: "S1", LinkIndex: 0, Country: "DE", City: "Berlin", Timestamp: ts,
	}).Error)

	aggregator := stats.NewAggregator(dm, testsupport.Logger())
	require.NoError(t, aggregator.RunForDay(context.Background(), yesterday))

	var geoRows []stats.GeoStat
	require.NoError(t, db.Where("profile_id = ?", "P3").Find(&geoRows).Error)
	require.Len(t, geoRows, 1)
	assert.Equal(t, "DE", geoRows[0].Country)
	assert.Equal(t, "Berlin", geoRows[0].City)
	assert.Equal(t, "BE", geoRows[0].Region)
	assert.Equal(t, 1, geoRows[0].Views)
	assert.Equal(t, 1, geoRows[0].Clicks)
}

func TestAggregatorDeviceRollup(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	db := dm.GetConnection()

	yesterday := timeframe.Yesterday(time.Now())
	ts := yesterday.Add(9 * time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&tracking.ProfileView{
			ProfileID: "P4", SessionID: "S1", DeviceType: "mobile", Browser: "safari", OS: "iOS", Timestamp: ts,
		}).Error)
	}
	require.NoError(t, db.Create(&tracking.LinkClick{
		ProfileID: "P4", SessionID: "S1", LinkIndex: 0, DeviceType: "mobile", Browser: "safari", OS: "iOS", Timestamp: ts,
	}).Error)

	aggregator := stats.NewAggregator(dm, testsupport.Logger())
	require.NoError(t, aggregator.RunForDay(context.Background(), yesterday))

	var device stats.DeviceStat
	require.NoError(t, db.Where("profile_id = ? AND device_type = ?", "P4", "mobile").First(&device).Error)
	assert.Equal(t, 3, device.Views)
	assert.Equal(t, 1, device.Clicks)
	assert.Equal(t, "safari", device.Browser)
	assert.Equal(t, "iOS", device.OS)
}

func TestAggregatorReferrerRollup(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	db := dm.GetConnection()

	yesterday := timeframe.Yesterday(time.Now())
	ts := yesterday.Add(7 * time.Hour)
	googleRef := "https://www.google.com/search?q=x"

	require.NoError(t, db.Create(&tracking.ProfileView{
		ProfileID: "P5", SessionID: "S1", Referrer: googleRef, Timestamp: ts,
	}).Error)
	require.NoError(t, db.Create(&tracking.ProfileView{
		ProfileID: "P5", SessionID: "S1", Timestamp: ts, // direct
	}).Error)

	aggregator := stats.NewAggregator(dm, testsupport.Logger())
	require.NoError(t, aggregator.RunForDay(context.Background(), yesterday))

	// The rollup stores the full original referrer string.
	var searchRow stats.ReferrerStat
	require.NoError(t, db.Where("profile_id = ? AND referrer = ?", "P5", googleRef).First(&searchRow).Error)
	assert.Equal(t, stats.ReferrerTypeSearch, searchRow.ReferrerType)
	assert.Equal(t, 1, searchRow.Views)

	var directRow stats.ReferrerStat
	require.NoError(t, db.Where("profile_id = ? AND referrer = ?", "P5", "").First(&directRow).Error)
	assert.Equal(t, stats.ReferrerTypeDirect, directRow.ReferrerType)
}

func TestAggregatorSkipsEmptyDay(t *testing.T) {
	dm := testsupport.SetupTestDB(t)

	aggregator := stats.NewAggregator(dm, testsupport.Logger())
	require.NoError(t, aggregator.RunForDay(context.Background(), timeframe.Yesterday(time.Now())))

	var count int64
	require.NoError(t, dm.GetConnection().Model(&stats.DailyStat{}).Count(&count).Error)
	assert.Zero(t, count)
}
