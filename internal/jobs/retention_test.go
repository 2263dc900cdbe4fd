package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkpulse/internal/cache"
	"linkpulse/internal/jobs"
	"linkpulse/internal/stats"
	"linkpulse/internal/testsupport"
	"linkpulse/internal/tracking"
)

func TestRetentionDeletesExpiredRows(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	db := dm.GetConnection()
	cfg := testsupport.TestConfig(t)
	cfg.ViewsRetentionDays = 30
	cfg.ClicksRetentionDays = 30
	cfg.SessionsRetentionDays = 30

	now := time.Now().UTC()
	old := now.AddDate(0, 0, -60)
	fresh := now.AddDate(0, 0, -5)

	require.NoError(t, db.Create(&tracking.ProfileView{ProfileID: "P1", Timestamp: old}).Error)
	require.NoError(t, db.Create(&tracking.ProfileView{ProfileID: "P1", Timestamp: fresh}).Error)
	require.NoError(t, db.Create(&tracking.LinkClick{ProfileID: "P1", LinkIndex: 0, Timestamp: old}).Error)
	require.NoError(t, db.Create(&tracking.Session{SessionID: "old", ProfileID: "P1", StartTime: old, PageViews: 1}).Error)
	require.NoError(t, db.Create(&tracking.Session{SessionID: "fresh", ProfileID: "P1", StartTime: fresh, PageViews: 1}).Error)
	require.NoError(t, db.Create(&stats.DailyStat{ProfileID: "P1", Date: now.AddDate(-3, 0, 0)}).Error)
	require.NoError(t, db.Create(&stats.DailyStat{ProfileID: "P1", Date: now.AddDate(0, 0, -10)}).Error)

	job := jobs.NewRetentionJob(dm, testsupport.Logger(), cfg, nil)
	require.NoError(t, job.Run(context.Background()))

	var viewCount, clickCount, sessionCount, dailyCount int64
	require.NoError(t, db.Model(&tracking.ProfileView{}).Count(&viewCount).Error)
	require.NoError(t, db.Model(&tracking.LinkClick{}).Count(&clickCount).Error)
	require.NoError(t, db.Model(&tracking.Session{}).Count(&sessionCount).Error)
	require.NoError(t, db.Model(&stats.DailyStat{}).Count(&dailyCount).Error)

	assert.EqualValues(t, 1, viewCount, "views past the window are deleted")
	assert.EqualValues(t, 0, clickCount)
	assert.EqualValues(t, 1, sessionCount)
	assert.EqualValues(t, 1, dailyCount, "rollups older than two years are deleted")
}

func TestCloseOrphanSessions(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	db := dm.GetConnection()
	cfg := testsupport.TestConfig(t)

	now := time.Now().UTC()
	require.NoError(t, db.Create(&tracking.Session{
		SessionID: "orphan", ProfileID: "P1", StartTime: now.Add(-30 * time.Hour), PageViews: 1,
	}).Error)
	require.NoError(t, db.Create(&tracking.Session{
		SessionID: "live", ProfileID: "P1", StartTime: now.Add(-10 * time.Minute), PageViews: 1,
	}).Error)

	job := jobs.NewRetentionJob(dm, testsupport.Logger(), cfg, nil)
	require.NoError(t, job.CloseOrphanSessions())

	var orphan tracking.Session
	require.NoError(t, db.Where("session_id = ?", "orphan").First(&orphan).Error)
	require.NotNil(t, orphan.EndTime)
	require.NotNil(t, orphan.Duration)
	assert.False(t, orphan.StartTime.After(*orphan.EndTime))
	// The implicit close stamps the 24 h inactivity boundary, not now.
	assert.WithinDuration(t, now.Add(-24*time.Hour), *orphan.EndTime, time.Minute)

	var live tracking.Session
	require.NoError(t, db.Where("session_id = ?", "live").First(&live).Error)
	assert.Nil(t, live.EndTime)
}

func TestSweepCache(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	cfg := testsupport.TestConfig(t)
	ctx := context.Background()

	storeCache := cache.NewStore(dm.GetConnection(), testsupport.Logger())
	storeCache.Set(ctx, "expired", []byte("x"), -time.Minute)
	storeCache.Set(ctx, "fresh", []byte("y"), time.Hour)

	job := jobs.NewRetentionJob(dm, testsupport.Logger(), cfg, storeCache)
	require.NoError(t, job.SweepCache(ctx))

	_, ok := storeCache.Get(ctx, "fresh")
	assert.True(t, ok)

	var count int64
	require.NoError(t, dm.GetConnection().Model(&cache.CacheRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// A nil sweeper (Redis backend) is a no-op.
	require.NoError(t, jobs.NewRetentionJob(dm, testsupport.Logger(), cfg, nil).SweepCache(ctx))
}
