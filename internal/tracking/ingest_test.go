package tracking_test

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkpulse/internal/chain"
	"linkpulse/internal/database"
	"linkpulse/internal/enrich"
	"linkpulse/internal/errs"
	"linkpulse/internal/stats"
	"linkpulse/internal/testsupport"
	"linkpulse/internal/timeframe"
	"linkpulse/internal/tracking"
)

// capturePublisher records published notifications for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	views  []string
	clicks []string
}

func (p *capturePublisher) PublishView(profileID string, _ map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views = append(p.views, profileID)
}

func (p *capturePublisher) PublishClick(profileID string, _ map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, profileID)
}

func newTracker(t *testing.T, dm *database.DBManager, publisher tracking.Publisher) *tracking.Tracker {
	t.Helper()
	enricher := enrich.New("", testsupport.Logger())
	return tracking.NewTracker(dm, testsupport.Logger(), enricher, chain.Unconfigured{}, publisher, tracking.Options{})
}

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestGenerateSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := tracking.GenerateSessionID()
		assert.Regexp(t, uuidPattern, id)
		assert.False(t, seen[id], "session ids must not repeat")
		seen[id] = true
	}
}

func TestTrackViewFresh(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	publisher := &capturePublisher{}
	tracker := newTracker(t, dm, publisher)

	viewID, sessionID, err := tracker.TrackView(context.Background(), tracking.ViewInput{
		ProfileID: "P1",
	})
	require.NoError(t, err)
	assert.NotZero(t, viewID)
	assert.Regexp(t, uuidPattern, sessionID)

	db := dm.GetConnection()

	var view tracking.ProfileView
	require.NoError(t, db.First(&view, viewID).Error)
	assert.Equal(t, "P1", view.ProfileID)
	assert.Equal(t, sessionID, view.SessionID)

	var session tracking.Session
	require.NoError(t, db.Where("session_id = ?", sessionID).First(&session).Error)
	assert.Equal(t, 1, session.PageViews)
	assert.Equal(t, 0, session.LinkClicks)
	assert.Nil(t, session.EndTime)

	var daily stats.DailyStat
	require.NoError(t, db.Where("profile_id = ? AND date = ?", "P1", timeframe.DayUTC(time.Now())).First(&daily).Error)
	assert.Equal(t, 1, daily.Views)

	assert.Equal(t, []string{"P1"}, publisher.views)
}

func TestSessionStitching(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	tracker := newTracker(t, dm, nil)
	ctx := context.Background()

	t0 := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)

	_, _, err := tracker.TrackView(ctx, tracking.ViewInput{ProfileID: "P1", SessionID: "S", Timestamp: t0})
	require.NoError(t, err)
	_, _, err = tracker.TrackView(ctx, tracking.ViewInput{ProfileID: "P1", SessionID: "S", Timestamp: t0.Add(15 * time.Second)})
	require.NoError(t, err)
	_, _, err = tracker.TrackClick(ctx, tracking.ClickInput{ProfileID: "P1", LinkIndex: 0, SessionID: "S", Timestamp: t0.Add(30 * time.Second)})
	require.NoError(t, err)

	session, err := tracker.GetSession(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, 2, session.PageViews)
	assert.Equal(t, 1, session.LinkClicks)
	require.NotNil(t, session.EndTime)
	require.NotNil(t, session.Duration)
	assert.InDelta(t, 30, *session.Duration, 1)
	assert.False(t, session.StartTime.After(*session.EndTime))
}

func TestSessionCountersMatchEventCounts(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	tracker := newTracker(t, dm, nil)
	ctx := context.Background()

	const viewCalls, clickCalls = 7, 4
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < viewCalls; i++ {
		_, _, err := tracker.TrackView(ctx, tracking.ViewInput{ProfileID: "P1", SessionID: "S-prop", Timestamp: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}
	for i := 0; i < clickCalls; i++ {
		_, _, err := tracker.TrackClick(ctx, tracking.ClickInput{ProfileID: "P1", LinkIndex: i, SessionID: "S-prop", Timestamp: base.Add(time.Duration(viewCalls+i) * time.Second)})
		require.NoError(t, err)
	}

	session, err := tracker.GetSession(ctx, "S-prop")
	require.NoError(t, err)
	assert.Equal(t, viewCalls, session.PageViews)
	assert.Equal(t, clickCalls, session.LinkClicks)
}

func TestTrackClickRecordsLinkStats(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	publisher := &capturePublisher{}
	tracker := newTracker(t, dm, publisher)
	ctx := context.Background()

	clickID, sessionID, err := tracker.TrackClick(ctx, tracking.ClickInput{
		ProfileID: "P1",
		LinkIndex: 2,
		LinkTitle: "Blog",
		LinkURL:   "https://example.com/blog",
	})
	require.NoError(t, err)
	assert.NotZero(t, clickID)
	assert.NotEmpty(t, sessionID)

	db := dm.GetConnection()

	var daily stats.DailyStat
	require.NoError(t, db.Where("profile_id = ?", "P1").First(&daily).Error)
	assert.Equal(t, 1, daily.Clicks)

	var link stats.LinkStat
	require.NoError(t, db.Where("profile_id = ? AND link_index = ?", "P1", 2).First(&link).Error)
	assert.Equal(t, 1, link.Clicks)
	assert.Equal(t, "Blog", link.LinkTitle)
	assert.Equal(t, "https://example.com/blog", link.LinkURL)

	// A second click increments the counter but keeps the original strings.
	_, _, err = tracker.TrackClick(ctx, tracking.ClickInput{
		ProfileID: "P1",
		LinkIndex: 2,
		LinkTitle: "Renamed",
		SessionID: sessionID,
	})
	require.NoError(t, err)
	require.NoError(t, db.Where("profile_id = ? AND link_index = ?", "P1", 2).First(&link).Error)
	assert.Equal(t, 2, link.Clicks)
	assert.Equal(t, "Blog", link.LinkTitle)

	assert.Equal(t, []string{"P1", "P1"}, publisher.clicks)
}

func TestTrackViewValidation(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	tracker := newTracker(t, dm, nil)

	_, _, err := tracker.TrackView(context.Background(), tracking.ViewInput{})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	_, _, err = tracker.TrackClick(context.Background(), tracking.ClickInput{ProfileID: "P1", LinkIndex: -1})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestBatchTrackViews(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	tracker := newTracker(t, dm, nil)
	ctx := context.Background()

	tracked, err := tracker.BatchTrackViews(ctx, []tracking.ViewInput{
		{ProfileID: "PB", SessionID: "SB"},
		{ProfileID: "PB", SessionID: "SB"},
		{ProfileID: "PB"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, tracked)

	db := dm.GetConnection()
	var viewCount int64
	require.NoError(t, db.Model(&tracking.ProfileView{}).Where("profile_id = ?", "PB").Count(&viewCount).Error)
	assert.EqualValues(t, 3, viewCount)

	session, err := tracker.GetSession(ctx, "SB")
	require.NoError(t, err)
	assert.Equal(t, 2, session.PageViews)

	var daily stats.DailyStat
	require.NoError(t, db.Where("profile_id = ?", "PB").First(&daily).Error)
	assert.Equal(t, 3, daily.Views)

	// Empty batch is a no-op.
	tracked, err = tracker.BatchTrackViews(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, tracked)
}

func TestEndSessionIdempotent(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	tracker := newTracker(t, dm, nil)
	ctx := context.Background()

	start := time.Now().UTC().Add(-45 * time.Second)
	_, _, err := tracker.TrackView(ctx, tracking.ViewInput{ProfileID: "P1", SessionID: "S-end", Timestamp: start})
	require.NoError(t, err)

	require.NoError(t, tracker.EndSession(ctx, "S-end"))

	session, err := tracker.GetSession(ctx, "S-end")
	require.NoError(t, err)
	require.NotNil(t, session.EndTime)
	firstEnd := *session.EndTime

	// A second call leaves the closed session untouched.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, tracker.EndSession(ctx, "S-end"))
	session, err = tracker.GetSession(ctx, "S-end")
	require.NoError(t, err)
	assert.True(t, session.EndTime.Equal(firstEnd))

	// Unknown sessions are also a no-op.
	require.NoError(t, tracker.EndSession(ctx, "never-seen"))
}

func TestGetSessionNotFound(t *testing.T) {
	dm := testsupport.SetupTestDB(t)
	tracker := newTracker(t, dm, nil)

	_, err := tracker.GetSession(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}
