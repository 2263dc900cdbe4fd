// Package tracking implements the ingest path: event validation, session
// stitching, enrichment and the incremental counter upserts.
package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"linkpulse/internal/chain"
	"linkpulse/internal/database"
	"linkpulse/internal/enrich"
	"linkpulse/internal/errs"
	"linkpulse/internal/timeframe"
)

// Publisher receives a notification after each committed event write.
// Implementations must not block: ingest latency is never spent on fan-out.
type Publisher interface {
	PublishView(profileID string, payload map[string]interface{})
	PublishClick(profileID string, payload map[string]interface{})
}

// NopPublisher discards notifications.
type NopPublisher struct{}

func (NopPublisher) PublishView(string, map[string]interface{})  {}
func (NopPublisher) PublishClick(string, map[string]interface{}) {}

// Tracker is the ingest service. All dependencies are explicit.
type Tracker struct {
	dbManager      *database.DBManager
	logger         *slog.Logger
	enricher       *enrich.Enricher
	chainAdapter   chain.Adapter
	publisher      Publisher
	verifyProfiles bool
	durableBus     bool
}

// Options toggles the optional ingest behaviors.
type Options struct {
	// VerifyProfiles enables the on-chain existence probe per event. Probe
	// failures are treated as unknown and the event is accepted anyway.
	VerifyProfiles bool
	// DurableBus persists a realtime_events row alongside each raw write.
	DurableBus bool
}

// NewTracker wires the ingest service.
func NewTracker(dbManager *database.DBManager, logger *slog.Logger, enricher *enrich.Enricher, chainAdapter chain.Adapter, publisher Publisher, opts Options) *Tracker {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Tracker{
		dbManager:      dbManager,
		logger:         logger,
		enricher:       enricher,
		chainAdapter:   chainAdapter,
		publisher:      publisher,
		verifyProfiles: opts.VerifyProfiles,
		durableBus:     opts.DurableBus,
	}
}

// ViewInput is the payload for TrackView.
type ViewInput struct {
	ProfileID string
	SessionID string
	VisitorIP string
	UserAgent string
	Referrer  string
	Timestamp time.Time
}

// ClickInput is the payload for TrackClick.
type ClickInput struct {
	ProfileID string
	LinkIndex int
	LinkTitle string
	LinkURL   string
	SessionID string
	VisitorIP string
	UserAgent string
	Referrer  string
	Timestamp time.Time
}

// GenerateSessionID mints a fresh canonical UUID session identifier.
func GenerateSessionID() string {
	return uuid.NewString()
}

// TrackView records one profile view. It inserts the raw row and upserts the
// session and the event day's daily counters in one transaction, then notifies the
// realtime publisher. Returns the new view id and the (possibly minted)
// session id.
func (t *Tracker) TrackView(ctx context.Context, input ViewInput) (uint, string, error) {
	if input.ProfileID == "" {
		return 0, "", errs.Validation("profileId is required", "profileId")
	}
	if err := t.verifyProfile(ctx, input.ProfileID); err != nil {
		return 0, "", err
	}

	if input.Timestamp.IsZero() {
		input.Timestamp = time.Now()
	}
	input.Timestamp = input.Timestamp.UTC()
	if input.SessionID == "" {
		input.SessionID = GenerateSessionID()
	}

	geo := t.enricher.GeoOf(input.VisitorIP)
	device := t.enricher.DeviceOf(input.UserAgent)

	view := &ProfileView{
		ProfileID:  input.ProfileID,
		SessionID:  input.SessionID,
		VisitorIP:  input.VisitorIP,
		UserAgent:  input.UserAgent,
		Referrer:   input.Referrer,
		Country:    geo.Country,
		Region:     geo.Region,
		City:       geo.City,
		DeviceType: device.DeviceType,
		Browser:    device.Browser,
		OS:         device.OS,
		Timestamp:  input.Timestamp,
		CreatedAt:  time.Now().UTC(),
	}

	db := t.dbManager.GetConnection().WithContext(ctx)
	err := database.PerformWrite(t.logger, db, func(tx *gorm.DB) error {
		if err := tx.Create(view).Error; err != nil {
			return err
		}
		if err := upsertSession(tx, view.ProfileID, view.SessionID, geo, device, input.VisitorIP, input.UserAgent, view.Timestamp, false); err != nil {
			return err
		}
		if err := upsertDailyViews(tx, view.ProfileID, view.Timestamp); err != nil {
			return err
		}
		if t.durableBus {
			return t.appendBusEvent(tx, RealtimeKindView, view.ProfileID, map[string]interface{}{
				"viewId":    view.ID,
				"sessionId": view.SessionID,
			}, view.Timestamp)
		}
		return nil
	})
	if err != nil {
		return 0, "", storeError("failed to record view", err)
	}

	// With the durable bus enabled the dispatcher owns delivery.
	if !t.durableBus {
		t.publisher.PublishView(view.ProfileID, map[string]interface{}{
			"viewId":     view.ID,
			"sessionId":  view.SessionID,
			"country":    view.Country,
			"deviceType": view.DeviceType,
			"referrer":   view.Referrer,
			"timestamp":  view.Timestamp.UnixMilli(),
		})
	}

	return view.ID, view.SessionID, nil
}

// TrackClick records one link click, with the same session and enrichment
// semantics as TrackView. The session update increments linkClicks and the
// daily/link counters get their click increments.
func (t *Tracker) TrackClick(ctx context.Context, input ClickInput) (uint, string, error) {
	var badFields []string
	if input.ProfileID == "" {
		badFields = append(badFields, "profileId")
	}
	if input.LinkIndex < 0 {
		badFields = append(badFields, "linkIndex")
	}
	if len(badFields) > 0 {
		return 0, "", errs.Validation("invalid click event", badFields...)
	}
	if err := t.verifyProfile(ctx, input.ProfileID); err != nil {
		return 0, "", err
	}

	if input.Timestamp.IsZero() {
		input.Timestamp = time.Now()
	}
	input.Timestamp = input.Timestamp.UTC()
	if input.SessionID == "" {
		input.SessionID = GenerateSessionID()
	}

	geo := t.enricher.GeoOf(input.VisitorIP)
	device := t.enricher.DeviceOf(input.UserAgent)

	click := &LinkClick{
		ProfileID:  input.ProfileID,
		SessionID:  input.SessionID,
		LinkIndex:  input.LinkIndex,
		LinkTitle:  input.LinkTitle,
		LinkURL:    input.LinkURL,
		VisitorIP:  input.VisitorIP,
		UserAgent:  input.UserAgent,
		Referrer:   input.Referrer,
		Country:    geo.Country,
		Region:     geo.Region,
		City:       geo.City,
		DeviceType: device.DeviceType,
		Browser:    device.Browser,
		OS:         device.OS,
		Timestamp:  input.Timestamp,
		CreatedAt:  time.Now().UTC(),
	}

	db := t.dbManager.GetConnection().WithContext(ctx)
	err := database.PerformWrite(t.logger, db, func(tx *gorm.DB) error {
		if err := tx.Create(click).Error; err != nil {
			return err
		}
		if err := upsertSession(tx, click.ProfileID, click.SessionID, geo, device, input.VisitorIP, input.UserAgent, click.Timestamp, true); err != nil {
			return err
		}
		if err := upsertDailyClicks(tx, click.ProfileID, click.Timestamp); err != nil {
			return err
		}
		if err := upsertLinkClicks(tx, click.ProfileID, click.LinkIndex, click.LinkTitle, click.LinkURL, click.Timestamp); err != nil {
			return err
		}
		if t.durableBus {
			return t.appendBusEvent(tx, RealtimeKindClick, click.ProfileID, map[string]interface{}{
				"clickId":   click.ID,
				"sessionId": click.SessionID,
				"linkIndex": click.LinkIndex,
			}, click.Timestamp)
		}
		return nil
	})
	if err != nil {
		return 0, "", storeError("failed to record click", err)
	}

	if !t.durableBus {
		t.publisher.PublishClick(click.ProfileID, map[string]interface{}{
			"clickId":    click.ID,
			"sessionId":  click.SessionID,
			"linkIndex":  click.LinkIndex,
			"linkTitle":  click.LinkTitle,
			"country":    click.Country,
			"deviceType": click.DeviceType,
			"timestamp":  click.Timestamp.UnixMilli(),
		})
	}

	return click.ID, click.SessionID, nil
}

// BatchTrackViews records many views in one transaction. The raw rows are
// coalesced into a single bulk insert; session and daily counters are still
// upserted per event.
func (t *Tracker) BatchTrackViews(ctx context.Context, inputs []ViewInput) (int, error) {
	if len(inputs) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	views := make([]*ProfileView, 0, len(inputs))
	for i := range inputs {
		input := &inputs[i]
		if input.ProfileID == "" {
			return 0, errs.Validation("profileId is required for every batch entry", "views")
		}
		if err := t.verifyProfile(ctx, input.ProfileID); err != nil {
			return 0, err
		}
		if input.Timestamp.IsZero() {
			input.Timestamp = now
		}
		input.Timestamp = input.Timestamp.UTC()
		if input.SessionID == "" {
			input.SessionID = GenerateSessionID()
		}
		geo := t.enricher.GeoOf(input.VisitorIP)
		device := t.enricher.DeviceOf(input.UserAgent)
		views = append(views, &ProfileView{
			ProfileID:  input.ProfileID,
			SessionID:  input.SessionID,
			VisitorIP:  input.VisitorIP,
			UserAgent:  input.UserAgent,
			Referrer:   input.Referrer,
			Country:    geo.Country,
			Region:     geo.Region,
			City:       geo.City,
			DeviceType: device.DeviceType,
			Browser:    device.Browser,
			OS:         device.OS,
			Timestamp:  input.Timestamp,
			CreatedAt:  now,
		})
	}

	db := t.dbManager.GetConnection().WithContext(ctx)
	err := database.PerformWrite(t.logger, db, func(tx *gorm.DB) error {
		if err := tx.Create(&views).Error; err != nil {
			return err
		}
		for _, view := range views {
			geo := enrich.Geo{Country: view.Country, Region: view.Region, City: view.City}
			device := enrich.Device{DeviceType: view.DeviceType, Browser: view.Browser, OS: view.OS}
			if err := upsertSession(tx, view.ProfileID, view.SessionID, geo, device, view.VisitorIP, view.UserAgent, view.Timestamp, false); err != nil {
				return err
			}
			if err := upsertDailyViews(tx, view.ProfileID, view.Timestamp); err != nil {
				return err
			}
			if t.durableBus {
				if err := t.appendBusEvent(tx, RealtimeKindView, view.ProfileID, map[string]interface{}{
					"viewId":    view.ID,
					"sessionId": view.SessionID,
				}, view.Timestamp); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, storeError("failed to record view batch", err)
	}

	// With the durable bus enabled the dispatcher owns delivery.
	if !t.durableBus {
		for _, view := range views {
			t.publisher.PublishView(view.ProfileID, map[string]interface{}{
				"viewId":    view.ID,
				"sessionId": view.SessionID,
				"timestamp": view.Timestamp.UnixMilli(),
			})
		}
	}

	return len(views), nil
}

// verifyProfile probes the chain adapter when verification is enabled.
// Probe failures are unknown, not a rejection: the event is accepted so a
// chain outage never loses data.
func (t *Tracker) verifyProfile(ctx context.Context, profileID string) error {
	if !t.verifyProfiles {
		return nil
	}
	exists, err := t.chainAdapter.ProfileExists(ctx, profileID)
	if err != nil {
		t.logger.Debug("Profile existence probe failed, accepting event",
			slog.String("profile_id", profileID),
			slog.Any("error", err))
		return nil
	}
	if !exists {
		return errs.NotFound("profile not found: " + profileID)
	}
	return nil
}

func (t *Tracker) appendBusEvent(tx *gorm.DB, kind, profileID string, payload map[string]interface{}, ts time.Time) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return tx.Create(&RealtimeEvent{
		ProfileID: profileID,
		Kind:      kind,
		Payload:   string(encoded),
		Timestamp: ts,
		Processed: 0,
		CreatedAt: time.Now().UTC(),
	}).Error
}

// storeError classifies a failed write: exhausted contention retries map to
// Conflict, everything else to Unavailable.
func storeError(msg string, err error) error {
	if database.IsBusy(err) {
		return errs.Conflict(msg, err)
	}
	return errs.Unavailable(msg, err)
}

// dayOf truncates an event timestamp to its midnight-UTC date bucket.
func dayOf(ts time.Time) time.Time {
	return timeframe.DayUTC(ts)
}
