package realtime

import (
	"encoding/json"
	"log/slog"

	"gorm.io/gorm"

	"linkpulse/internal/database"
	"linkpulse/internal/tracking"
)

const dispatchBatchSize = 500

// Dispatcher drains the durable realtime_events bus onto the hub. It gives
// the fan-out at-least-once semantics across restarts: rows are marked
// processed only after they were offered to the subscribers.
type Dispatcher struct {
	dbManager *database.DBManager
	hub       *Hub
	logger    *slog.Logger
}

// NewDispatcher wires the bus dispatcher.
func NewDispatcher(dbManager *database.DBManager, hub *Hub, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{dbManager: dbManager, hub: hub, logger: logger}
}

// Run publishes all unprocessed bus rows in order and marks them processed.
func (d *Dispatcher) Run() error {
	db := d.dbManager.GetConnection()

	var events []tracking.RealtimeEvent
	err := db.Where("processed = 0").
		Order("id ASC").
		Limit(dispatchBatchSize).
		Find(&events).Error
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	ids := make([]uint, 0, len(events))
	for _, event := range events {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
			d.logger.Warn("Skipping undecodable bus event",
				slog.Uint64("id", uint64(event.ID)),
				slog.Any("error", err))
			ids = append(ids, event.ID)
			continue
		}

		switch event.Kind {
		case tracking.RealtimeKindClick:
			d.hub.PublishClick(event.ProfileID, payload)
		default:
			d.hub.PublishView(event.ProfileID, payload)
		}
		ids = append(ids, event.ID)
	}

	return database.PerformWrite(d.logger, db, func(tx *gorm.DB) error {
		return tx.Model(&tracking.RealtimeEvent{}).
			Where("id IN ?", ids).
			Update("processed", 1).Error
	})
}
