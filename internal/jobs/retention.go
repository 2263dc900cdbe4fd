package jobs

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"linkpulse/internal/cache"
	"linkpulse/internal/config"
	"linkpulse/internal/database"
	"linkpulse/internal/stats"
	"linkpulse/internal/tracking"
)

const (
	deleteBatchSize  = 1000
	rollupRetention  = 2 * 365 * 24 * time.Hour
	orphanWindow     = 24 * time.Hour
	deleteBatchPause = 100 * time.Millisecond
)

// RetentionJob deletes rows past their per-table windows, closes orphaned
// sessions and sweeps the expired cache rows. Deletes are not transactional
// across tables: a failed table is logged and retried on the next run.
type RetentionJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
	sweeper   cache.Sweeper
}

// NewRetentionJob wires the retention batch. sweeper may be nil when the
// cache backend expires its own entries.
func NewRetentionJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config, sweeper cache.Sweeper) *RetentionJob {
	return &RetentionJob{dbManager: dbManager, logger: logger, cfg: cfg, sweeper: sweeper}
}

// Run performs the daily deletes. Cancellation is honored between tables.
func (j *RetentionJob) Run(ctx context.Context) error {
	now := time.Now().UTC()
	db := j.dbManager.GetConnection()

	tables := []struct {
		name   string
		delete func() error
	}{
		{"profile_views", func() error {
			return j.batchDelete(db, &tracking.ProfileView{}, "timestamp < ?", now.AddDate(0, 0, -j.cfg.ViewsRetentionDays))
		}},
		{"link_clicks", func() error {
			return j.batchDelete(db, &tracking.LinkClick{}, "timestamp < ?", now.AddDate(0, 0, -j.cfg.ClicksRetentionDays))
		}},
		{"sessions", func() error {
			return j.batchDelete(db, &tracking.Session{}, "start_time < ?", now.AddDate(0, 0, -j.cfg.SessionsRetentionDays))
		}},
		{"daily_stats", func() error {
			return j.batchDelete(db, &stats.DailyStat{}, "date < ?", now.Add(-rollupRetention))
		}},
		{"link_stats", func() error {
			return j.batchDelete(db, &stats.LinkStat{}, "date < ?", now.Add(-rollupRetention))
		}},
		{"geo_stats", func() error {
			return j.batchDelete(db, &stats.GeoStat{}, "date < ?", now.Add(-rollupRetention))
		}},
		{"device_stats", func() error {
			return j.batchDelete(db, &stats.DeviceStat{}, "date < ?", now.Add(-rollupRetention))
		}},
		{"referrer_stats", func() error {
			return j.batchDelete(db, &stats.ReferrerStat{}, "date < ?", now.Add(-rollupRetention))
		}},
		{"realtime_events", func() error {
			return j.batchDelete(db, &tracking.RealtimeEvent{}, "processed = 1 AND created_at < ?", now.AddDate(0, 0, -1))
		}},
	}

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := table.delete(); err != nil {
			j.logger.Error("Retention delete failed",
				slog.String("table", table.name),
				slog.Any("error", err))
		}
	}

	return nil
}

// batchDelete removes matching rows in bounded batches so the store is
// never locked for long.
func (j *RetentionJob) batchDelete(db *gorm.DB, model interface{}, condition string, cutoff time.Time) error {
	totalDeleted := int64(0)
	for {
		result := db.Where(condition, cutoff).
			Limit(deleteBatchSize).
			Delete(model)
		if result.Error != nil {
			j.logger.Error("Failed to delete batch",
				slog.Any("error", result.Error),
				slog.Int64("deleted_so_far", totalDeleted))
			return result.Error
		}
		totalDeleted += result.RowsAffected
		if result.RowsAffected < int64(deleteBatchSize) {
			break
		}
		time.Sleep(deleteBatchPause)
	}

	if totalDeleted > 0 {
		j.logger.Info("Deleted expired rows",
			slog.Int64("deleted_count", totalDeleted),
			slog.Time("cutoff", cutoff))
	}
	return nil
}

// CloseOrphanSessions closes sessions idle for more than 24 h, stamping the
// implicit end of the activity span.
func (j *RetentionJob) CloseOrphanSessions() error {
	db := j.dbManager.GetConnection()
	cutoff := time.Now().UTC().Add(-orphanWindow)

	err := database.PerformWrite(j.logger, db, func(tx *gorm.DB) error {
		query := `
			UPDATE sessions SET
				end_time = ?,
				duration = CAST((JULIANDAY(?) - JULIANDAY(start_time)) * 86400 AS INTEGER),
				updated_at = ?
			WHERE end_time IS NULL AND start_time < ?
		`
		now := time.Now().UTC()
		return tx.Exec(query, cutoff, cutoff, now, cutoff).Error
	})
	if err != nil {
		j.logger.Error("Failed to close orphan sessions", slog.Any("error", err))
		return err
	}
	return nil
}

// SweepCache deletes expired cache rows when the backend needs it.
func (j *RetentionJob) SweepCache(ctx context.Context) error {
	if j.sweeper == nil {
		return nil
	}
	deleted, err := j.sweeper.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("Cache sweep failed", slog.Any("error", err))
		return err
	}
	if deleted > 0 {
		j.logger.Info("Swept expired cache entries", slog.Int64("deleted_count", deleted))
	}
	return nil
}

// Vacuum reclaims physical space. Best-effort.
func (j *RetentionJob) Vacuum() error {
	if err := j.dbManager.Vacuum(); err != nil {
		j.logger.Warn("Vacuum failed", slog.Any("error", err))
		return err
	}
	j.logger.Info("Vacuum completed")
	return nil
}
