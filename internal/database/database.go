// Package database manages the SQLite connection and write serialization.
package database

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"linkpulse/internal/config"
)

const writeRetryAttempts = 3

// DBManager owns the GORM connection and applies the SQLite pragmas the
// service depends on (WAL journaling, busy timeout, foreign keys).
type DBManager struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
}

// NewDBManager creates a database manager for the configured SQLite file.
func NewDBManager(cfg *config.Config, logger *slog.Logger) *DBManager {
	return &DBManager{cfg: cfg, logger: logger}
}

// Init opens the database connection and applies pragmas.
func (dm *DBManager) Init() error {
	path := dm.cfg.GetDatabasePath()
	if dir := filepath.Dir(path); dir != "." && dir != "" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql.DB: %w", err)
	}
	if dm.cfg.GetMaxOpenConns() > 0 {
		sqlDB.SetMaxOpenConns(dm.cfg.GetMaxOpenConns())
	}
	if dm.cfg.GetMaxIdleConns() > 0 {
		sqlDB.SetMaxIdleConns(dm.cfg.GetMaxIdleConns())
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			dm.logger.Warn("Failed to apply pragma", slog.String("pragma", pragma), slog.Any("error", err))
		}
	}

	dm.db = db
	dm.logger.Info("Database initialized", slog.String("path", path))
	return nil
}

// GetConnection returns the shared GORM handle.
func (dm *DBManager) GetConnection() *gorm.DB {
	return dm.db
}

// CheckpointWAL forces a WAL checkpoint of the given mode (PASSIVE, FULL,
// RESTART or TRUNCATE).
func (dm *DBManager) CheckpointWAL(mode string) error {
	return dm.db.Exec("PRAGMA wal_checkpoint(" + mode + ")").Error
}

// Vacuum reclaims free pages. Best-effort; callers log and continue on error.
func (dm *DBManager) Vacuum() error {
	if err := dm.CheckpointWAL("TRUNCATE"); err != nil {
		dm.logger.Warn("Failed to checkpoint WAL before vacuum", slog.Any("error", err))
	}
	return dm.db.Exec("VACUUM").Error
}

// PerformWrite runs fn in a transaction, retrying a bounded
// number of times with jittered backoff when SQLite reports contention.
func PerformWrite(logger *slog.Logger, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= writeRetryAttempts; attempt++ {
		err = db.Transaction(fn)
		if err == nil {
			return nil
		}
		if !IsBusy(err) {
			return err
		}
		backoff := time.Duration(attempt*25+rand.Intn(50)) * time.Millisecond
		logger.Debug("Write contention, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", err))
		time.Sleep(backoff)
	}
	return err
}

// IsBusy reports whether err is SQLite write contention.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
