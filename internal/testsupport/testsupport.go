// Package testsupport provides shared fixtures: an in-memory SQLite store
// with the full schema and silenced loggers.
package testsupport

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"linkpulse/internal/cache"
	"linkpulse/internal/config"
	"linkpulse/internal/database"
	"linkpulse/internal/stats"
	"linkpulse/internal/tracking"
)

// managerCache shares one database per root test name so helpers called
// from subtests see the same store.
var (
	managerCache   = make(map[string]*database.DBManager)
	managerCacheMu sync.Mutex
)

// allModels returns every persisted model for migration.
func allModels() []any {
	return []any{
		&cache.CacheRecord{},
		&tracking.ProfileView{},
		&tracking.LinkClick{},
		&tracking.Session{},
		&tracking.RealtimeEvent{},
		&stats.DailyStat{},
		&stats.LinkStat{},
		&stats.GeoStat{},
		&stats.DeviceStat{},
		&stats.ReferrerStat{},
	}
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestConfig returns a configuration suitable for tests. The database path
// is a named in-memory SQLite with a shared cache.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return &config.Config{
		AppName:                  "linkpulse",
		Environment:              config.Test,
		LogLevel:                 config.LogLevelError,
		DatabaseName:             fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		AnalyticsCacheTTLSec:     3600,
		HeartbeatIntervalSeconds: 30,
		ViewsRetentionDays:       365,
		ClicksRetentionDays:      365,
		SessionsRetentionDays:    90,
	}
}

// SetupTestDB creates (or returns the cached) in-memory store for the test
// with the full schema migrated.
func SetupTestDB(t *testing.T) *database.DBManager {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	managerCacheMu.Lock()
	defer managerCacheMu.Unlock()
	if dm, ok := managerCache[rootName]; ok {
		return dm
	}

	cfg := TestConfig(t)
	cfg.DatabaseName = fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.NewReplacer("/", "_", " ", "_").Replace(rootName))

	dm := database.NewDBManager(cfg, Logger())
	require.NoError(t, dm.Init())
	require.NoError(t, dm.GetConnection().AutoMigrate(allModels()...))

	managerCache[rootName] = dm
	return dm
}
