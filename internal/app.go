// Package internal wires the application components together.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	v1 "linkpulse/api/v1"
	"linkpulse/internal/analytics"
	"linkpulse/internal/cache"
	"linkpulse/internal/chain"
	"linkpulse/internal/config"
	"linkpulse/internal/database"
	"linkpulse/internal/enrich"
	apphttp "linkpulse/internal/http"
	"linkpulse/internal/jobs"
	"linkpulse/internal/logger"
	"linkpulse/internal/realtime"
	"linkpulse/internal/stats"
	"linkpulse/internal/tracking"
)

// Application holds every long-lived component. All services are built once
// at startup and passed down explicitly.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	DBManager *database.DBManager
	Enricher  *enrich.Enricher
	Chain     chain.Adapter
	Cache     cache.Cache
	Analytics *analytics.Service
	Tracker   *tracking.Tracker
	Hub       *realtime.Hub
	Scheduler *jobs.Scheduler
	Fiber     *fiber.App

	hubCancel context.CancelFunc
}

// NewApp builds the application from the environment configuration.
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig builds the application for the provided configuration.
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(cfg)

	dbManager := database.NewDBManager(cfg, log)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := MigrateDatabase(dbManager); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	enricher := enrich.New(cfg.GeoDBPath, log)

	var chainAdapter chain.Adapter = chain.Unconfigured{}
	if cfg.ChainRPCURL != "" {
		chainAdapter = chain.NewClient(cfg.ChainRPCURL, time.Duration(cfg.ChainTimeoutSeconds)*time.Second, log)
	}

	var reportCache cache.Cache
	var sweeper cache.Sweeper
	if cfg.RedisAddr != "" {
		reportCache = cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, log)
	} else {
		storeCache := cache.NewStore(dbManager.GetConnection(), log)
		reportCache = storeCache
		sweeper = storeCache
	}

	cacheTTL := time.Duration(cfg.AnalyticsCacheTTLSec) * time.Second
	analyticsService := analytics.NewService(dbManager, reportCache, log, cacheTTL)

	hub := realtime.NewHub(analyticsService, chainAdapter, log,
		time.Duration(cfg.HeartbeatIntervalSeconds)*time.Second)

	tracker := tracking.NewTracker(dbManager, log, enricher, chainAdapter, hub, tracking.Options{
		VerifyProfiles: cfg.TrackingVerifyProfile,
		DurableBus:     cfg.RealtimeDurableBus,
	})

	aggregator := stats.NewAggregator(dbManager, log)
	retention := jobs.NewRetentionJob(dbManager, log, cfg, sweeper)

	var dispatcher jobs.BusDispatcher
	if cfg.RealtimeDurableBus {
		dispatcher = realtime.NewDispatcher(dbManager, hub, log)
	}
	scheduler := jobs.NewScheduler(log, aggregator, retention, dispatcher)

	fiberApp := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	trackHandler := v1.NewTrackHandler(tracker, log)
	analyticsHandler := apphttp.NewAnalyticsHandler(analyticsService, log)
	MountRoutes(fiberApp, cfg, trackHandler, analyticsHandler, hub)

	return &Application{
		Config:    cfg,
		Logger:    log,
		DBManager: dbManager,
		Enricher:  enricher,
		Chain:     chainAdapter,
		Cache:     reportCache,
		Analytics: analyticsService,
		Tracker:   tracker,
		Hub:       hub,
		Scheduler: scheduler,
		Fiber:     fiberApp,
	}, nil
}

// MigrateDatabase creates or updates the ten persisted tables.
func MigrateDatabase(dm *database.DBManager) error {
	db := dm.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}
	return db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(
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
		)
	})
}

// Start launches the background jobs and the HTTP listener. Blocks until
// the listener stops.
func (a *Application) Start() error {
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	a.hubCancel = cancel
	go a.Hub.Run(hubCtx)

	addr := a.Config.GetListenAddr()
	a.Logger.Info("Starting HTTP listener", slog.String("addr", addr))
	return a.Fiber.Listen(addr)
}

// Shutdown stops the listener, the jobs and the hub, then closes handles.
func (a *Application) Shutdown() error {
	a.Logger.Info("Shutting down...")
	err := a.Fiber.Shutdown()
	a.Scheduler.Stop()
	if a.hubCancel != nil {
		a.hubCancel()
	}
	a.Enricher.Close()
	if closer, ok := a.Cache.(interface{ Close() error }); ok {
		closer.Close()
	}
	return err
}
