// Package jobs hosts the background schedules: the nightly aggregator, the
// retention batches and the optional realtime bus dispatcher.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"linkpulse/internal/stats"
)

// Schedules, all UTC.
const (
	scheduleAggregate   = "0 2 * * *"   // daily at 02:00
	scheduleRetention   = "0 3 * * *"   // daily at 03:00
	scheduleCacheSweep  = "0 */6 * * *" // every 6 hours
	scheduleOrphanClose = "0 * * * *"   // hourly
	scheduleVacuum      = "0 4 * * 0"   // weekly, Sunday 04:00
)

const dispatcherInterval = time.Second

// BusDispatcher is the optional durable realtime bus drain.
type BusDispatcher interface {
	Run() error
}

// Scheduler owns the cron entries and their lifecycle.
type Scheduler struct {
	logger     *slog.Logger
	cron       *cron.Cron
	aggregator *stats.Aggregator
	retention  *RetentionJob
	dispatcher BusDispatcher

	ctx    context.Context
	cancel context.CancelFunc

	// Guard against overlapping heavy jobs.
	processingMutex sync.Mutex
	isProcessing    bool

	isRunning bool
}

// NewScheduler wires the background jobs. dispatcher may be nil when the
// durable bus is disabled.
func NewScheduler(logger *slog.Logger, aggregator *stats.Aggregator, retention *RetentionJob, dispatcher BusDispatcher) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:     logger,
		cron:       cron.New(cron.WithLocation(time.UTC)),
		aggregator: aggregator,
		retention:  retention,
		dispatcher: dispatcher,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// executeJobSafely runs a heavy job only if no other heavy job is executing.
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}
		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start registers the cron entries and launches the schedule.
func (s *Scheduler) Start() error {
	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	entries := []struct {
		spec string
		name string
		fn   func() error
	}{
		{scheduleAggregate, "aggregator", func() error { return s.aggregator.Run(s.ctx) }},
		{scheduleRetention, "retention", func() error { return s.retention.Run(s.ctx) }},
		{scheduleCacheSweep, "cache_sweep", func() error { return s.retention.SweepCache(s.ctx) }},
		{scheduleOrphanClose, "orphan_close", s.retention.CloseOrphanSessions},
		{scheduleVacuum, "vacuum", s.retention.Vacuum},
	}

	for _, entry := range entries {
		name, fn := entry.name, entry.fn
		if _, err := s.cron.AddFunc(entry.spec, func() { s.executeJobSafely(name, fn) }); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.isRunning = true

	if s.dispatcher != nil {
		go s.runDispatcher()
	}

	s.logger.Info("Background jobs started",
		slog.Int("schedules", len(entries)),
		slog.Bool("durable_bus", s.dispatcher != nil))
	return nil
}

// runDispatcher drains the durable bus on a short interval; cron minute
// granularity is too coarse for realtime delivery.
func (s *Scheduler) runDispatcher() {
	ticker := time.NewTicker(dispatcherInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.dispatcher.Run(); err != nil {
				s.logger.Error("Bus dispatch failed", slog.Any("error", err))
			}
		case <-s.ctx.Done():
			s.logger.Info("Bus dispatcher stopped")
			return
		}
	}
}

// RunAggregatorNow triggers an ad-hoc aggregation pass for the given day.
func (s *Scheduler) RunAggregatorNow(ctx context.Context, day time.Time) error {
	return s.aggregator.RunForDay(ctx, day)
}

// Stop halts the schedule, waiting for a running cron entry to finish.
func (s *Scheduler) Stop() {
	if !s.isRunning {
		return
	}
	s.logger.Info("Stopping background jobs...")
	stopCtx := s.cron.Stop()
	s.cancel()
	<-stopCtx.Done()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning reports whether the schedule is active.
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}
