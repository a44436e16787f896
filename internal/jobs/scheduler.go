package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karloscodes/cartridge"

	"vkanalytics/internal/config"
	"vkanalytics/internal/idempotency"
)

// CleanupInterval is how often event retention runs.
const CleanupInterval = 24 * time.Hour

// Scheduler is responsible for running background jobs
type Scheduler struct {
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	interval  time.Duration

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	// Job instances, nil when not applicable
	cleanupJob *CleanupJob
	sweepJob   *IdempotencySweepJob

	// Tickers for each job type
	sweepTicker   *time.Ticker
	cleanupTicker *time.Ticker
}

// NewScheduler builds the jobs that apply to cfg. Retention needs a store
// and a positive events_retention_days; the sweep runs only for the SQL
// idempotency backend.
func NewScheduler(cfg *config.Config, dbManager cartridge.DBManager, store idempotency.Store, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	interval := time.Duration(cfg.JobIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	s := &Scheduler{
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		enabled:   true,
		isRunning: false,
		interval:  interval,
	}

	if cleanup := NewCleanupJob(dbManager, logger, cfg.EventsRetentionDays); cleanup.Enabled() {
		s.cleanupJob = cleanup
	}
	if sweeper, ok := store.(Sweeper); ok {
		s.sweepJob = NewIdempotencySweepJob(sweeper, logger)
	}

	return s
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func(ctx context.Context) error) {
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

	if err := jobFunc(s.ctx); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")

	s.isRunning = true

	if s.sweepJob != nil {
		s.sweepTicker = s.startJob("idempotency_sweep", s.interval, s.sweepJob.Run)
	}
	if s.cleanupJob != nil {
		s.cleanupTicker = s.startJob("events_cleanup", CleanupInterval, s.cleanupJob.Run)
	}

	s.logger.Info("Background jobs started",
		slog.Bool("idempotency_sweep", s.sweepJob != nil),
		slog.Bool("events_cleanup", s.cleanupJob != nil))

	return nil
}

func (s *Scheduler) startJob(name string, interval time.Duration, run func(ctx context.Context) error) *time.Ticker {
	s.logger.Info("Starting job", slog.String("job", name), slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)

	go func() {
		s.executeJobSafely(name, run)

		for {
			select {
			case <-ticker.C:
				s.executeJobSafely(name, run)
			case <-s.ctx.Done():
				s.logger.Info("Job stopped", slog.String("job", name))
				return
			}
		}
	}()
	return ticker
}

// Stop halts all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	if s.sweepTicker != nil {
		s.sweepTicker.Stop()
	}
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
	}

	s.cancel()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}

// RunOnce executes every configured job synchronously, for the CLI.
func (s *Scheduler) RunOnce() {
	if s.sweepJob != nil {
		s.executeJobSafely("idempotency_sweep", s.sweepJob.Run)
	}
	if s.cleanupJob != nil {
		s.executeJobSafely("events_cleanup", s.cleanupJob.Run)
	}
}
