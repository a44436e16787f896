package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"vkanalytics/internal/events"
)

// cleanupBatchSize bounds each DELETE so the write lock is released often.
const cleanupBatchSize = 1000

// CleanupJob deletes events older than the retention period.
type CleanupJob struct {
	dbManager     cartridge.DBManager
	logger        *slog.Logger
	retentionDays int
	now           func() time.Time
}

func NewCleanupJob(dbManager cartridge.DBManager, logger *slog.Logger, retentionDays int) *CleanupJob {
	return &CleanupJob{
		dbManager:     dbManager,
		logger:        logger,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// Enabled reports whether a store and a positive retention are configured.
func (j *CleanupJob) Enabled() bool {
	return j.dbManager != nil && j.retentionDays > 0
}

// Run removes events whose occurred_at is before the retention cutoff.
// Visitors are kept: their first-touch attribution outlives their events.
func (j *CleanupJob) Run(ctx context.Context) error {
	if !j.Enabled() {
		return nil
	}

	cutoff := j.now().UTC().AddDate(0, 0, -j.retentionDays)
	j.logger.Info("Starting cleanup of old events",
		slog.Int("retention_days", j.retentionDays),
		slog.Time("cutoff_date", cutoff))

	db := j.dbManager.GetConnection().WithContext(ctx)
	deleted, err := events.DeleteOlderThan(db, cutoff, cleanupBatchSize)
	if err != nil {
		j.logger.Error("Failed to delete old events",
			slog.Any("error", err),
			slog.Int64("deleted_so_far", deleted))
		return err
	}

	if deleted == 0 {
		j.logger.Debug("No old events to clean up")
		return nil
	}
	j.logger.Info("Cleaned up old events",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.retentionDays))
	return nil
}
