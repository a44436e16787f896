package jobs

import (
	"context"
	"log/slog"
)

// Sweeper is implemented by idempotency stores that keep expired entries
// until swept. The memory and badger stores expire entries themselves.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// IdempotencySweepJob deletes expired idempotency records.
type IdempotencySweepJob struct {
	store  Sweeper
	logger *slog.Logger
}

func NewIdempotencySweepJob(store Sweeper, logger *slog.Logger) *IdempotencySweepJob {
	return &IdempotencySweepJob{store: store, logger: logger}
}

func (j *IdempotencySweepJob) Run(ctx context.Context) error {
	swept, err := j.store.Sweep(ctx)
	if err != nil {
		return err
	}
	if swept > 0 {
		j.logger.Info("Swept expired idempotency records", slog.Int64("count", swept))
	}
	return nil
}
