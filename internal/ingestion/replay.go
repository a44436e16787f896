package ingestion

import (
	"context"
	"log/slog"

	"vkanalytics/internal/eventlog"
	"vkanalytics/internal/events"
)

// ReplayResult counts the outcome of a fallback replay.
type ReplayResult struct {
	Batches int `json:"batches"`
	Stored  int `json:"stored"`
	Failed  int `json:"failed"`
	Events  int `json:"events"`
}

// Replay writes batches recovered from the fallback log to the store. Stored
// batches are appended to the audit log under their original batch id so a
// second replay of the same file skips them. Return-visit checks are not
// triggered for replayed data.
func (s *Service) Replay(ctx context.Context, batches []eventlog.FailedBatch) (ReplayResult, error) {
	var res ReplayResult
	if !s.StoreConfigured() {
		return res, ErrStoreUnavailable
	}

	for _, fb := range batches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(fb.Events) == 0 {
			continue
		}
		res.Batches++

		batch := events.Batch{VisitorID: fb.VisitorID, Events: fb.Events}
		if err := s.store(batch, fb.Display); err != nil {
			s.logger.Error("Failed to replay batch",
				slog.String("batch_id", fb.BatchID),
				slog.String("visitor_id", fb.VisitorID),
				slog.Any("error", err))
			res.Failed++
			continue
		}

		res.Stored++
		res.Events += len(fb.Events)
		if s.log != nil && fb.BatchID != "" {
			if err := s.log.WriteEvents(fb.BatchID, fb.VisitorID, fb.Events, fb.Display, nil); err != nil {
				s.logger.Warn("Failed to append audit log", slog.Any("error", err))
			}
		}
	}
	return res, nil
}
