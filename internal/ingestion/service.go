// Package ingestion persists client event batches. A batch that cannot reach
// the store is written to the fallback log and still reported as accepted.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"vkanalytics/internal/database"
	"vkanalytics/internal/eventlog"
	"vkanalytics/internal/events"
	"vkanalytics/internal/metrics"
	"vkanalytics/internal/pkg/async"
	"vkanalytics/internal/pkg/geoip"
	"vkanalytics/internal/pkg/user_agent"
	"vkanalytics/internal/settings"
	"vkanalytics/internal/visitors"
)

// ErrStoreUnavailable marks fallback lines written because no store is configured.
var ErrStoreUnavailable = errors.New("analytics store not configured")

// Client describes the request that carried a batch.
type Client struct {
	UserAgent string
	IP        string
}

// Outcome reports what happened to an accepted batch.
type Outcome struct {
	BatchID  string
	Stored   bool
	Excluded bool
	Events   int
}

// ReturnVisitChecker runs the return-visit policy for one visitor.
type ReturnVisitChecker interface {
	MaybeNotify(ctx context.Context, visitorID string) (bool, error)
}

// Options wires a Service. DBManager may be nil when no store is configured.
type Options struct {
	DBManager    cartridge.DBManager
	Logger       *slog.Logger
	Log          *eventlog.Writer
	Runner       *async.Runner
	Notifier     ReturnVisitChecker
	Capabilities database.Capabilities

	// Optional overrides, mostly for tests.
	ParseUserAgent func(string) user_agent.UserAgent
	Locate         func(ip string) string
	IsExcluded     func(ip string) (bool, error)
	Now            func() time.Time
}

type Service struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	log       *eventlog.Writer
	runner    *async.Runner
	notifier  ReturnVisitChecker
	caps      database.Capabilities

	parseUA    func(string) user_agent.UserAgent
	locate     func(ip string) string
	isExcluded func(ip string) (bool, error)
	now        func() time.Time
}

func NewService(opts Options) *Service {
	s := &Service{
		dbManager:  opts.DBManager,
		logger:     opts.Logger,
		log:        opts.Log,
		runner:     opts.Runner,
		notifier:   opts.Notifier,
		caps:       opts.Capabilities,
		parseUA:    opts.ParseUserAgent,
		locate:     opts.Locate,
		isExcluded: opts.IsExcluded,
		now:        opts.Now,
	}
	if s.parseUA == nil {
		s.parseUA = user_agent.ParseUserAgent
	}
	if s.locate == nil {
		s.locate = geoip.Location
	}
	if s.isExcluded == nil {
		s.isExcluded = settings.IsIPExcluded
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Now returns the service clock, used to stamp events without a timestamp.
func (s *Service) Now() time.Time {
	return s.now()
}

// StoreConfigured reports whether batches can reach the durable store.
func (s *Service) StoreConfigured() bool {
	return s.dbManager != nil
}

// Ingest stores a validated batch. The returned error is non-nil only when
// the batch could be neither stored nor written to the fallback log.
func (s *Service) Ingest(ctx context.Context, batch events.Batch, client Client) (Outcome, error) {
	outcome := Outcome{BatchID: uuid.NewString(), Events: len(batch.Events)}

	if s.StoreConfigured() {
		excluded, err := s.isExcluded(client.IP)
		if err != nil {
			s.logger.Error("Error checking IP exclusion", slog.Any("error", err))
		} else if excluded {
			s.logger.Debug("Skipping batch for excluded IP", slog.String("ip", client.IP))
			metrics.ExcludedBatches.Inc()
			outcome.Excluded = true
			return outcome, nil
		}
	}

	display := s.display(client)

	if !s.StoreConfigured() {
		metrics.FallbackWrites.WithLabelValues("unconfigured").Inc()
		return outcome, s.fallback(outcome.BatchID, batch, display, ErrStoreUnavailable)
	}

	if err := s.store(batch, display); err != nil {
		s.logger.Error("Failed to store event batch, writing fallback log",
			slog.String("batch_id", outcome.BatchID),
			slog.String("visitor_id", batch.VisitorID),
			slog.Any("error", err))
		metrics.FallbackWrites.WithLabelValues("write_error").Inc()
		return outcome, s.fallback(outcome.BatchID, batch, display, err)
	}

	outcome.Stored = true
	metrics.EventsIngested.Add(float64(len(batch.Events)))

	if s.log != nil {
		if err := s.log.WriteEvents(outcome.BatchID, batch.VisitorID, batch.Events, display, nil); err != nil {
			s.logger.Warn("Failed to append audit log", slog.Any("error", err))
		}
	}

	s.CheckReturnVisit(batch.VisitorID)
	return outcome, nil
}

// store upserts the visitor and inserts every event in one transaction.
func (s *Service) store(batch events.Batch, display eventlog.Display) error {
	first := batch.First()
	now := s.now().UTC().Truncate(time.Second)
	rows := make([]events.Event, len(batch.Events))
	for i, ev := range batch.Events {
		ev.CreatedAt = now
		rows[i] = ev
	}

	db := s.dbManager.GetConnection()
	return sqlite.PerformWrite(s.logger, db, func(tx *gorm.DB) error {
		err := visitors.Upsert(tx, visitors.UpsertParams{
			VisitorID: batch.VisitorID,
			SeenAt:    first.OccurredAt,
			Attribution: visitors.Attribution{
				Referrer:    first.Referrer,
				UTMSource:   first.UTMSource,
				UTMMedium:   first.UTMMedium,
				UTMCampaign: first.UTMCampaign,
				UTMTerm:     first.UTMTerm,
				UTMContent:  first.UTMContent,
			},
			Context: visitors.Context{
				DeviceDisplay:   display.Device,
				BrowserDisplay:  display.Browser,
				LocationDisplay: display.Location,
			},
		}, s.caps.VisitorDisplayColumns)
		if err != nil {
			return err
		}
		return events.Insert(tx, rows)
	})
}

func (s *Service) fallback(batchID string, batch events.Batch, display eventlog.Display, cause error) error {
	if s.log == nil {
		return fmt.Errorf("no fallback log for batch %s: %w", batchID, cause)
	}
	if err := s.log.WriteEvents(batchID, batch.VisitorID, batch.Events, display, cause); err != nil {
		s.logger.Error("Failed to write fallback log",
			slog.String("batch_id", batchID),
			slog.Any("error", err))
		return fmt.Errorf("failed to write fallback log: %w", err)
	}
	return nil
}

func (s *Service) display(client Client) eventlog.Display {
	var d eventlog.Display
	if client.UserAgent != "" {
		ua := s.parseUA(client.UserAgent)
		d.Device = ua.Device
		d.Browser = ua.BrowserDisplay()
	}
	if client.IP != "" {
		d.Location = s.locate(client.IP)
	}
	return d
}

// CheckReturnVisit submits the return-visit policy for visitorID as a
// background task. The caller never waits for it.
func (s *Service) CheckReturnVisit(visitorID string) {
	if s.notifier == nil || s.runner == nil {
		return
	}
	s.runner.Submit("return-visit:"+visitorID, func(ctx context.Context) error {
		_, err := s.notifier.MaybeNotify(ctx, visitorID)
		return err
	})
}
