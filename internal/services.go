package internal

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jomei/notionapi"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"vkanalytics/internal/config"
	"vkanalytics/internal/crm"
	"vkanalytics/internal/database"
	"vkanalytics/internal/eventlog"
	"vkanalytics/internal/idempotency"
	"vkanalytics/internal/ingestion"
	"vkanalytics/internal/mailchimp"
	"vkanalytics/internal/notify"
	"vkanalytics/internal/pkg/async"
	"vkanalytics/internal/pkg/geoip"
	"vkanalytics/internal/reports"
	"vkanalytics/internal/settings"
	"vkanalytics/internal/submissions"
)

// BackgroundTaskTimeout bounds every fire-and-forget task.
const BackgroundTaskTimeout = 30 * time.Second

// Services holds the long-lived components shared by the routes, the jobs
// and the CLI.
type Services struct {
	Config       *config.Config
	Logger       *slog.Logger
	DBManager    cartridge.DBManager
	Capabilities database.Capabilities

	EventLog      *eventlog.Writer
	SubmissionLog *eventlog.Writer
	Idempotency   idempotency.Store
	Runner        *async.Runner
	Notifier      *notify.ReturnVisitNotifier
	Ingestion     *ingestion.Service
	Reports       *reports.Engine
	CRM           *crm.Resolver
	Mailchimp     *mailchimp.Client
	Submissions   *submissions.Service
}

// NewServices builds every component from cfg. dbManager may be nil, in
// which case ingestion falls back to the event log and the read endpoints
// report an unconfigured store.
func NewServices(cfg *config.Config, dbManager cartridge.DBManager, logger *slog.Logger) (*Services, error) {
	s := &Services{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
	}

	var db *gorm.DB
	if dbManager != nil {
		db = dbManager.GetConnection()
		s.Capabilities = database.DetectCapabilities(db, logger)
		if err := settings.SetupDefaultSettings(db); err != nil {
			logger.Warn("Failed to seed default settings", slog.Any("error", err))
		}
	} else {
		logger.Warn("Analytics store not configured, batches go to the fallback log",
			slog.String("path", cfg.EventLogFile))
	}

	geoip.InitLogger(logger)

	s.EventLog = eventlog.New(cfg.EventLogFile, cfg.EventLogMaxSizeInMb)
	s.SubmissionLog = eventlog.New(cfg.SubmissionLogFile, cfg.EventLogMaxSizeInMb)

	store, err := idempotency.NewFromConfig(cfg, db, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open idempotency store: %w", err)
	}
	s.Idempotency = store

	var notion *notionapi.Client
	if cfg.NotionToken != "" {
		notion = notionapi.NewClient(notionapi.Token(cfg.NotionToken))
	}

	s.Runner = async.NewRunner(logger, BackgroundTaskTimeout)

	notifierOpts := []notify.Option{
		notify.WithChannels(notify.ChannelsFromConfig(cfg, notion, logger)...),
	}
	if cfg.ReturnVisitCooldownMinutes > 0 {
		notifierOpts = append(notifierOpts, notify.WithCooldown(time.Duration(cfg.ReturnVisitCooldownMinutes)*time.Minute))
	}
	if dbManager != nil && !s.Capabilities.ReturnVisitColumn {
		logger.Warn("return_visit_notified_at column missing, return-visit alerts disabled")
		notifierOpts = append(notifierOpts, notify.Disabled())
	}
	s.Notifier = notify.NewReturnVisitNotifier(dbManager, logger, notifierOpts...)

	s.Ingestion = ingestion.NewService(ingestion.Options{
		DBManager:    dbManager,
		Logger:       logger,
		Log:          s.EventLog,
		Runner:       s.Runner,
		Notifier:     s.Notifier,
		Capabilities: s.Capabilities,
	})

	s.Reports = reports.NewEngine(dbManager, logger)

	if cfg.NotionCRMConfigured() && notion != nil {
		s.CRM = crm.NewResolver(crm.NewNotionStore(notion, cfg.NotionDatabaseID, logger), logger)
	} else {
		s.CRM = crm.NewResolver(nil, logger)
	}

	s.Mailchimp = mailchimp.NewFromConfig(cfg, logger)

	subOpts := submissions.Options{
		Idempotency: s.Idempotency,
		TTL:         idempotency.TTL(cfg),
		Log:         s.SubmissionLog,
		CRM:         s.CRM,
		Enricher:    s.Ingestion,
		Runner:      s.Runner,
		SiteBaseURL: cfg.SiteBaseURL,
		Logger:      logger,
	}
	if s.Mailchimp.Configured() {
		subOpts.Mailchimp = s.Mailchimp
	}
	if cfg.SlackWebhookURL != "" {
		subOpts.Slack = notify.NewSlack(cfg.SlackWebhookURL)
	}
	s.Submissions = submissions.NewService(subOpts)

	logger.Info("Services ready",
		slog.Bool("store", dbManager != nil),
		slog.Any("notification_channels", s.Notifier.Channels()),
		slog.Bool("crm", s.CRM.Configured()),
		slog.Bool("mailchimp", s.Mailchimp.Configured()),
		slog.String("idempotency_backend", cfg.IdempotencyBackend))
	return s, nil
}

// Close drains background tasks and releases the log files and the
// idempotency store.
func (s *Services) Close() {
	if s.Runner != nil {
		s.Runner.Stop()
	}
	if s.EventLog != nil {
		if err := s.EventLog.Close(); err != nil {
			s.Logger.Warn("Failed to close event log", slog.Any("error", err))
		}
	}
	if s.SubmissionLog != nil {
		if err := s.SubmissionLog.Close(); err != nil {
			s.Logger.Warn("Failed to close submission log", slog.Any("error", err))
		}
	}
	if closer, ok := s.Idempotency.(idempotency.Closer); ok {
		if err := closer.Close(); err != nil {
			s.Logger.Warn("Failed to close idempotency store", slog.Any("error", err))
		}
	}
}
