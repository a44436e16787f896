// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
	// NoDatabase runs the service without a durable store: ingestion only
	// writes the fallback log and reports answer "not configured".
	NoDatabase = "none"
)

// Idempotency backends
const (
	IdempotencyMemory = "memory"
	IdempotencySQL    = "sql"
	IdempotencyBadger = "badger"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName        string   `mapstructure:"appname"`
	AppPort        string   `mapstructure:"appport"`
	Environment    string   `mapstructure:"environment"`
	LogLevel       LogLevel `mapstructure:"loglevel"`
	PrivateKey     string   `mapstructure:"privatekey"`
	Domain         string   `mapstructure:"domain"`
	SiteBaseURL    string   `mapstructure:"sitebaseurl"`
	AllowedOrigins string   `mapstructure:"allowedorigins"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Analytics audit logs (events.log, submissions.log)
	EventLogFile        string `mapstructure:"eventlogfile"`
	SubmissionLogFile   string `mapstructure:"submissionlogfile"`
	EventLogMaxSizeInMb int    `mapstructure:"eventlogmaxsizeinmb"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Viewer / report access
	DemoViewKey string `mapstructure:"demoviewkey"`

	// Form submissions
	IdempotencyBackend  string `mapstructure:"idempotencybackend"`
	IdempotencyTTLHours int    `mapstructure:"idempotencyttlhours"`
	BadgerPath          string `mapstructure:"badgerpath"`

	// Return-visit notifications
	ReturnVisitCooldownMinutes int    `mapstructure:"returnvisitcooldownminutes"`
	NotificationEmailTo        string `mapstructure:"notificationemailto"`
	SMTPHost                   string `mapstructure:"smtphost"`
	SMTPPort                   int    `mapstructure:"smtpport"`
	SMTPSecure                 bool   `mapstructure:"smtpsecure"`
	SMTPUser                   string `mapstructure:"smtpuser"`
	SMTPPass                   string `mapstructure:"smtppass"`
	SlackWebhookURL            string `mapstructure:"slackwebhookurl"`

	// Notion
	NotionToken                  string `mapstructure:"notiontoken"`
	NotionDatabaseID             string `mapstructure:"notiondatabaseid"`
	NotionReturnVisitsDatabaseID string `mapstructure:"notionreturnvisitsdatabaseid"`

	// Mailchimp
	MailchimpAPIKey       string `mapstructure:"mailchimpapikey"`
	MailchimpServerPrefix string `mapstructure:"mailchimpserverprefix"`
	MailchimpAudienceID   string `mapstructure:"mailchimpaudienceid"`

	// Webhooks
	BookingWebhookSecret string `mapstructure:"bookingwebhooksecret"`

	// Job scheduling settings
	JobIntervalSeconds int `mapstructure:"jobintervalseconds"`

	// Data retention settings (0 keeps events forever)
	EventsRetentionDays int `mapstructure:"eventsretentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		// A missing .env is fine; real environments set variables directly.
		_ = godotenv.Load()

		v := viper.New()

		v.SetDefault("appname", "vkanalytics")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", "88888888888888888888888888888888")
		v.SetDefault("domain", "vanillakiller.com")
		v.SetDefault("sitebaseurl", "http://localhost:3000")
		v.SetDefault("allowedorigins", "http://localhost:3000,http://127.0.0.1:3000,https://vanillakiller.com,https://www.vanillakiller.com")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("publicdir", "public")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("eventlogfile", "logs/events.log")
		v.SetDefault("submissionlogfile", "logs/submissions.log")
		v.SetDefault("eventlogmaxsizeinmb", 100)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("idempotencybackend", IdempotencyMemory)
		v.SetDefault("idempotencyttlhours", 24)
		v.SetDefault("badgerpath", "storage/idempotency")
		v.SetDefault("returnvisitcooldownminutes", 60)
		v.SetDefault("smtpport", 587)
		v.SetDefault("smtpsecure", false)
		v.SetDefault("jobintervalseconds", 3600)
		v.SetDefault("eventsretentiondays", 0)

		v.BindEnv("appname", "VKANALYTICS_APP_NAME")
		v.BindEnv("appport", "VKANALYTICS_APP_PORT", "PORT")
		v.BindEnv("environment", "VKANALYTICS_ENV")
		v.BindEnv("loglevel", "VKANALYTICS_LOG_LEVEL")
		v.BindEnv("privatekey", "VKANALYTICS_PRIVATE_KEY")
		v.BindEnv("domain", "VKANALYTICS_DOMAIN")
		v.BindEnv("sitebaseurl", "SITE_BASE_URL")
		v.BindEnv("allowedorigins", "ALLOWED_ORIGINS")
		v.BindEnv("storagepath", "VKANALYTICS_STORAGE_PATH")
		v.BindEnv("geodbpath", "VKANALYTICS_GEO_DB_PATH")
		v.BindEnv("publicdir", "VKANALYTICS_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "VKANALYTICS_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "VKANALYTICS_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "VKANALYTICS_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "VKANALYTICS_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "VKANALYTICS_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("eventlogfile", "VKANALYTICS_EVENT_LOG_FILE")
		v.BindEnv("submissionlogfile", "VKANALYTICS_SUBMISSION_LOG_FILE")
		v.BindEnv("eventlogmaxsizeinmb", "VKANALYTICS_EVENT_LOG_MAX_SIZE_IN_MB")
		v.BindEnv("dbtype", "VKANALYTICS_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "VKANALYTICS_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "VKANALYTICS_DB_MAX_IDLE_CONNS")
		v.BindEnv("demoviewkey", "DEMO_VIEW_KEY")
		v.BindEnv("idempotencybackend", "VKANALYTICS_IDEMPOTENCY_BACKEND")
		v.BindEnv("idempotencyttlhours", "VKANALYTICS_IDEMPOTENCY_TTL_HOURS")
		v.BindEnv("badgerpath", "VKANALYTICS_BADGER_PATH")
		v.BindEnv("returnvisitcooldownminutes", "VKANALYTICS_RETURN_VISIT_COOLDOWN_MINUTES")
		v.BindEnv("notificationemailto", "NOTIFICATION_EMAIL_TO")
		v.BindEnv("smtphost", "SMTP_HOST")
		v.BindEnv("smtpport", "SMTP_PORT")
		v.BindEnv("smtpsecure", "SMTP_SECURE")
		v.BindEnv("smtpuser", "SMTP_USER")
		v.BindEnv("smtppass", "SMTP_PASS")
		v.BindEnv("slackwebhookurl", "SLACK_WEBHOOK_URL")
		v.BindEnv("notiontoken", "NOTION_TOKEN")
		v.BindEnv("notiondatabaseid", "NOTION_DATABASE_ID")
		v.BindEnv("notionreturnvisitsdatabaseid", "NOTION_RETURN_VISITS_DATABASE_ID")
		v.BindEnv("mailchimpapikey", "MAILCHIMP_API_KEY")
		v.BindEnv("mailchimpserverprefix", "MAILCHIMP_SERVER_PREFIX")
		v.BindEnv("mailchimpaudienceid", "MAILCHIMP_AUDIENCE_ID")
		v.BindEnv("bookingwebhooksecret", "BOOKING_WEBHOOK_SECRET")
		v.BindEnv("jobintervalseconds", "VKANALYTICS_JOB_INTERVAL_SECONDS")
		v.BindEnv("eventsretentiondays", "VKANALYTICS_EVENTS_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		// Set derived values
		cfg.DatabaseName = cfg.GetDatabasePath()

		defaultKey := "88888888888888888888888888888888"
		if cfg.PrivateKey == "" {
			log.Fatal("Private key is required")
		}
		if cfg.IsProduction() && cfg.PrivateKey == defaultKey {
			log.Fatal("Production requires a unique VKANALYTICS_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
		NoDatabase:     true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	validBackends := map[string]bool{
		IdempotencyMemory: true,
		IdempotencySQL:    true,
		IdempotencyBadger: true,
	}
	if !validBackends[c.IdempotencyBackend] {
		return fmt.Errorf("invalid idempotency backend: %s", c.IdempotencyBackend)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// StoreConfigured reports whether a durable analytics store is in use.
func (c *Config) StoreConfigured() bool {
	return c.DatabaseType != NoDatabase
}

// SMTPConfigured reports whether return-visit emails can be sent.
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && strings.TrimSpace(c.NotificationEmailTo) != ""
}

// NotionCRMConfigured reports whether leads can be written to the CRM database.
func (c *Config) NotionCRMConfigured() bool {
	return c.NotionToken != "" && c.NotionDatabaseID != ""
}

// NotionReturnVisitsConfigured reports whether return visits are logged to Notion.
func (c *Config) NotionReturnVisitsConfigured() bool {
	return c.NotionToken != "" && strings.TrimSpace(c.NotionReturnVisitsDatabaseID) != ""
}

// MailchimpConfigured reports whether lead-magnet signups reach Mailchimp.
func (c *Config) MailchimpConfigured() bool {
	return c.MailchimpAPIKey != "" && c.MailchimpServerPrefix != "" && c.MailchimpAudienceID != ""
}

// GetAllowedOrigins returns the CORS origins as a comma separated list without blanks.
func (c *Config) GetAllowedOrigins() string {
	var origins []string
	seen := make(map[string]bool)
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		origins = append(origins, o)
	}
	return strings.Join(origins, ",")
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10 (reports run their seven metrics in parallel)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
