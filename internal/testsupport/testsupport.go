package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vkanalytics/internal"
	"vkanalytics/internal/config"
	"vkanalytics/internal/database"
	"vkanalytics/internal/events"
	"vkanalytics/internal/visitors"
)

func init() {
	if os.Getenv("VKANALYTICS_ENV") == "" {
		os.Setenv("VKANALYTICS_ENV", config.Test)
	}
}

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager with vkanalytics' interface
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a test database with all models migrated.
// Uses a named in-memory database with cache=shared to allow multiple connections
// to share the same database within a test. Caches the database by test name
// so multiple calls within the same test return the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Use root test name for caching to handle closure issues where
	// setup functions capture the outer t while t.Run has subtest t
	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	cfg := config.GetConfig()

	// SAFETY CHECK: Ensure we're in test environment
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set VKANALYTICS_ENV=test", cfg.Environment)
	}

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)
	if len(tableNames) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tableNames {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// VisitorFixture describes a visitor row. Empty strings are stored as NULL.
type VisitorFixture struct {
	ID          string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	Email       string
	Name        string
	Referrer    string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	Device      string
	Browser     string
	Location    string

	ReturnVisitNotifiedAt *time.Time
}

// CreateVisitor inserts a visitor directly.
func CreateVisitor(t *testing.T, db *gorm.DB, f VisitorFixture) *visitors.Visitor {
	t.Helper()

	first := f.FirstSeenAt
	if first.IsZero() {
		first = time.Now().UTC().Truncate(time.Second)
	}
	last := f.LastSeenAt
	if last.IsZero() {
		last = first
	}

	v := &visitors.Visitor{
		VisitorID:             f.ID,
		FirstSeenAt:           first.UTC(),
		LastSeenAt:            last.UTC(),
		Email:                 optional(f.Email),
		Name:                  optional(f.Name),
		Referrer:              optional(f.Referrer),
		UTMSource:             optional(f.UTMSource),
		UTMMedium:             optional(f.UTMMedium),
		UTMCampaign:           optional(f.UTMCampaign),
		DeviceDisplay:         optional(f.Device),
		BrowserDisplay:        optional(f.Browser),
		LocationDisplay:       optional(f.Location),
		ReturnVisitNotifiedAt: f.ReturnVisitNotifiedAt,
	}
	require.NoError(t, db.Create(v).Error)
	return v
}

// CreateEvent inserts one event for visitorID. The visitor row is created
// first when it does not exist yet.
func CreateEvent(t *testing.T, db *gorm.DB, visitorID string, eventType events.EventType, at time.Time, metadata map[string]any) *events.Event {
	t.Helper()

	at = at.UTC().Truncate(time.Second)

	var count int64
	require.NoError(t, db.Model(&visitors.Visitor{}).Where("visitor_id = ?", visitorID).Count(&count).Error)
	if count == 0 {
		CreateVisitor(t, db, VisitorFixture{ID: visitorID, FirstSeenAt: at})
	}

	e := &events.Event{
		VisitorID:  visitorID,
		EventType:  eventType,
		OccurredAt: at,
		Metadata:   events.JSONObject(metadata),
		CreatedAt:  at,
	}
	require.NoError(t, db.Create(e).Error)
	return e
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// TestApp is a fully mounted application backed by a test database.
type TestApp struct {
	App      *fiber.App
	Services *internal.Services
	Config   *config.Config
}

// CreateTestApp mounts every route on a fresh server. The fallback and
// submission logs go to a per-test temp directory. Pass a nil db to run
// without a configured store.
func CreateTestApp(t *testing.T, db *gorm.DB, opts ...func(*config.Config)) *TestApp {
	t.Helper()

	base := config.GetConfig()
	appConfig := *base
	appConfig.Environment = config.Test
	dir := t.TempDir()
	appConfig.EventLogFile = filepath.Join(dir, "events.log")
	appConfig.SubmissionLogFile = filepath.Join(dir, "submissions.log")
	appConfig.IdempotencyBackend = config.IdempotencyMemory
	appConfig.DemoViewKey = "demo-key"
	appConfig.NotificationEmailTo = ""
	appConfig.SMTPHost = ""
	appConfig.SlackWebhookURL = ""
	appConfig.NotionToken = ""
	appConfig.MailchimpAPIKey = ""
	if db == nil {
		appConfig.DatabaseType = config.NoDatabase
	} else {
		appConfig.DatabaseType = config.SQLiteDatabase
	}
	for _, opt := range opts {
		opt(&appConfig)
	}

	var dbManager cartridge.DBManager
	if db != nil {
		dbManager = NewTestDBManager(db)
	}

	log := GetLogger()
	services, err := internal.NewServices(&appConfig, dbManager, log)
	require.NoError(t, err)
	t.Cleanup(services.Close)

	cfg := internal.NewServerConfig()
	cfg.Config = &appConfig
	cfg.Logger = log
	cfg.DBManager = internal.ServerDBManager(dbManager)

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv, services)
	return &TestApp{App: srv.App(), Services: services, Config: &appConfig}
}
