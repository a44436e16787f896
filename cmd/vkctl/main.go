// main.go - Admin and reporting tool for vkanalytics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/term"

	"vkanalytics/internal"
	"vkanalytics/internal/eventlog"
	"vkanalytics/internal/events"
	"vkanalytics/internal/pkg/geoip"
	"vkanalytics/internal/reports"
	"vkanalytics/internal/settings"
	"vkanalytics/internal/visitors"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

var errNoStore = errors.New("analytics store not configured (VKANALYTICS_DB_TYPE is none)")

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&ReportCommand{},
	&MigrateCommand{},
	&StatusCommand{},
	&ExcludeIPsCommand{},
	&ReplayCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	if _, ok := cmd.(*HelpCommand); ok {
		_ = cmd.Execute(ctx, nil, args)
		return
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Printf("Warning: Failed to initialize app: %v", err)
		log.Println("Proceeding with limited functionality...")
	}

	err = cmd.Execute(ctx, app, args)

	if app != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		if shutdownErr := app.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Printf("Warning: Cleanup error: %v", shutdownErr)
		}
		cancelShutdown()
	}

	if err != nil {
		log.Fatalf("Command failed: %v", err)
	}
}

// ReportCommand prints the conversion report
type ReportCommand struct{}

func (c *ReportCommand) Name() string { return "report" }
func (c *ReportCommand) Description() string {
	return "Prints conversion metrics: report [start] [end] [--by utm|referrer] [--json] [--tables]"
}

// reportArgs holds the parsed report arguments.
type reportArgs struct {
	start, end string
	by         string
	json       bool
	tables     bool
}

// parseReportArgs accepts flags before, between or after the dates.
func parseReportArgs(args []string) (reportArgs, error) {
	var ra reportArgs
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--json" || arg == "-json":
			ra.json = true
		case arg == "--tables" || arg == "-tables":
			ra.tables = true
		case arg == "--by" || arg == "-by":
			if i+1 >= len(args) {
				return ra, fmt.Errorf("--by needs a value: utm or referrer")
			}
			i++
			ra.by = args[i]
		case strings.HasPrefix(arg, "--by="):
			ra.by = strings.TrimPrefix(arg, "--by=")
		case strings.HasPrefix(arg, "-"):
			return ra, fmt.Errorf("unknown flag %s", arg)
		default:
			positional = append(positional, arg)
		}
	}

	if len(positional) > 2 {
		return ra, fmt.Errorf("usage: report [start] [end] [--by utm|referrer] [--json]")
	}
	if len(positional) > 0 {
		ra.start = positional[0]
	}
	if len(positional) > 1 {
		ra.end = positional[1]
	}
	return ra, nil
}

func (c *ReportCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	ra, err := parseReportArgs(args)
	if err != nil {
		return err
	}

	period, err := reports.ParsePeriod(ra.start, ra.end, time.Now())
	if err != nil {
		return err
	}
	groupBy, err := reports.ParseGroupBy(ra.by)
	if err != nil {
		return err
	}

	report := &reports.Report{Error: reports.ErrNotConfigured}
	if app != nil {
		report, err = app.Services.Reports.Run(ctx, period.Start, period.End, groupBy)
		if err != nil {
			return fmt.Errorf("report failed: %w", err)
		}
	}

	if ra.json {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	opts := reports.TextOptions{Tables: ra.tables}
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if width, _, err := term.GetSize(fd); err == nil {
			opts.Width = width
		}
	}
	fmt.Print(reports.FormatText(report, opts))
	return nil
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}
	if app.DBManager == nil {
		return errNoStore
	}

	log.Println("Running database migrations...")

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows store, schema and integration status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot check status: app initialization failed")
	}
	s := app.Services

	log.Println("System Status:")
	log.Printf("- Environment: %s", s.Config.Environment)
	log.Printf("- Notification channels: %s", listOrNone(s.Notifier.Channels()))
	log.Printf("- Notion CRM: %t", s.CRM.Configured())
	log.Printf("- Mailchimp: %t", s.Mailchimp.Configured())
	log.Printf("- Idempotency backend: %s", s.Config.IdempotencyBackend)
	log.Printf("- GeoIP database: %t", geoip.GetGeoDB() != nil)

	if app.DBManager == nil {
		log.Println("- Database: not configured")
		return nil
	}

	db := app.DBManager.GetConnection().WithContext(ctx)

	var visitorCount, eventCount int64
	if err := db.Model(&visitors.Visitor{}).Count(&visitorCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if err := db.Model(&events.Event{}).Count(&eventCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("- Database: Connected")
	log.Printf("- Visitor display columns: %t", s.Capabilities.VisitorDisplayColumns)
	log.Printf("- Return-visit column: %t", s.Capabilities.ReturnVisitColumn)
	log.Printf("- Visitors: %d", visitorCount)
	log.Printf("- Events: %d", eventCount)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)

	return nil
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

// ExcludeIPsCommand replaces the excluded IP list
type ExcludeIPsCommand struct{}

func (c *ExcludeIPsCommand) Name() string { return "exclude-ips" }
func (c *ExcludeIPsCommand) Description() string {
	return "Sets the IPs whose events are dropped: exclude-ips <ip,ip,...> (\"\" clears)"
}

func (c *ExcludeIPsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s <comma-separated IPs>", c.Name())
	}
	if app == nil || app.DBManager == nil {
		return errNoStore
	}

	var ips []string
	for _, ip := range strings.Split(args[0], ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			ips = append(ips, ip)
		}
	}

	saved, err := settings.SetExcludedIPs(app.DBManager.GetConnection().WithContext(ctx), ips)
	if err != nil {
		return err
	}

	log.Printf("Excluded IPs: %s", listOrNone(saved))
	return nil
}

// ReplayCommand re-ingests batches from the fallback event log
type ReplayCommand struct{}

func (c *ReplayCommand) Name() string { return "replay" }
func (c *ReplayCommand) Description() string {
	return "Stores batches that were logged while the database was unavailable: replay <events.log>"
}

func (c *ReplayCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s <fallback-log>", c.Name())
	}
	if app == nil || app.DBManager == nil {
		return errNoStore
	}

	batches, err := eventlog.ReadFallback(args[0])
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		log.Println("Nothing to replay")
		return nil
	}

	log.Printf("Replaying %d failed batches from %s...", len(batches), args[0])
	res, err := app.Services.Ingestion.Replay(ctx, batches)
	if err != nil {
		return fmt.Errorf("replay stopped: %w", err)
	}

	log.Printf("Replay done: %d batches, %d stored, %d failed, %d events",
		res.Batches, res.Stored, res.Failed, res.Events)
	if res.Failed > 0 {
		return fmt.Errorf("%d batches could not be stored", res.Failed)
	}
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// Helper functions

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: vkctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
