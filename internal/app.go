// Package internal wires the vkanalytics components into a cartridge application.
package internal

import (
	"context"
	"fmt"

	"github.com/karloscodes/cartridge"

	"vkanalytics/internal/config"
	"vkanalytics/internal/database"
	"vkanalytics/internal/jobs"
)

// Application wraps cartridge.Application with the vkanalytics services
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager // nil when no store is configured
	Services  *Services
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	// Keep the interface nil, not a typed nil, when running storeless
	var (
		dbManager *database.DBManager
		manager   cartridge.DBManager
	)
	if cfg.StoreConfigured() {
		dbManager = database.NewDBManager(cfg, logger)
		if err := dbManager.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := dbManager.MigrateDatabase(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		manager = dbManager
	}

	services, err := NewServices(cfg, manager, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	scheduler := jobs.NewScheduler(cfg, manager, services.Idempotency, logger)

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:       cfg,
		Logger:       logger,
		DBManager:    ServerDBManager(manager),
		ServerConfig: NewServerConfig(),
		RouteMountFunc: func(srv *cartridge.Server) {
			MountAppRoutes(srv, services)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{services.Runner, scheduler},
	})
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Services:    services,
	}, nil
}

// ServerDBManager returns the manager handed to cartridge, which refuses a
// nil one. Storeless servers get database.NoStore; services and handlers
// keep the nil manager.
func ServerDBManager(manager cartridge.DBManager) cartridge.DBManager {
	if manager == nil {
		return database.NoStore{}
	}
	return manager
}

// Shutdown stops the server and the background workers, then flushes the
// audit logs and closes the idempotency store.
func (a *Application) Shutdown(ctx context.Context) error {
	err := a.Application.Shutdown(ctx)
	a.Services.Close()
	return err
}
