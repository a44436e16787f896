package http

import (
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DBStatus  string    `json:"db_status"`
}

// HealthAction returns the health check handler for dbManager. Running
// without a store (nil dbManager) is a supported mode and reports db_status
// "not_configured".
func HealthAction(dbManager cartridge.DBManager) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		return checkHealth(ctx, dbManager)
	}
}

func checkHealth(ctx *cartridge.Context, dbManager cartridge.DBManager) error {
	dbStatus := "ok"

	if dbManager == nil {
		dbStatus = "not_configured"
	} else if db := dbManager.GetConnection(); db == nil {
		dbStatus = "error"
		ctx.Logger.Error("Database connection unavailable")
	} else {
		sqlDB, err := db.DB()
		if err != nil {
			dbStatus = "error"
			ctx.Logger.Error("Database connection error", slog.Any("error", err))
		} else if err := sqlDB.PingContext(ctx.UserContext()); err != nil {
			dbStatus = "error"
			ctx.Logger.Error("Database ping failed", slog.Any("error", err))
		}
	}

	health := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		DBStatus:  dbStatus,
	}

	if dbStatus == "error" {
		health.Status = "degraded"
	}

	return ctx.JSON(health)
}
