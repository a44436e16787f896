package database

import (
	"log/slog"

	"gorm.io/gorm"
)

// Capabilities records which optional visitor columns exist in the connected
// schema. It is computed once at startup; queries pick their column list from
// it rather than probing at request time.
type Capabilities struct {
	VisitorDisplayColumns bool
	ReturnVisitColumn     bool
}

// AllCapabilities describes a fully migrated schema.
func AllCapabilities() Capabilities {
	return Capabilities{VisitorDisplayColumns: true, ReturnVisitColumn: true}
}

// DetectCapabilities inspects the visitors table. A nil db reports nothing.
func DetectCapabilities(db *gorm.DB, logger *slog.Logger) Capabilities {
	var caps Capabilities
	if db == nil {
		return caps
	}

	m := db.Migrator()
	if !m.HasTable("visitors") {
		logger.Warn("visitors table missing, optional columns disabled")
		return caps
	}

	caps.VisitorDisplayColumns = m.HasColumn("visitors", "device_display") &&
		m.HasColumn("visitors", "browser_display") &&
		m.HasColumn("visitors", "location_display")
	caps.ReturnVisitColumn = m.HasColumn("visitors", "return_visit_notified_at")

	logger.Info("Schema capabilities detected",
		slog.Bool("visitor_display_columns", caps.VisitorDisplayColumns),
		slog.Bool("return_visit_column", caps.ReturnVisitColumn))
	return caps
}
