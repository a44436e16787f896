package ingestion

import (
	"context"
	"log/slog"
	"strings"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"vkanalytics/internal/visitors"
)

// Enrich binds an email and/or name to a visitor. It is a no-op without a
// store, and unknown visitor ids update nothing.
func (s *Service) Enrich(ctx context.Context, visitorID string, identity visitors.Identity) error {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return visitors.ErrInvalidVisitorID
	}
	if !s.StoreConfigured() {
		return nil
	}
	if identity.Empty() {
		return visitors.ErrNoIdentityFields
	}

	db := s.dbManager.GetConnection().WithContext(ctx)
	err := sqlite.PerformWrite(s.logger, db, func(tx *gorm.DB) error {
		return visitors.Enrich(tx, visitorID, identity, s.now())
	})
	if err != nil {
		return err
	}
	s.logger.Debug("Visitor enriched", slog.String("visitor_id", visitorID))
	return nil
}
