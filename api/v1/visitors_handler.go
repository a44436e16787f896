package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"vkanalytics/internal/visitors"
)

// EnrichVisitorAction binds an email and/or name to a visitor and schedules
// the return-visit check. cartridge has no PATCH helper, so this is mounted
// as a plain fiber handler.
func (h *Handlers) EnrichVisitorAction(c *fiber.Ctx) error {
	logger := h.deps.Logger
	visitorID := c.Params("visitor_id")

	var identity visitors.Identity
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &identity); err != nil {
			return errorJSON(c, http.StatusBadRequest, "Invalid JSON body")
		}
	}

	err := h.deps.Ingestion.Enrich(c.UserContext(), visitorID, identity)
	switch {
	case errors.Is(err, visitors.ErrInvalidVisitorID):
		return errorJSON(c, http.StatusBadRequest, "Missing visitor_id")
	case errors.Is(err, visitors.ErrNoIdentityFields):
		return errorJSON(c, http.StatusBadRequest, "Provide email and/or name")
	case err != nil:
		logger.Error("Failed to update visitor",
			slog.String("visitor_id", visitorID),
			slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, "Failed to update visitor")
	}

	if h.deps.Ingestion.StoreConfigured() {
		h.deps.Ingestion.CheckReturnVisit(visitorID)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
