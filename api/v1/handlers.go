// Package v1 holds the public HTTP handlers: event ingestion, the enrichment
// hook, the event viewer, reports, form submissions and the booking webhook.
package v1

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"vkanalytics/internal/config"
	"vkanalytics/internal/crm"
	"vkanalytics/internal/database"
	"vkanalytics/internal/ingestion"
	"vkanalytics/internal/reports"
	"vkanalytics/internal/submissions"
)

const (
	errUnauthorized  = "Unauthorized"
	errInternalError = "Internal server error"
)

// Deps wires the handlers to the services they front. DBManager is nil
// when no store is configured.
type Deps struct {
	Config       *config.Config
	Logger       *slog.Logger
	DBManager    cartridge.DBManager
	Capabilities database.Capabilities
	Ingestion    *ingestion.Service
	Reports      *reports.Engine
	Submissions  *submissions.Service
	CRM          *crm.Resolver
}

// Handlers serves the public API.
type Handlers struct {
	deps Deps
}

func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

// viewKeyAllowed gates the read endpoints behind the demo view key when one
// is configured.
func (h *Handlers) viewKeyAllowed(c *fiber.Ctx) bool {
	return secretMatches(h.deps.Config.DemoViewKey, c.Query("view_key"))
}

func (h *Handlers) storeConfigured() bool {
	return h.deps.DBManager != nil
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

// NoContent answers CORS preflight requests.
func NoContent(ctx *cartridge.Context) error {
	return ctx.SendStatus(fiber.StatusNoContent)
}
