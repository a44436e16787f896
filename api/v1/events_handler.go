package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"vkanalytics/internal/events"
	"vkanalytics/internal/ingestion"
	"vkanalytics/internal/metrics"
	"vkanalytics/internal/pkg/referrers"
	"vkanalytics/internal/visitors"
)

// CreateEventsAction accepts a batch of browser events. Anything past
// validation is answered with 204, including batches that only reached the
// fallback log.
func (h *Handlers) CreateEventsAction(ctx *cartridge.Context) error {
	batch, err := events.ParseBatch(ctx.Body(), h.deps.Ingestion.Now())
	if err != nil {
		var verr *events.ValidationError
		if errors.As(err, &verr) {
			metrics.BatchesRejected.WithLabelValues(rejectReason(verr)).Inc()
			ctx.Logger.Debug("Rejected event batch", slog.String("reason", verr.Message))
			return errorJSON(ctx.Ctx, http.StatusBadRequest, verr.Message)
		}
		ctx.Logger.Error("Failed to parse event batch", slog.Any("error", err))
		return errorJSON(ctx.Ctx, http.StatusInternalServerError, errInternalError)
	}

	client := ingestion.Client{
		UserAgent: userAgent(ctx.Ctx),
		IP:        getClientIP(ctx.Ctx),
	}
	outcome, err := h.deps.Ingestion.Ingest(ctx.UserContext(), batch, client)
	if err != nil {
		ctx.Logger.Error("Event batch lost",
			slog.String("batch_id", outcome.BatchID),
			slog.String("visitor_id", batch.VisitorID),
			slog.Any("error", err))
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func rejectReason(err *events.ValidationError) string {
	switch err {
	case events.ErrInvalidVisitorID:
		return "visitor_id"
	case events.ErrInvalidBatchSize:
		return "batch_size"
	case events.ErrNoValidEvents:
		return "event_type"
	case events.ErrMalformedBody:
		return "malformed"
	}
	return "other"
}

// ListEventsAction returns the newest events joined with their visitor.
func (h *Handlers) ListEventsAction(ctx *cartridge.Context) error {
	if !h.viewKeyAllowed(ctx.Ctx) {
		return errorJSON(ctx.Ctx, http.StatusUnauthorized, errUnauthorized)
	}
	ctx.Set(fiber.HeaderCacheControl, "no-store")

	if !h.storeConfigured() {
		return ctx.JSON([]events.RecentEvent{})
	}

	limit := events.ClampLimit(ctx.Query("limit"))
	db := h.deps.DBManager.GetConnection().WithContext(ctx.UserContext())
	rows, err := events.Recent(db, limit, h.deps.Capabilities.VisitorDisplayColumns)
	if err != nil {
		ctx.Logger.Error("Failed to load events", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load events",
			"code":  "EVENTS_QUERY_ERROR",
		})
	}

	for i := range rows {
		rows[i].VisitorAlias = visitors.VisitorAlias(rows[i].VisitorID)
		rows[i].ReferrerSource = referrers.SourceName(deref(rows[i].Referrer), h.deps.Config.Domain)
	}
	return ctx.JSON(rows)
}

type deleteEventsRequest struct {
	IDs []uint `json:"ids"`
}

// DeleteEventsAction removes events by id, for cleaning up test traffic.
func (h *Handlers) DeleteEventsAction(ctx *cartridge.Context) error {
	if !h.viewKeyAllowed(ctx.Ctx) {
		return errorJSON(ctx.Ctx, http.StatusUnauthorized, errUnauthorized)
	}

	var req deleteEventsRequest
	if err := json.Unmarshal(ctx.Body(), &req); err != nil || len(req.IDs) == 0 {
		return errorJSON(ctx.Ctx, http.StatusBadRequest, "ids must be a non-empty array")
	}
	if !h.storeConfigured() {
		return ctx.JSON(fiber.Map{"deleted": 0})
	}

	db := h.deps.DBManager.GetConnection().WithContext(ctx.UserContext())
	deleted, err := events.DeleteByIDs(db, req.IDs)
	if err != nil {
		ctx.Logger.Error("Failed to delete events", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete events",
			"code":  "EVENTS_DELETE_ERROR",
		})
	}

	ctx.Logger.Info("Deleted events", slog.Int64("count", deleted))
	return ctx.JSON(fiber.Map{"deleted": deleted})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
