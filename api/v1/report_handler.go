package v1

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"vkanalytics/internal/reports"
)

// ReportAction runs the reporting engine over ?start=&end=&by=.
func (h *Handlers) ReportAction(ctx *cartridge.Context) error {
	if !h.viewKeyAllowed(ctx.Ctx) {
		return errorJSON(ctx.Ctx, http.StatusUnauthorized, errUnauthorized)
	}

	period, err := reports.ParsePeriod(ctx.Query("start"), ctx.Query("end"), h.deps.Ingestion.Now())
	if err != nil {
		return errorJSON(ctx.Ctx, http.StatusBadRequest, err.Error())
	}
	groupBy, err := reports.ParseGroupBy(ctx.Query("by"))
	if err != nil {
		return errorJSON(ctx.Ctx, http.StatusBadRequest, err.Error())
	}

	report, err := h.deps.Reports.Run(ctx.UserContext(), period.Start, period.End, groupBy)
	if err != nil {
		ctx.Logger.Error("Failed to build report", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build report",
			"code":  "REPORT_ERROR",
		})
	}

	ctx.Set(fiber.HeaderCacheControl, "no-store")
	return ctx.JSON(report)
}
