package http

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"vkanalytics/internal/settings"
)

type excludedIPsRequest struct {
	IPs []string `json:"ips"`
}

// ExcludedIPsActions returns the read and update handlers of the excluded IP
// list stored through dbManager, which is nil when no store is configured.
// Both require viewKey as ?view_key= when it is set.
func ExcludedIPsActions(dbManager cartridge.DBManager, viewKey string) (show, update func(*cartridge.Context) error) {
	authorized := func(ctx *cartridge.Context) bool {
		if viewKey == "" {
			return true
		}
		return subtle.ConstantTimeCompare([]byte(viewKey), []byte(ctx.Query("view_key"))) == 1
	}

	show = func(ctx *cartridge.Context) error {
		if !authorized(ctx) {
			return ctx.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}
		if dbManager == nil {
			return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "Analytics DB not configured"})
		}

		ips, err := settings.GetExcludedIPs(dbManager.GetConnection().WithContext(ctx.UserContext()))
		if err != nil {
			ctx.Logger.Error("failed to read excluded_ips setting", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to read settings"})
		}
		return ctx.JSON(fiber.Map{"ips": ips})
	}

	update = func(ctx *cartridge.Context) error {
		if !authorized(ctx) {
			return ctx.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}
		if dbManager == nil {
			return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "Analytics DB not configured"})
		}

		var req excludedIPsRequest
		if err := json.Unmarshal(ctx.Body(), &req); err != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON body"})
		}

		ips, err := settings.SetExcludedIPs(dbManager.GetConnection().WithContext(ctx.UserContext()), req.IPs)
		if errors.Is(err, settings.ErrInvalidIP) {
			ctx.Logger.Warn("invalid IP format submitted", slog.String("error", err.Error()))
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if err != nil {
			ctx.Logger.Error("failed to update excluded_ips setting", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update IP filtering settings"})
		}

		ctx.Logger.Info("excluded IPs updated", slog.Int("count", len(ips)))
		return ctx.JSON(fiber.Map{"ips": ips})
	}
	return show, update
}
