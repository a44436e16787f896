package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "vkanalytics/api/v1"
	"vkanalytics/internal/http"
	"vkanalytics/internal/metrics"
)

// analyticsPrefixes are the mount points of the analytics API. The bare
// /analytics prefix serves sites that proxy the API under their own path.
var analyticsPrefixes = []string{"/api/analytics", "/analytics"}

// publicCORSConfig returns the standard CORS configuration for public endpoints.
// All public endpoints share this permissive CORS setup for cross-origin access.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,PATCH,DELETE,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// browserSites are the Sec-Fetch-Site values accepted on browser-only routes.
var browserSites = []string{"cross-site", "same-site", "same-origin"}

// NewServerConfig returns the HTTP server settings. The global Sec-Fetch-Site
// check is off: browser-only routes attach their own, so webhooks, PATCH
// enrichment and the viewer stay reachable from servers and scripts.
func NewServerConfig() *cartridge.ServerConfig {
	cfg := cartridge.DefaultServerConfig()
	cfg.EnableSecFetchSite = false
	cfg.SecFetchSiteAllowedValues = browserSites
	return cfg
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server, services *Services) {
	cfg := services.Config

	// Rate limiting would interfere with tests and local runs
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 120/min per IP: a busy page flushes a batch every few seconds
	eventsRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(120),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Forms and reads are human-paced
	formsRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(20),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Rejects POSTs without a browser Sec-Fetch-Site header
	browserOnly := cartridgemiddleware.SecFetchSiteMiddleware(cartridgemiddleware.SecFetchSiteConfig{
		AllowedValues: browserSites,
		Methods:       []string{fiber.MethodPost},
	})

	// ============================================
	// ROUTE CONFIGURATIONS
	// ============================================

	// Browser-facing API: rate limiting + CORS + Sec-Fetch-Site
	// CORS runs first so 403 responses carry CORS headers
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{eventsRateLimiter, browserOnly},
		CORSConfig:       publicCORSConfig,
	}

	formsConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{formsRateLimiter, browserOnly},
		CORSConfig:       publicCORSConfig,
	}

	// Server-to-server callers send no Sec-Fetch-Site header
	webhookConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{formsRateLimiter},
	}

	// Viewer, reports and settings are read from scripts and the CLI too
	readConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{formsRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	h := v1.NewHandlers(v1.Deps{
		Config:       cfg,
		Logger:       services.Logger,
		DBManager:    services.DBManager,
		Capabilities: services.Capabilities,
		Ingestion:    services.Ingestion,
		Reports:      services.Reports,
		Submissions:  services.Submissions,
		CRM:          services.CRM,
	})

	// === ROOT ROUTES ===
	health := http.HealthAction(services.DBManager)
	srv.Get("/_health", health)
	srv.Head("/_health", health)
	srv.App().Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	// === ANALYTICS API ===
	showExcludedIPs, updateExcludedIPs := http.ExcludedIPsActions(services.DBManager, cfg.DemoViewKey)
	for _, prefix := range analyticsPrefixes {
		srv.Post(prefix+"/events", h.CreateEventsAction, publicAPIConfig)
		srv.Get(prefix+"/events", h.ListEventsAction, readConfig)
		srv.Delete(prefix+"/events", h.DeleteEventsAction, readConfig)
		srv.Options(prefix+"/events", v1.NoContent, publicAPIConfig)

		srv.App().Patch(prefix+"/visitors/:visitor_id",
			cors.New(*publicCORSConfig),
			eventsRateLimiter,
			h.EnrichVisitorAction)
		srv.Options(prefix+"/visitors/:visitor_id", v1.NoContent, publicAPIConfig)

		srv.Get(prefix+"/report", h.ReportAction, readConfig)
		srv.Options(prefix+"/report", v1.NoContent, readConfig)

		srv.Get(prefix+"/settings/excluded-ips", showExcludedIPs, readConfig)
		srv.Post(prefix+"/settings/excluded-ips", updateExcludedIPs, readConfig)
	}

	// === FORMS ===
	srv.Post("/api/submissions/:endpoint", h.SubmitFormAction, formsConfig)
	srv.Options("/api/submissions/:endpoint", v1.NoContent, formsConfig)

	// === WEBHOOKS ===
	srv.Post("/api/webhooks/booking-confirmed", h.BookingConfirmedAction, webhookConfig)
}
