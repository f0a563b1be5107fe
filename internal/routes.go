package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	"tagscope/internal/config"
	"tagscope/internal/http"
	"tagscope/internal/http/middleware"
)

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()

	// Helper to conditionally apply rate limiting (only in production)
	// In development/test, rate limiting would interfere with testing
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Admin API rate limiter (60 requests per minute per IP). Inspections
	// trigger outbound fetches, so abuse here turns into traffic towards
	// googletagmanager.com.
	apiRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(60),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	db := srv.GetDBManager().GetConnection()
	logger := srv.GetLogger()

	// All of the admin API sits behind the bearer API key
	apiConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			apiRateLimiter,
			middleware.AdminAPIKeyAuth(db, logger),
		},
	}

	// Health check endpoint (unauthenticated)
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === CONTAINERS ===
	srv.Get("/api/v1/containers", http.ContainersIndexAction, apiConfig)
	srv.Post("/api/v1/containers", http.ContainerCreateAction, apiConfig)
	srv.Get("/api/v1/containers/:publicID", http.ContainerShowAction, apiConfig)
	srv.Delete("/api/v1/containers/:publicID", http.ContainerDeleteAction, apiConfig)

	// === INSPECTIONS ===
	srv.Post("/api/v1/containers/:publicID/inspections", http.InspectionCreateAction, apiConfig)
	srv.Get("/api/v1/containers/:publicID/runs", http.InspectionRunsAction, apiConfig)

	// === INVENTORY ===
	srv.Get("/api/v1/containers/:publicID/tags", http.InventoryTagsAction, apiConfig)
	srv.Get("/api/v1/containers/:publicID/triggers", http.InventoryTriggersAction, apiConfig)
	srv.Get("/api/v1/containers/:publicID/variables", http.InventoryVariablesAction, apiConfig)
	srv.Get("/api/v1/containers/:publicID/vendors", http.InventoryVendorsAction, apiConfig)
}
