package middleware

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"tagscope/internal/settings"
)

// AdminAPIKeyAuth middleware validates the API key for the admin API.
// Expects: Authorization: Bearer <api_key>
// Keys are verified against the stored bcrypt hash.
//
// Kept out of inlining so the returned handler's runtime name stays
// "middleware.AdminAPIKeyAuth", which route introspection relies on.
//
//go:noinline
func AdminAPIKeyAuth(db *gorm.DB, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing Authorization header",
			})
		}

		// Extract Bearer token
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid Authorization header format. Expected: Bearer <api_key>",
			})
		}

		providedKey := strings.TrimPrefix(authHeader, "Bearer ")
		if providedKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "API key is empty",
			})
		}

		if !settings.HasAdminAPIKey(db) {
			logger.Warn("Admin API key not configured")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "API key not configured. Run: tsctl set-api-key",
			})
		}

		if !settings.VerifyAdminAPIKey(db, providedKey) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}

		return c.Next()
	}
}
