package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Almanac/internal/pkg/security"
)

// AdminKeyAuth guards the admin API with a shared key sent as X-API-Key or a
// bearer token. Only the SHA-256 of the configured key is kept in memory.
// An empty key disables the admin API entirely.
func AdminKeyAuth(adminKey string, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	adminKey = strings.TrimSpace(adminKey)
	expected := ""
	if adminKey != "" {
		expected = security.HashToken(adminKey)
	}

	return func(c *fiber.Ctx) error {
		if expected == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "admin_disabled", "message": "Admin API key is not configured"})
		}
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}
		if !security.EqualTokens(security.HashToken(apiKey), expected) {
			log.Warn("rejected admin request with invalid api key",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}
		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
