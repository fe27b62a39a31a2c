package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/Egham-7/payment-service/internal/models"
	"github.com/gofiber/fiber/v2"
)

// APIKeyMiddleware authenticates requests against the statically configured
// API keys. Keys are compared in constant time.
type APIKeyMiddleware struct {
	config *models.AuthConfig
}

func NewAPIKeyMiddleware(config *models.AuthConfig) *APIKeyMiddleware {
	if config == nil {
		defaultConfig := models.DefaultAuthConfig()
		config = &defaultConfig
	}
	if len(config.HeaderNames) == 0 {
		config.HeaderNames = []string{"X-API-Key"}
	}
	return &APIKeyMiddleware{
		config: config,
	}
}

func (m *APIKeyMiddleware) RequireAPIKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !m.config.Enabled {
			return c.Next()
		}

		key := m.extractAPIKey(c)

		if key == "" {
			if m.config.AllowAnonymous {
				return c.Next()
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "API key required",
			})
		}

		if !m.validKey(key) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}

		return c.Next()
	}
}

func (m *APIKeyMiddleware) validKey(key string) bool {
	for _, configured := range m.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(configured)) == 1 {
			return true
		}
	}
	return false
}

func (m *APIKeyMiddleware) extractAPIKey(c *fiber.Ctx) string {
	for _, headerName := range m.config.HeaderNames {
		if key := c.Get(headerName); key != "" {
			key = strings.TrimSpace(key)
			c.Locals("api_key_raw", key)
			return key
		}
	}

	if authHeader := c.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			key := strings.TrimSpace(parts[1])
			c.Locals("api_key_raw", key)
			return key
		}
	}

	return ""
}
