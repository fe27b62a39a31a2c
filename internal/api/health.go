package api

import (
	"context"
	"time"

	"github.com/Egham-7/payment-service/internal/config"
	"github.com/Egham-7/payment-service/internal/services/database"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	cfg         *config.Config
	db          *database.DB
	redisClient *redis.Client
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(cfg *config.Config, db *database.DB, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{
		cfg:         cfg,
		db:          db,
		redisClient: redisClient,
	}
}

// HealthCheck returns the health status of the service and its dependencies
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	dbStatus := h.checkDatabase()
	stripeStatus := h.checkStripe()

	checks := fiber.Map{
		"database": dbStatus,
		"stripe":   stripeStatus,
	}

	overallStatus := "healthy"
	statusCode := fiber.StatusOK

	if dbStatus != "healthy" || stripeStatus != "healthy" {
		overallStatus = "degraded"
		statusCode = fiber.StatusServiceUnavailable
	}

	// Redis is optional; report it but never degrade on it
	if h.redisClient != nil {
		checks["redis"] = h.checkRedis()
	}

	response := fiber.Map{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}

	return c.Status(statusCode).JSON(response)
}

// checkDatabase verifies database connectivity
func (h *HealthHandler) checkDatabase() string {
	if h.db == nil {
		return "unknown"
	}

	if err := h.db.Ping(); err != nil {
		return "unhealthy"
	}

	return "healthy"
}

// checkStripe verifies that Stripe credentials are configured. A live API
// round trip is deliberately avoided here; health probes run often.
func (h *HealthHandler) checkStripe() string {
	if h.cfg.Stripe == nil || h.cfg.Stripe.SecretKey == "" {
		return "unconfigured"
	}

	return "healthy"
}

// checkRedis verifies Redis connectivity
func (h *HealthHandler) checkRedis() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		return "unhealthy"
	}

	return "healthy"
}
