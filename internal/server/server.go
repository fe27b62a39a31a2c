package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/Egham-7/payment-service/internal/api"
	"github.com/Egham-7/payment-service/internal/config"
	"github.com/Egham-7/payment-service/internal/services/database"
	"github.com/Egham-7/payment-service/internal/services/middleware"
	"github.com/Egham-7/payment-service/internal/services/payments"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

// Server represents a payment service instance.
type Server struct {
	config *config.Config
	app    *fiber.App
	redis  *redis.Client
	db     *database.DB
}

// New creates a new Server instance with the given configuration.
// The cfg parameter is required and must not be nil.
func New(cfg *config.Config) *Server {
	if cfg == nil {
		panic("config cannot be nil - use config.LoadFromFile() to create config")
	}

	return &Server{
		config: cfg,
	}
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run() error {
	// Validate configuration
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Set log level
	setupLogLevel(s.config)

	port := s.config.Server.Port
	if port == "" {
		port = "8000"
	}
	listenAddr := ":" + port

	// Create Fiber app
	s.app = createFiberApp(s.config)

	// === Infrastructure Setup ===
	redisClient, err := createRedisClient(s.config)
	if err != nil {
		return fmt.Errorf("failed to create Redis client: %w", err)
	}
	s.redis = redisClient

	db, err := database.New(*s.config.Database)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	s.db = db
	fiberlog.Infof("Database (%s) initialized successfully", db.DriverName())

	// Setup cleanup handlers
	if s.redis != nil {
		defer func() {
			if err := s.redis.Close(); err != nil {
				fiberlog.Errorf("Failed to close Redis client: %v", err)
			}
		}()
	}
	defer func() {
		if err := s.db.Close(); err != nil {
			fiberlog.Errorf("Failed to close database connection: %v", err)
		}
	}()

	// === Services Initialization ===
	gateway := payments.NewStripeGateway(payments.StripeConfig{
		SecretKey:     s.config.Stripe.SecretKey,
		WebhookSecret: s.config.Stripe.WebhookSecret,
	})
	eventStore := payments.NewEventStore(s.redis)
	paymentsSvc := payments.NewService(s.db.DB, gateway, eventStore)

	if err := paymentsSvc.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	fiberlog.Info("Database migrations completed successfully")

	// === Middleware Setup ===
	setupMiddleware(s.app, s.config)

	// === Routes Setup ===
	setupRoutes(s.app, s.config, s.db, s.redis, paymentsSvc)

	// Print startup info
	fmt.Printf("Payment service starting on %s\n", listenAddr)
	fmt.Printf("   Environment: %s\n", s.config.Server.Environment)
	fmt.Printf("   Go version: %s\n", runtime.Version())

	// Graceful shutdown handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := s.app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		fiberlog.Infof("Received signal: %v. Starting graceful shutdown...", sig)
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	fiberlog.Info("Server shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	shutdownErrChan := make(chan error, 1)
	go func() {
		shutdownErrChan <- s.app.ShutdownWithTimeout(30 * time.Second)
	}()

	select {
	case err := <-shutdownErrChan:
		if err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		fiberlog.Info("Server shutdown completed successfully")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timeout exceeded")
	}

	return nil
}

func createFiberApp(cfg *config.Config) *fiber.App {
	isProd := cfg.IsProduction()

	return fiber.New(fiber.Config{
		AppName:           "PaymentService v1.0",
		EnablePrintRoutes: !isProd,
		ReadTimeout:       1 * time.Minute,
		WriteTimeout:      1 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		CaseSensitive:     true,
		StrictRouting:     false,
		Network:           "tcp",
		ServerHeader:      "PaymentService",
	})
}

func setupMiddleware(app *fiber.App, cfg *config.Config) {
	isProd := cfg.IsProduction()

	allowedOrigins := cfg.Server.AllowedOrigins
	if allowedOrigins == "" {
		// The original deployment allowed all origins
		allowedOrigins = "*"
	}

	// Recover middleware (must be first)
	app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	// Rate limiter keyed by API key, falling back to client IP
	app.Use(limiter.New(limiter.Config{
		Max:               300,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator: func(c *fiber.Ctx) string {
			if apiKey, ok := c.Locals("api_key_raw").(string); ok && apiKey != "" {
				return apiKey
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		},
	}))

	// Request timeout
	app.Use(func(c *fiber.Ctx) error {
		const requestTimeout = 30 * time.Second

		ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
		defer cancel()
		c.SetUserContext(ctx)

		return c.Next()
	})

	// Compression
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// Logging
	if isProd {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${bytesSent}b\n",
			Output: os.Stdout,
		}))
	} else {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
			Output: os.Stdout,
		}))
	}

	// CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-API-Key, Stripe-Signature",
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: allowedOrigins != "*",
		MaxAge:           86400,
	}))
}

func setupRoutes(app *fiber.App, cfg *config.Config, db *database.DB, redisClient *redis.Client, paymentsSvc *payments.Service) {
	paymentsHandler := api.NewPaymentsHandler(paymentsSvc)
	webhookHandler := api.NewStripeWebhookHandler(paymentsSvc)
	healthHandler := api.NewHealthHandler(cfg, db, redisClient)

	apiKeyMiddleware := middleware.NewAPIKeyMiddleware(cfg.Auth)

	// Health check endpoint (always unauthenticated)
	app.Get("/health", healthHandler.HealthCheck)

	// Welcome endpoint
	app.Get("/", welcomeHandler())

	v1 := app.Group("/api/v1")

	// Webhooks authenticate via Stripe signature, not API key
	v1.Post("/webhooks/stripe", webhookHandler.HandleWebhook)

	paymentsGroup := v1.Group("/payments", apiKeyMiddleware.RequireAPIKey())
	paymentsGroup.Post("/", paymentsHandler.CreatePayment)
	paymentsGroup.Get("/", paymentsHandler.ListPayments)
	paymentsGroup.Get("/:payment_id", paymentsHandler.GetPayment)
	paymentsGroup.Post("/:payment_id/refund", paymentsHandler.RefundPayment)
}

func welcomeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message":    "Payment Microservice",
			"version":    "1.0.0",
			"go_version": runtime.Version(),
			"status":     "running",
			"endpoints": fiber.Map{
				"payments": "/api/v1/payments",
				"webhooks": "/api/v1/webhooks/stripe",
				"health":   "/health",
			},
		})
	}
}

func setupLogLevel(cfg *config.Config) {
	logLevel := cfg.GetNormalizedLogLevel()

	switch logLevel {
	case "trace":
		fiberlog.SetLevel(fiberlog.LevelTrace)
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "info", "":
		fiberlog.SetLevel(fiberlog.LevelInfo)
	case "warn", "warning":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	case "fatal":
		fiberlog.SetLevel(fiberlog.LevelFatal)
	case "panic":
		fiberlog.SetLevel(fiberlog.LevelPanic)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
		fiberlog.Warnf("Unknown log level '%s', defaulting to 'info'", logLevel)
	}
}

func createRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis == nil || cfg.Redis.URL == "" {
		fiberlog.Info("Redis not configured - webhook event dedup disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 20
	opt.MinIdleConns = 5
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.MaxRetries = 3

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			fiberlog.Errorf("Failed to close Redis client after connection failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	fiberlog.Info("Redis connection established successfully")
	return client, nil
}
