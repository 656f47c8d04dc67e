package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aimemory/platform/pkg/config"
	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/aimemory/platform/pkg/tooldispatch"
	"github.com/aimemory/platform/pkg/vectorindex"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
)

func main() {
	mcpStdio := flag.Bool("mcp-stdio", false, "serve the tool surface over stdio instead of HTTP")
	flag.Parse()

	// 1. Initialize Logger
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		logx.SetLevel(logx.LevelDebug)
	case "warn":
		logx.SetLevel(logx.LevelWarn)
	case "error":
		logx.SetLevel(logx.LevelError)
	default:
		logx.SetLevel(logx.LevelInfo)
	}

	logx.Info("🚀 Starting AI Memory Platform...")

	// 2. Load config, build the Dependency Container
	cfg := config.Load()
	container := NewContainer(cfg)
	defer container.Cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	container.StartBackgroundServices(ctx)

	// 3a. MCP mode: the tool surface over stdio, principal fixed from an
	// API key the host supplies.
	if *mcpStdio {
		runMCPStdio(ctx, container)
		return
	}

	// 3b. HTTP mode
	app := fiber.New(fiber.Config{
		AppName:               "AI Memory Platform",
		DisableStartupMessage: true,
		ErrorHandler:          globalErrorHandler,
		BodyLimit:             cfg.Server.BodyLimit,
		IdleTimeout:           120 * time.Second,
	})

	// 4. Global Middleware
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return uuid.NewString()
		},
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-CSRF-Token, X-Request-ID",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS",
		ExposeHeaders: "X-Request-ID",
	}))

	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip} | ${reqHeader:X-Request-ID}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
	}))

	// 5. Health Check
	app.Get("/health", healthCheckHandler(container))

	// 6. Register Routes
	authenticate := container.IAM.AuthMiddleware.Authenticate()

	container.IAM.AuthHandlers.RegisterRoutes(app, authenticate)
	logx.Info("✓ Auth routes registered")

	container.IAM.OAuth2Handlers.RegisterRoutes(app, authenticate)
	logx.Info("✓ OAuth2 routes registered")

	container.MemoryHandlers.RegisterRoutes(app, authenticate)
	container.SearchHandlers.RegisterRoutes(app, authenticate)
	logx.Info("✓ Memory routes registered")

	container.GraphHandlers.RegisterRoutes(app, authenticate)
	logx.Info("✓ Graph routes registered")

	container.IAM.APIKeyHandlers.RegisterRoutes(app, authenticate)
	logx.Info("✓ API key routes registered")

	container.IAM.VaultHandlers.RegisterRoutes(app, authenticate)
	logx.Info("✓ Vault routes registered")

	container.ToolHandlers.RegisterRoutes(app, authenticate)
	logx.Info("✓ Tool dispatch routes registered")

	// 7. 404 Handler
	app.Use(notFoundHandler)

	// 8. Start Server with Graceful Shutdown
	startServer(app, cfg)
}

// runMCPStdio serves the tool registry over stdio. The principal comes
// from MCP_API_KEY so the remote surface carries exactly the caller's
// permissions.
func runMCPStdio(ctx context.Context, container *Container) {
	apiKey := os.Getenv("MCP_API_KEY")
	if apiKey == "" {
		logx.Fatal("MCP_API_KEY is required in --mcp-stdio mode")
	}

	userID, scopes, err := container.IAM.APIKeyService.ResolveAPIKey(ctx, apiKey)
	if err != nil {
		logx.Fatalf("MCP_API_KEY rejected: %v", err)
	}
	user, err := container.IAM.IdentityService.GetUser(ctx, userID)
	if err != nil {
		logx.Fatalf("MCP principal lookup failed: %v", err)
	}

	auth := principalFor(user.ID.String(), user.Email, user.Role.String(), scopes)
	server := tooldispatch.NewMCPServer(container.Dispatcher, auth, getEnv("APP_VERSION", "1.0.0"))
	if err := server.Serve(ctx); err != nil {
		logx.Fatalf("MCP server error: %v", err)
	}
}

// ============================================================================
// Handler Functions
// ============================================================================

// healthProbeCollection is an always-empty collection used to exercise the
// vector backend's query path.
var healthProbeCollection = vectorindex.CollectionKey{
	OwnerUserID: "system",
	LogicalName: "healthcheck",
}

func principalFor(userID, email, role string, scopes []string) *kernel.AuthContext {
	uid := kernel.UserID(userID)
	if len(scopes) == 0 {
		scopes = []string{"*"}
	}
	return &kernel.AuthContext{
		UserID:   &uid,
		Email:    email,
		Role:     kernel.Role(role),
		Scopes:   scopes,
		IsAPIKey: true,
	}
}

// healthCheckHandler reports liveness plus per-backend readiness.
func healthCheckHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := fiber.Map{
			"status":  "healthy",
			"service": "aimemory-platform",
			"version": getEnv("APP_VERSION", "1.0.0"),
		}
		degraded := false

		if err := container.Backend.Ping(c.Context()); err != nil {
			health["storage"] = "unhealthy"
			health["storage_error"] = err.Error()
			degraded = true
		} else {
			health["storage"] = "healthy"
		}

		if err := container.Cache.Ping(c.Context()); err != nil {
			health["cache"] = "unhealthy"
			health["cache_error"] = err.Error()
			degraded = true
		} else {
			health["cache"] = "healthy"
		}

		if _, err := container.Vectors.Count(c.Context(), healthProbeCollection); err != nil {
			health["vector"] = "unhealthy"
			health["vector_error"] = err.Error()
			degraded = true
		} else {
			health["vector"] = "healthy"
		}

		status := fiber.StatusOK
		if degraded {
			health["status"] = "degraded"
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(health)
	}
}

// notFoundHandler handles 404 errors
func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":      "Route not found",
		"code":       "NOT_FOUND",
		"path":       c.Path(),
		"method":     c.Method(),
		"request_id": c.Get("X-Request-ID"),
	})
}

// ============================================================================
// Error Handler
// ============================================================================

// globalErrorHandler converts internal errors to standard HTTP responses
func globalErrorHandler(c *fiber.Ctx, err error) error {
	logx.WithFields(logx.Fields{
		"path":       c.Path(),
		"method":     c.Method(),
		"ip":         c.IP(),
		"request_id": c.Get("X-Request-ID"),
		"user_agent": c.Get("User-Agent"),
	}).Errorf("Request error: %v", err)

	// If it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		return c.Status(e.Code).JSON(fiber.Map{
			"error":      e.Message,
			"code":       "FIBER_ERROR",
			"status":     e.Code,
			"request_id": c.Get("X-Request-ID"),
		})
	}

	// If it's our custom errx.Error
	if e, ok := err.(*errx.Error); ok {
		response := fiber.Map{
			"error":      e.Message,
			"code":       e.Code,
			"type":       string(e.Type),
			"status":     e.HTTPStatus,
			"request_id": c.Get("X-Request-ID"),
		}

		if len(e.Details) > 0 {
			response["details"] = e.Details
		}

		// Internal faults keep their detail server-side; the caller gets
		// the correlation id only.
		if e.Type == errx.TypeInternal {
			response["error"] = "An unexpected error occurred"
			delete(response, "details")
		}

		return c.Status(e.HTTPStatus).JSON(response)
	}

	// Default unknown error
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":      "Internal Server Error",
		"type":       "INTERNAL",
		"code":       "INTERNAL_ERROR",
		"request_id": c.Get("X-Request-ID"),
	})
}

// ============================================================================
// Utility Functions
// ============================================================================

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// startServer starts the server with graceful shutdown
func startServer(app *fiber.App, cfg *config.Config) {
	go func() {
		logx.Infof("🚀 Server listening on port %s", cfg.Server.Port)
		logx.Infof("💚 Health Check: http://localhost:%s/health", cfg.Server.Port)

		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			logx.Fatalf("Server error: %v", err)
		}
	}()

	gracefulShutdown(app, cfg.Server.ShutdownGrace)
}

// gracefulShutdown drains in-flight requests up to the grace deadline.
func gracefulShutdown(app *fiber.App, grace time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logx.Infof("🛑 Received signal: %v", sig)
	logx.Info("Shutting down gracefully...")

	if err := app.ShutdownWithTimeout(grace); err != nil {
		logx.Errorf("Server forced to shutdown: %v", err)
	}

	logx.Info("✅ Server exited successfully")
}
