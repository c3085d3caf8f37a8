package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quill/internal/cache"
	"quill/internal/config"
	"quill/internal/handlers"
	"quill/internal/logging"
	"quill/internal/markdown"
	"quill/internal/middleware"
	"quill/internal/relay"
	"quill/internal/services"
	"quill/internal/upstream"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Quill Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Upstream: %s)", cfg.Port, cfg.UpstreamKind)

	if !cfg.Enabled {
		log.Println("⚠️  Assistant disabled via ENABLED=false; serving /health only")
	}

	// Initialize upstream client
	var upstreamClient *upstream.Client
	if cfg.Enabled {
		var err error
		upstreamClient, err = upstream.New(upstream.Config{
			BaseURL: cfg.UpstreamBaseURL,
			APIKey:  cfg.UpstreamAPIKey,
			Model:   cfg.UpstreamModel,
			Kind:    cfg.UpstreamKind,
			Timeout: cfg.UpstreamTimeout,
			Rate:    cfg.UpstreamRate,
		})
		if err != nil {
			log.Fatalf("❌ Invalid upstream configuration: %v", err)
		}
		log.Printf("✅ Upstream client initialized (%s, model: %s)", cfg.UpstreamKind, cfg.UpstreamModel)
	}

	// Initialize core components
	explainCache := cache.New(cfg.ExplainCacheCapacity)
	streamRelay := relay.New(cfg.StreamTTL)
	connManager := services.NewConnectionManager()
	renderer := markdown.NewRenderer()

	// Initialize Prometheus metrics
	metrics := services.InitMetrics(connManager, streamRelay)
	log.Println("✅ Prometheus metrics initialized")

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Quill v1.0",
		ReadTimeout:  300 * time.Second,
		WriteTimeout: 300 * time.Second, // streaming turns from slow models
		IdleTimeout:  300 * time.Second,
		BodyLimit:    1 * 1024 * 1024, // chat messages are text, 1MB is plenty
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("quill")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// Load rate limiting configuration
	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Generate=%d/min, WS=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.GenerateMax,
		rateLimitConfig.WebSocketMax,
	)

	// CORS configuration with environment-based origins
	allowedOrigins := cfg.AllowedOrigins
	if allowedOrigins == "" {
		// Default to localhost for development
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}

	// Fiber's CORS middleware does not allow AllowCredentials with wildcard origins.
	allowCredentials := allowedOrigins != "*"

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowCredentials,
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", allowedOrigins)

	// Global API rate limiter - first line of DDoS defense
	app.Use("/v1", middleware.GlobalAPIRateLimiter(rateLimitConfig))
	log.Println("🛡️  [RATE-LIMIT] Global API rate limiter enabled")

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler("quill")
	app.Get("/health", healthHandler.Handle)

	if cfg.Enabled {
		explainService := services.NewExplainService(explainCache, upstreamClient, metrics)
		chatService := services.NewChatService(upstreamClient, streamRelay, metrics)

		explainHandler := handlers.NewExplainHandler(explainService)
		chatHandler := handlers.NewChatHandler(chatService)
		panelHandler := handlers.NewPanelHandler(connManager, chatService, explainService, renderer)

		generateLimiter := middleware.GenerateRateLimiter(rateLimitConfig)

		app.Post("/v1/explain", generateLimiter, explainHandler.Handle)
		app.Post("/v1/chat", generateLimiter, chatHandler.Handle)
		app.Post("/v1/chat-stream", generateLimiter, chatHandler.HandleStream)

		// WebSocket route for the editor panel bridge
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				c.Locals("allowed", true)
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})

		wsConfig := websocket.Config{
			Origins: strings.Split(allowedOrigins, ","),
		}

		app.Use("/ws/panel", middleware.WebSocketRateLimiter(rateLimitConfig))
		app.Get("/ws/panel", websocket.New(panelHandler.Handle, wsConfig))
	}

	// Start server
	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("🔗 Panel endpoint: ws://localhost:%s/ws/panel", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		// Close out pending streams so no panel is left hanging
		streamRelay.Shutdown()

		// Shutdown Fiber
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
