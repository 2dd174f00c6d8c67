package main

// @title WhatsApp Session REST API
// @version 1.0.0
// @description Multi-tenant WhatsApp session REST API with message sending, inbound capture, group listing and API key management

// @host localhost:3000
// @BasePath /

// @securityDefinitions.apikey AdminAuth
// @in header
// @name X-Admin-Secret
// @description Admin secret key for managing API keys

// @securityDefinitions.apikey APIKeyAuth
// @in header
// @name X-API-Key
// @description API key for session and message operations

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"

	"github.com/yesapp/whatsapp-api/pkg/auth"
	"github.com/yesapp/whatsapp-api/pkg/env"
	"github.com/yesapp/whatsapp-api/pkg/log"
	"github.com/yesapp/whatsapp-api/pkg/ratelimit"
	"github.com/yesapp/whatsapp-api/pkg/router"
	"github.com/yesapp/whatsapp-api/pkg/store"
	"github.com/yesapp/whatsapp-api/pkg/webhook"
	pkgWhatsApp "github.com/yesapp/whatsapp-api/pkg/whatsapp"

	"github.com/yesapp/whatsapp-api/internal"
)

type Server struct {
	Address string
	Port    string
}

func main() {
	// Initialize Application Store
	appStore, err := store.Open(env.GetEnvStringOrDefault("DATABASE_PATH", "data/db.sqlite"))
	if err != nil {
		log.Print(nil).Fatal(err.Error())
	}

	// Initialize Services
	limiter := ratelimit.New(
		env.GetEnvIntOrDefault("RATE_LIMIT_MESSAGES", 50),
		env.GetEnvDurationOrDefault("RATE_LIMIT_WINDOW", 60*time.Second),
		env.GetEnvDurationOrDefault("RATE_LIMIT_MIN_INTERVAL", time.Second),
	)
	notifier := webhook.NewNotifier()
	bridge := pkgWhatsApp.NewBridge(appStore, notifier)
	registry, err := pkgWhatsApp.NewRegistry(bridge)
	if err != nil {
		log.Print(nil).Fatal(err.Error())
	}
	dispatcher := pkgWhatsApp.NewDispatcher(registry, appStore, limiter, notifier)

	deps := &internal.Deps{
		Store:      appStore,
		Auth:       auth.NewService(appStore),
		Limiter:    limiter,
		Notifier:   notifier,
		Registry:   registry,
		Dispatcher: dispatcher,
	}

	// Intialize Cron
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
	), cron.WithSeconds())

	// Initialize Fiber
	app := fiber.New(fiber.Config{
		ErrorHandler: router.HttpErrorHandler,
		BodyLimit:    router.BodyLimitBytes(),
	})

	// Request ID + panic recovery (structured JSON)
	app.Use(router.HttpRequestID())
	app.Use(router.RecoveryMiddleware())

	// Router Compression
	app.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
		Next: func(c *fiber.Ctx) bool {
			return strings.Contains(c.Path(), "docs")
		},
	}))

	// Router CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, X-API-Key, X-Admin-Secret",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE",
	}))

	// Router Security
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	// Router Cache
	app.Use(router.HttpCacheInMemory(router.CacheTTLSeconds))

	// Router RealIP + request context enrichment
	app.Use(router.HttpRealIP())

	// Router Default Handler
	app.Get("/favicon.ico", router.ResponseNoContent)

	// Load Internal Routes
	internal.Routes(app, deps)

	// Running Startup Tasks
	internal.Startup(deps)

	// Running Routines Tasks
	internal.Routines(c, deps)

	// Get Server Configuration with defaults
	var serverConfig Server

	// SERVER_ADDRESS: default "0.0.0.0" (all interfaces)
	serverConfig.Address = env.GetEnvStringOrDefault("SERVER_ADDRESS", "0.0.0.0")

	// SERVER_PORT: default "3000"
	serverConfig.Port = env.GetEnvStringOrDefault("SERVER_PORT", "3000")

	// Start Server
	go func() {
		if err := app.Listen(serverConfig.Address + ":" + serverConfig.Port); err != nil {
			log.Print(nil).Fatal(err.Error())
		}
	}()

	// Watch for Shutdown Signal
	sigShutdown := make(chan os.Signal, 1)
	signal.Notify(sigShutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigShutdown

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	// Try To Shutdown Server
	if err := app.ShutdownWithContext(ctxShutdown); err != nil {
		log.Print(nil).Error(err.Error())
	}

	// Stop Background Work
	c.Stop()
	registry.Shutdown()
	notifier.Shutdown()

	if err := appStore.Close(); err != nil {
		log.Print(nil).Error(err.Error())
	}
}
