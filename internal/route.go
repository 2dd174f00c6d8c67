package internal

import (
	"github.com/gofiber/fiber/v2"
	swagger "github.com/gofiber/swagger"

	"github.com/yesapp/whatsapp-api/pkg/auth"
	"github.com/yesapp/whatsapp-api/pkg/router"

	ctlAdmin "github.com/yesapp/whatsapp-api/internal/admin"
	ctlGroups "github.com/yesapp/whatsapp-api/internal/groups"
	ctlHealth "github.com/yesapp/whatsapp-api/internal/health"
	ctlIndex "github.com/yesapp/whatsapp-api/internal/index"
	ctlMessage "github.com/yesapp/whatsapp-api/internal/message"
	ctlSession "github.com/yesapp/whatsapp-api/internal/session"
)

func Routes(app *fiber.App, deps *Deps) {
	sessionCtl := ctlSession.NewController(deps.Store, deps.Registry, deps.Limiter)
	messageCtl := ctlMessage.NewController(deps.Store, deps.Dispatcher, deps.Limiter)
	groupsCtl := ctlGroups.NewController(deps.Store, deps.Registry)
	adminCtl := ctlAdmin.NewController(deps.Store, deps.Auth, deps.Registry)
	healthCtl := ctlHealth.NewController(deps.Store)

	// Configure OpenAPI / Swagger
	specURL := router.BaseURL + "/docs/swagger.json"
	swaggerHandler := swagger.New(swagger.Config{
		URL: specURL,
	})

	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}

	// Route for OpenAPI / Swagger
	// ---------------------------------------------
	app.Get(router.BaseURL+"/docs/swagger.json", func(c *fiber.Ctx) error {
		return c.SendFile("docs/swagger.json")
	})
	app.Get(router.BaseURL+"/docs/*", swaggerHandler)

	// Health probes, unauthenticated
	// ---------------------------------------------
	app.Get(router.BaseURL+"/health", healthCtl.Health)
	app.Get(router.BaseURL+"/ready", healthCtl.Ready)

	// ============================================================
	// ADMIN ROUTES (X-Admin-Secret authentication)
	// ============================================================
	adminMiddleware := auth.AdminAuth()

	app.Post(router.BaseURL+"/admin/api-keys", adminMiddleware, adminCtl.CreateAPIKey)
	app.Get(router.BaseURL+"/admin/api-keys", adminMiddleware, adminCtl.ListAPIKeys)
	app.Delete(router.BaseURL+"/admin/api-keys/:keyHash", adminMiddleware, adminCtl.DeleteAPIKey)
	app.Get(router.BaseURL+"/admin/stats", adminMiddleware, adminCtl.GetStats)

	// ============================================================
	// SESSION ROUTES (X-API-Key authentication)
	// ============================================================
	apiKeyMiddleware := deps.Auth.APIKeyAuth()
	readPerm := auth.RequirePermission("read")
	writePerm := auth.RequirePermission("write")

	v1 := router.BaseURL + "/api/v1"

	app.Post(v1+"/sessions", apiKeyMiddleware, writePerm, sessionCtl.Create)
	app.Get(v1+"/sessions", apiKeyMiddleware, readPerm, sessionCtl.List)
	app.Get(v1+"/sessions/:id", apiKeyMiddleware, readPerm, sessionCtl.Get)
	app.Get(v1+"/sessions/:id/qr", apiKeyMiddleware, readPerm, sessionCtl.GetQR)
	app.Delete(v1+"/sessions/:id", apiKeyMiddleware, writePerm, sessionCtl.Delete)
	app.Post(v1+"/sessions/:id/reconnect", apiKeyMiddleware, writePerm, sessionCtl.Reconnect)

	app.Post(v1+"/sessions/:id/messages", apiKeyMiddleware, writePerm, messageCtl.Send)
	app.Get(v1+"/sessions/:id/messages", apiKeyMiddleware, readPerm, messageCtl.List)
	app.Get(v1+"/sessions/:id/messages-stats", apiKeyMiddleware, readPerm, messageCtl.Stats)
	app.Get(v1+"/sessions/:id/messages/:messageId", apiKeyMiddleware, readPerm, messageCtl.Get)

	app.Get(v1+"/sessions/:id/groups", apiKeyMiddleware, readPerm, groupsCtl.List)
	app.Get(v1+"/sessions/:id/groups/:groupId", apiKeyMiddleware, readPerm, groupsCtl.Get)
}
