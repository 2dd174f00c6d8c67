package admin

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/yesapp/whatsapp-api/pkg/auth"
	"github.com/yesapp/whatsapp-api/pkg/router"
	"github.com/yesapp/whatsapp-api/pkg/store"
	pkgWhatsApp "github.com/yesapp/whatsapp-api/pkg/whatsapp"
)

type Controller struct {
	Store    *store.Store
	Auth     *auth.Service
	Registry *pkgWhatsApp.Registry
}

func NewController(s *store.Store, authService *auth.Service, registry *pkgWhatsApp.Registry) *Controller {
	return &Controller{Store: s, Auth: authService, Registry: registry}
}

type CreateAPIKeyRequest struct {
	Name        string   `json:"name" form:"name"`
	Permissions []string `json:"permissions"`
	ExpiresAt   *int64   `json:"expires_at"`
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

// CreateAPIKey
// @Summary     Create API Key
// @Description Create a new API key, the plaintext is returned exactly once
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       body body CreateAPIKeyRequest true "API key details"
// @Success     201
// @Router      /admin/api-keys [post]
func (ct *Controller) CreateAPIKey(c *fiber.Ctx) error {
	ctx := requestContext(c)

	var req CreateAPIKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}
	if req.Name == "" {
		return router.ResponseBadRequest(c, "name is required")
	}

	permissions := `["read","write"]`
	if len(req.Permissions) > 0 {
		for _, p := range req.Permissions {
			if p != "read" && p != "write" && p != "*" {
				return router.ResponseBadRequest(c, "permissions may only contain read, write or *")
			}
		}
		encoded, err := json.Marshal(req.Permissions)
		if err != nil {
			return router.ResponseBadRequest(c, "Invalid permissions")
		}
		permissions = string(encoded)
	}

	plaintext, keyHash, err := auth.GenerateKey()
	if err != nil {
		return router.ResponseInternalError(c, router.ErrorDetail("Failed to generate key", err))
	}

	record, err := ct.Store.CreateAPIKey(ctx, keyHash, req.Name, permissions, req.ExpiresAt)
	if err != nil {
		return router.ResponseInternalError(c, router.ErrorDetail("Failed to create API key", err))
	}

	return router.ResponseCreatedWithData(c, "API key created", fiber.Map{
		"api_key":     plaintext,
		"key_hash":    record.KeyHash,
		"name":        record.Name,
		"permissions": json.RawMessage(record.Permissions),
		"expires_at":  record.ExpiresAt,
		"created_at":  record.CreatedAt,
	})
}

// ListAPIKeys
// @Summary     List API Keys
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Success     200
// @Router      /admin/api-keys [get]
func (ct *Controller) ListAPIKeys(c *fiber.Ctx) error {
	ctx := requestContext(c)

	keys, err := ct.Store.ListAPIKeys(ctx)
	if err != nil {
		return router.ResponseInternalError(c, router.ErrorDetail("Failed to list API keys", err))
	}
	if keys == nil {
		keys = []*store.APIKey{}
	}
	return router.ResponseSuccessWithData(c, "API keys retrieved", fiber.Map{
		"api_keys": keys,
		"total":    len(keys),
	})
}

// DeleteAPIKey
// @Summary     Delete an API Key
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       keyHash path string true "Key digest"
// @Success     200
// @Router      /admin/api-keys/{keyHash} [delete]
func (ct *Controller) DeleteAPIKey(c *fiber.Ctx) error {
	ctx := requestContext(c)

	keyHash := c.Params("keyHash")
	if err := ct.Store.DeleteAPIKey(ctx, keyHash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return router.ResponseNotFound(c, "API key not found")
		}
		return router.ResponseInternalError(c, router.ErrorDetail("Failed to delete API key", err))
	}
	ct.Auth.Invalidate(keyHash)
	return router.ResponseSuccess(c, "API key deleted")
}

// GetStats
// @Summary     Service Statistics
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Success     200
// @Router      /admin/stats [get]
func (ct *Controller) GetStats(c *fiber.Ctx) error {
	ctx := requestContext(c)

	sessionCounts, err := ct.Store.CountSessionsByStatus(ctx)
	if err != nil {
		return router.ResponseInternalError(c, router.ErrorDetail("Failed to count sessions", err))
	}
	messageTotal, err := ct.Store.CountMessages(ctx)
	if err != nil {
		return router.ResponseInternalError(c, router.ErrorDetail("Failed to count messages", err))
	}
	keyTotal, err := ct.Store.CountAPIKeys(ctx)
	if err != nil {
		return router.ResponseInternalError(c, router.ErrorDetail("Failed to count API keys", err))
	}

	return router.ResponseSuccessWithData(c, "Stats retrieved", fiber.Map{
		"sessions": sessionCounts,
		"messages": fiber.Map{"total": messageTotal},
		"api_keys": fiber.Map{"total": keyTotal},
		"registry": ct.Registry.Stats(),
	})
}
