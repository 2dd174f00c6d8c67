package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/yesapp/whatsapp-api/pkg/env"
	"github.com/yesapp/whatsapp-api/pkg/router"
	"github.com/yesapp/whatsapp-api/pkg/store"
)

// AdminSecretKey for admin API endpoints (/admin/*)
var AdminSecretKey string

func init() {
	AdminSecretKey, _ = env.GetEnvString("ADMIN_SECRET_KEY")
}

// APIKeyAuth validates the X-API-Key header and stores the key record
// in locals.
func (s *Service) APIKeyAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := c.Get("X-API-Key")
		if apiKey == "" {
			return router.ResponseUnauthorized(c, "Missing X-API-Key header")
		}

		ctx := c.UserContext()
		if ctx == nil {
			ctx = context.Background()
		}

		record, err := s.Verify(ctx, apiKey)
		if err != nil {
			if errors.Is(err, ErrExpiredKey) {
				return router.ResponseUnauthorized(c, "API key has expired")
			}
			return router.ResponseUnauthorized(c, "Invalid API key")
		}

		c.Locals("api_key", record)
		return c.Next()
	}
}

// RequirePermission checks the authenticated key for a permission.
// Must run after APIKeyAuth.
func RequirePermission(required string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		record, ok := c.Locals("api_key").(*store.APIKey)
		if !ok {
			return router.ResponseUnauthorized(c, "Missing API key context")
		}
		if !HasPermission(record, required) {
			return router.ResponseForbidden(c, "API key lacks '"+required+"' permission")
		}
		return c.Next()
	}
}

// AdminAuth validates the X-Admin-Secret header for admin endpoints
func AdminAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		adminSecret := c.Get("X-Admin-Secret")
		if adminSecret == "" {
			return router.ResponseUnauthorized(c, "Missing X-Admin-Secret header")
		}

		if AdminSecretKey == "" {
			return router.ResponseInternalError(c, "Admin secret key not configured")
		}

		if subtle.ConstantTimeCompare([]byte(adminSecret), []byte(AdminSecretKey)) != 1 {
			return router.ResponseUnauthorized(c, "Invalid admin secret")
		}

		return c.Next()
	}
}
