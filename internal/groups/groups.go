package groups

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/yesapp/whatsapp-api/pkg/router"
	"github.com/yesapp/whatsapp-api/pkg/store"
	"github.com/yesapp/whatsapp-api/pkg/validation"
	pkgWhatsApp "github.com/yesapp/whatsapp-api/pkg/whatsapp"
)

type Controller struct {
	Store    *store.Store
	Registry *pkgWhatsApp.Registry
}

func NewController(s *store.Store, registry *pkgWhatsApp.Registry) *Controller {
	return &Controller{Store: s, Registry: registry}
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func (ct *Controller) loadSession(ctx context.Context, c *fiber.Ctx) (*store.Session, error) {
	sessionID := c.Params("id")
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return ct.Store.GetSession(ctx, sessionID)
}

// List
// @Summary     List Joined Groups
// @Description List groups straight from the live client, nothing is persisted
// @Tags        Groups
// @Produce     json
// @Param       X-API-Key header string true "API key"
// @Param       id path string true "Session ID"
// @Success     200
// @Router      /api/v1/sessions/{id}/groups [get]
func (ct *Controller) List(c *fiber.Ctx) error {
	ctx := requestContext(c)

	session, err := ct.loadSession(ctx, c)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return router.ResponseNotFound(c, "Session not found")
		}
		return router.ResponseBadRequest(c, err.Error())
	}

	groups, err := ct.Registry.ListGroups(ctx, session.ID)
	if err != nil {
		if errors.Is(err, pkgWhatsApp.ErrSessionNotFound) || errors.Is(err, pkgWhatsApp.ErrSessionNotReady) {
			return router.ResponseServiceUnavailable(c, "Session is not connected")
		}
		return router.ResponseBadGateway(c, router.ErrorDetail("Failed to list groups", err))
	}

	return router.ResponseSuccessWithData(c, "Groups retrieved", fiber.Map{
		"groups": groups,
		"count":  len(groups),
	})
}

// Get
// @Summary     Get Group Info
// @Tags        Groups
// @Produce     json
// @Param       X-API-Key header string true "API key"
// @Param       id path string true "Session ID"
// @Param       groupId path string true "Group address (...@g.us)"
// @Success     200
// @Router      /api/v1/sessions/{id}/groups/{groupId} [get]
func (ct *Controller) Get(c *fiber.Ctx) error {
	ctx := requestContext(c)

	session, err := ct.loadSession(ctx, c)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return router.ResponseNotFound(c, "Session not found")
		}
		return router.ResponseBadRequest(c, err.Error())
	}

	group, err := ct.Registry.GetGroup(ctx, session.ID, c.Params("groupId"))
	if err != nil {
		switch {
		case errors.Is(err, pkgWhatsApp.ErrNotAGroup):
			return router.ResponseBadRequest(c, err.Error())
		case errors.Is(err, pkgWhatsApp.ErrSessionNotFound), errors.Is(err, pkgWhatsApp.ErrSessionNotReady):
			return router.ResponseServiceUnavailable(c, "Session is not connected")
		default:
			return router.ResponseNotFound(c, "Group not found: "+err.Error())
		}
	}
	return router.ResponseSuccessWithData(c, "Group retrieved", group)
}
