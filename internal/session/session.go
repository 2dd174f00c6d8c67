package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/yesapp/whatsapp-api/pkg/log"
	"github.com/yesapp/whatsapp-api/pkg/ratelimit"
	"github.com/yesapp/whatsapp-api/pkg/router"
	"github.com/yesapp/whatsapp-api/pkg/store"
	"github.com/yesapp/whatsapp-api/pkg/validation"
	pkgWhatsApp "github.com/yesapp/whatsapp-api/pkg/whatsapp"
)

type Controller struct {
	Store    *store.Store
	Registry *pkgWhatsApp.Registry
	Limiter  *ratelimit.Limiter
}

func NewController(s *store.Store, registry *pkgWhatsApp.Registry, limiter *ratelimit.Limiter) *Controller {
	return &Controller{Store: s, Registry: registry, Limiter: limiter}
}

type CreateRequest struct {
	Name       string          `json:"name" form:"name"`
	Settings   json.RawMessage `json:"settings"`
	WebhookURL string          `json:"webhook_url" form:"webhook_url"`
}

type ClientState struct {
	Exists bool `json:"exists"`
	Ready  bool `json:"ready"`
}

type View struct {
	*store.Session
	Client ClientState `json:"client"`
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func (ct *Controller) view(session *store.Session) View {
	return View{
		Session: session,
		Client: ClientState{
			Exists: ct.Registry.Exists(session.ID),
			Ready:  ct.Registry.IsReady(session.ID),
		},
	}
}

// Create
// @Summary     Create a WhatsApp Session
// @Description Register a new session and start QR pairing
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Param       X-API-Key header string true "API key"
// @Param       body body CreateRequest true "Session details"
// @Success     201
// @Router      /api/v1/sessions [post]
func (ct *Controller) Create(c *fiber.Ctx) error {
	ctx := requestContext(c)

	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}
	if err := validation.ValidateSessionName(req.Name); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	var webhookURL *string
	if req.WebhookURL != "" {
		if err := validation.ValidateURL(req.WebhookURL); err != nil {
			return router.ResponseBadRequest(c, "webhook_url: "+err.Error())
		}
		webhookURL = &req.WebhookURL
	}

	settings := "{}"
	if len(req.Settings) > 0 {
		if !json.Valid(req.Settings) {
			return router.ResponseBadRequest(c, "settings must be a JSON object")
		}
		settings = string(req.Settings)
	}

	sessionID := uuid.NewString()
	session, err := ct.Store.CreateSession(ctx, sessionID, req.Name, settings, webhookURL)
	if err != nil {
		return router.ResponseInternalError(c, router.ErrorDetail("Failed to create session", err))
	}

	// Client initialization pairs in the background, the QR code
	// arrives on the session record once issued.
	go func() {
		if err := ct.Registry.Create(context.Background(), sessionID); err != nil {
			log.Session(sessionID).WithError(err).Error("failed to initialize client")
			_ = ct.Store.UpdateSessionState(context.Background(), sessionID, store.SessionDisconnected, nil, nil)
		}
	}()

	return router.ResponseCreatedWithData(c, "Session created", ct.view(session))
}

// List
// @Summary     List Sessions
// @Tags        Sessions
// @Produce     json
// @Param       X-API-Key header string true "API key"
// @Param       status query string false "Filter by status"
// @Success     200
// @Router      /api/v1/sessions [get]
func (ct *Controller) List(c *fiber.Ctx) error {
	ctx := requestContext(c)

	status := c.Query("status")
	switch status {
	case "", store.SessionPending, store.SessionConnected, store.SessionDisconnected:
	default:
		return router.ResponseBadRequest(c, "Unknown status filter")
	}

	sessions, err := ct.Store.ListSessions(ctx, status)
	if err != nil {
		return router.ResponseInternalError(c, router.ErrorDetail("Failed to list sessions", err))
	}

	views := make([]View, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, ct.view(session))
	}
	return router.ResponseSuccessWithData(c, "Sessions retrieved", fiber.Map{
		"sessions": views,
		"total":    len(views),
	})
}

// Get
// @Summary     Get a Session
// @Tags        Sessions
// @Produce     json
// @Param       X-API-Key header string true "API key"
// @Param       id path string true "Session ID"
// @Success     200
// @Router      /api/v1/sessions/{id} [get]
func (ct *Controller) Get(c *fiber.Ctx) error {
	ctx := requestContext(c)

	session, err := ct.load(ctx, c)
	if err != nil {
		return respondLoadError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Session retrieved", ct.view(session))
}

// GetQR
// @Summary     Get the Session Pairing Code
// @Tags        Sessions
// @Produce     json
// @Param       X-API-Key header string true "API key"
// @Param       id path string true "Session ID"
// @Success     200
// @Router      /api/v1/sessions/{id}/qr [get]
func (ct *Controller) GetQR(c *fiber.Ctx) error {
	ctx := requestContext(c)

	session, err := ct.load(ctx, c)
	if err != nil {
		return respondLoadError(c, err)
	}
	return router.ResponseSuccessWithData(c, "QR state retrieved", fiber.Map{
		"qr_code": session.QRCode,
		"status":  session.Status,
	})
}

// Delete
// @Summary     Delete a Session
// @Description Tear down the live client and remove all session data
// @Tags        Sessions
// @Produce     json
// @Param       X-API-Key header string true "API key"
// @Param       id path string true "Session ID"
// @Success     200
// @Router      /api/v1/sessions/{id} [delete]
func (ct *Controller) Delete(c *fiber.Ctx) error {
	ctx := requestContext(c)

	session, err := ct.load(ctx, c)
	if err != nil {
		return respondLoadError(c, err)
	}

	ct.Registry.Destroy(ctx, session.ID)
	ct.Limiter.Clear(session.ID)

	if err := ct.Store.DeleteSession(ctx, session.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return router.ResponseInternalError(c, router.ErrorDetail("Failed to delete session", err))
	}
	return router.ResponseSuccess(c, "Session deleted")
}

// Reconnect
// @Summary     Reconnect a Session
// @Tags        Sessions
// @Produce     json
// @Param       X-API-Key header string true "API key"
// @Param       id path string true "Session ID"
// @Success     200
// @Router      /api/v1/sessions/{id}/reconnect [post]
func (ct *Controller) Reconnect(c *fiber.Ctx) error {
	ctx := requestContext(c)

	session, err := ct.load(ctx, c)
	if err != nil {
		return respondLoadError(c, err)
	}

	if !ct.Registry.Exists(session.ID) {
		if err := ct.Registry.Create(ctx, session.ID); err != nil {
			return router.ResponseBadGateway(c, router.ErrorDetail("Failed to initialize client", err))
		}
	} else if err := ct.Registry.Reconnect(session.ID); err != nil {
		return router.ResponseBadGateway(c, router.ErrorDetail("Failed to reconnect", err))
	}

	session, err = ct.Store.GetSession(ctx, session.ID)
	if err != nil {
		return router.ResponseInternalError(c, router.ErrorDetail("Failed to reload session", err))
	}
	return router.ResponseSuccessWithData(c, "Reconnect initiated", ct.view(session))
}

var errBadSessionID = errors.New("session id must be a valid UUID")

func (ct *Controller) load(ctx context.Context, c *fiber.Ctx) (*store.Session, error) {
	sessionID := c.Params("id")
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return nil, errBadSessionID
	}
	return ct.Store.GetSession(ctx, sessionID)
}

func respondLoadError(c *fiber.Ctx, err error) error {
	if errors.Is(err, errBadSessionID) {
		return router.ResponseBadRequest(c, err.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Session not found")
	}
	return router.ResponseInternalError(c, router.ErrorDetail("Failed to load session", err))
}
