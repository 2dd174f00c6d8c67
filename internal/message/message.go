package message

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/yesapp/whatsapp-api/pkg/ratelimit"
	"github.com/yesapp/whatsapp-api/pkg/router"
	"github.com/yesapp/whatsapp-api/pkg/store"
	"github.com/yesapp/whatsapp-api/pkg/validation"
	pkgWhatsApp "github.com/yesapp/whatsapp-api/pkg/whatsapp"
)

type Controller struct {
	Store      *store.Store
	Dispatcher *pkgWhatsApp.Dispatcher
	Limiter    *ratelimit.Limiter
}

func NewController(s *store.Store, dispatcher *pkgWhatsApp.Dispatcher, limiter *ratelimit.Limiter) *Controller {
	return &Controller{Store: s, Dispatcher: dispatcher, Limiter: limiter}
}

type MediaRequest struct {
	MimeType string `json:"mimetype" form:"mimetype"`
	Data     string `json:"data" form:"data"`
	FileName string `json:"filename" form:"filename"`
}

type SendRequest struct {
	To    string        `json:"to" form:"to"`
	Text  string        `json:"text" form:"text"`
	Media *MediaRequest `json:"media"`
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

func setRateLimitHeaders(c *fiber.Ctx, admission *ratelimit.Admission) {
	if admission == nil {
		return
	}
	c.Set("X-RateLimit-Limit", strconv.Itoa(admission.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(admission.Remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(admission.ResetAt.Unix(), 10))
}

// Send
// @Summary     Send a Message
// @Description Send a text or media message through a connected session
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       X-API-Key header string true "API key"
// @Param       id path string true "Session ID"
// @Param       body body SendRequest true "Message payload"
// @Success     200
// @Router      /api/v1/sessions/{id}/messages [post]
func (ct *Controller) Send(c *fiber.Ctx) error {
	ctx := requestContext(c)

	session, err := ct.loadSession(ctx, c)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return router.ResponseNotFound(c, "Session not found")
		}
		return router.ResponseBadRequest(c, err.Error())
	}

	var req SendRequest
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}
	if err := validation.ValidateRecipient(req.To); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	sendReq := pkgWhatsApp.SendRequest{Session: session, To: req.To, Text: req.Text}
	if req.Media != nil {
		if err := validation.ValidateMedia(req.Media.MimeType, req.Media.Data); err != nil {
			return router.ResponseBadRequest(c, err.Error())
		}
		data, err := base64.StdEncoding.DecodeString(req.Media.Data)
		if err != nil {
			return router.ResponseBadRequest(c, "media data must be valid base64")
		}
		sendReq.Media = &pkgWhatsApp.MediaPayload{
			MimeType: req.Media.MimeType,
			Data:     data,
			FileName: req.Media.FileName,
		}
	} else if err := validation.ValidateContent(req.Text); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	record, admission, err := ct.Dispatcher.Send(ctx, sendReq)
	setRateLimitHeaders(c, admission)
	if err != nil {
		var limitErr *ratelimit.Error
		switch {
		case errors.As(err, &limitErr):
			retryAfter := int64(limitErr.RetryAfter.Seconds()) + 1
			c.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			return router.ResponseTooManyRequests(c, limitErr.Error())
		case errors.Is(err, pkgWhatsApp.ErrSessionNotFound),
			errors.Is(err, pkgWhatsApp.ErrSessionNotReady):
			return router.ResponseServiceUnavailable(c, "Session is not connected")
		case errors.Is(err, pkgWhatsApp.ErrInvalidAddress),
			errors.Is(err, pkgWhatsApp.ErrRecipientNotRegistered):
			return router.ResponseBadRequest(c, err.Error())
		default:
			return router.ResponseInternalError(c, router.ErrorDetail("Failed to send message", err))
		}
	}

	return router.ResponseSuccessWithData(c, "Message sent", record)
}

// List
// @Summary     List Session Messages
// @Tags        Messages
// @Produce     json
// @Param       X-API-Key header string true "API key"
// @Param       id path string true "Session ID"
// @Param       limit query int false "Page size (max 100)"
// @Param       offset query int false "Page offset"
// @Param       direction query string false "inbound or outbound"
// @Success     200
// @Router      /api/v1/sessions/{id}/messages [get]
func (ct *Controller) List(c *fiber.Ctx) error {
	ctx := requestContext(c)

	session, err := ct.loadSession(ctx, c)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return router.ResponseNotFound(c, "Session not found")
		}
		return router.ResponseBadRequest(c, err.Error())
	}

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)
	direction := c.Query("direction")
	switch direction {
	case "", store.DirectionInbound, store.DirectionOutbound:
	default:
		return router.ResponseBadRequest(c, "direction must be inbound or outbound")
	}

	messages, total, err := ct.Store.ListMessages(ctx, session.ID, limit, offset, direction)
	if err != nil {
		return router.ResponseInternalError(c, router.ErrorDetail("Failed to list messages", err))
	}
	if messages == nil {
		messages = []*store.Message{}
	}

	return router.ResponseSuccessWithData(c, "Messages retrieved", fiber.Map{
		"messages": messages,
		"pagination": fiber.Map{
			"total":   total,
			"limit":   limit,
			"offset":  offset,
			"hasMore": int64(offset+len(messages)) < total,
		},
	})
}

// Get
// @Summary     Get a Message
// @Tags        Messages
// @Produce     json
// @Param       X-API-Key header string true "API key"
// @Param       id path string true "Session ID"
// @Param       messageId path string true "Message ID"
// @Success     200
// @Router      /api/v1/sessions/{id}/messages/{messageId} [get]
func (ct *Controller) Get(c *fiber.Ctx) error {
	ctx := requestContext(c)

	session, err := ct.loadSession(ctx, c)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return router.ResponseNotFound(c, "Session not found")
		}
		return router.ResponseBadRequest(c, err.Error())
	}

	record, err := ct.Store.GetMessage(ctx, session.ID, c.Params("messageId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return router.ResponseNotFound(c, "Message not found")
		}
		return router.ResponseInternalError(c, router.ErrorDetail("Failed to load message", err))
	}
	return router.ResponseSuccessWithData(c, "Message retrieved", record)
}

// Stats
// @Summary     Get Session Message Statistics
// @Tags        Messages
// @Produce     json
// @Param       X-API-Key header string true "API key"
// @Param       id path string true "Session ID"
// @Success     200
// @Router      /api/v1/sessions/{id}/messages-stats [get]
func (ct *Controller) Stats(c *fiber.Ctx) error {
	ctx := requestContext(c)

	session, err := ct.loadSession(ctx, c)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return router.ResponseNotFound(c, "Session not found")
		}
		return router.ResponseBadRequest(c, err.Error())
	}

	stats, err := ct.Store.GetMessageStats(ctx, session.ID)
	if err != nil {
		return router.ResponseInternalError(c, router.ErrorDetail("Failed to compute stats", err))
	}

	return router.ResponseSuccessWithData(c, "Stats retrieved", fiber.Map{
		"messages":  stats,
		"rateLimit": ct.Limiter.Stats(session.ID),
	})
}
