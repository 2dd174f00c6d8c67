package health

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/yesapp/whatsapp-api/pkg/router"
	"github.com/yesapp/whatsapp-api/pkg/store"
)

type Controller struct {
	Store     *store.Store
	startedAt time.Time
}

func NewController(s *store.Store) *Controller {
	return &Controller{Store: s, startedAt: time.Now()}
}

// Health
// @Summary     Liveness Probe
// @Tags        Health
// @Produce     json
// @Success     200
// @Router      /health [get]
func (ct *Controller) Health(c *fiber.Ctx) error {
	return router.ResponseSuccessWithData(c, "OK", fiber.Map{
		"uptime_seconds": int64(time.Since(ct.startedAt).Seconds()),
	})
}

// Ready
// @Summary     Readiness Probe
// @Description Reports ready once the database answers
// @Tags        Health
// @Produce     json
// @Success     200
// @Router      /ready [get]
func (ct *Controller) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := ct.Store.DB().PingContext(ctx); err != nil {
		return router.ResponseServiceUnavailable(c, "Database is not reachable")
	}
	return router.ResponseSuccess(c, "Ready")
}
