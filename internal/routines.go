package internal

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yesapp/whatsapp-api/pkg/env"
	"github.com/yesapp/whatsapp-api/pkg/log"
	"github.com/yesapp/whatsapp-api/pkg/store"
)

func Routines(c *cron.Cron, deps *Deps) {
	log.Print(nil).Info("Running Routine Tasks")

	// Rate limiter GC: drop empty windows and stale spacing state.
	if _, err := c.AddFunc("0 */5 * * * *", func() {
		if removed := deps.Limiter.Cleanup(); removed > 0 {
			log.Print(nil).WithField("removed", removed).Info("Rate limiter cleanup complete")
		}
	}); err != nil {
		log.Print(nil).WithError(err).Error("Failed to add rate limiter cleanup cron job")
	}

	// Health sync: reconcile stored session status with live clients.
	if _, err := c.AddFunc("30 */5 * * * *", func() {
		syncSessionHealth(deps)
	}); err != nil {
		log.Print(nil).WithError(err).Error("Failed to add health sync cron job")
	}

	// Message retention: disabled unless a positive day count is set.
	retentionDays := env.GetEnvIntOrDefault("MESSAGE_RETENTION_DAYS", 0)
	if retentionDays > 0 {
		if _, err := c.AddFunc("0 0 3 * * *", func() {
			cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
			removed, err := deps.Store.DeleteMessagesBefore(context.Background(), cutoff)
			if err != nil {
				log.Print(nil).WithError(err).Error("Message retention cleanup failed")
				return
			}
			log.Print(nil).WithField("removed", removed).Info("Message retention cleanup complete")
		}); err != nil {
			log.Print(nil).WithError(err).Error("Failed to add message retention cron job")
		}
	}

	c.Start()
}

func syncSessionHealth(deps *Deps) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sessions, err := deps.Store.ListSessions(ctx, store.SessionConnected)
	if err != nil {
		log.Print(nil).WithError(err).Error("Health sync failed to list sessions")
		return
	}

	for _, session := range sessions {
		if deps.Registry.IsReady(session.ID) {
			continue
		}
		log.Session(session.ID).Warn("Client unhealthy, marking disconnected")
		_ = deps.Store.UpdateSessionState(ctx, session.ID, store.SessionDisconnected, nil, session.PhoneNumber)

		if deps.Registry.Exists(session.ID) {
			sessionID := session.ID
			go func() {
				if err := deps.Registry.Reconnect(sessionID); err != nil {
					log.Session(sessionID).WithError(err).Warn("Health sync reconnect failed")
				}
			}()
		}
	}
}
