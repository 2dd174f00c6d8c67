package internal

import (
	"context"
	"errors"

	"github.com/yesapp/whatsapp-api/pkg/auth"
	"github.com/yesapp/whatsapp-api/pkg/env"
	"github.com/yesapp/whatsapp-api/pkg/log"
	"github.com/yesapp/whatsapp-api/pkg/store"
)

func Startup(deps *Deps) {
	log.Print(nil).Info("Running Startup Tasks")

	ctx := context.Background()

	if err := ensureDefaultAPIKey(ctx, deps.Store); err != nil {
		log.Print(nil).WithError(err).Error("Failed to provision default API key")
	}

	restoreSessions(ctx, deps)
}

// ensureDefaultAPIKey provisions the API_KEY env value when set, and
// otherwise generates a key on first boot, logging the plaintext once.
func ensureDefaultAPIKey(ctx context.Context, s *store.Store) error {
	if configured, err := env.GetEnvString("API_KEY"); err == nil {
		keyHash := auth.HashKey(configured)
		if _, err := s.GetAPIKey(ctx, keyHash); err == nil {
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		_, err := s.CreateAPIKey(ctx, keyHash, "default", `["read","write"]`, nil)
		if err == nil {
			log.Print(nil).Info("Provisioned API key from environment")
		}
		return err
	}

	total, err := s.CountAPIKeys(ctx)
	if err != nil {
		return err
	}
	if total > 0 {
		return nil
	}

	plaintext, keyHash, err := auth.GenerateKey()
	if err != nil {
		return err
	}
	if _, err := s.CreateAPIKey(ctx, keyHash, "default", `["read","write"]`, nil); err != nil {
		return err
	}
	// Shown once, there is no way to recover it later.
	log.Print(nil).Warn("Generated default API key: " + plaintext)
	return nil
}

// restoreSessions re-registers clients for every stored session. Rows
// still waiting for their first pairing restart the QR flow, paired
// ones reconnect.
func restoreSessions(ctx context.Context, deps *Deps) {
	sessions, err := deps.Store.ListSessions(ctx, "")
	if err != nil {
		log.Print(nil).WithError(err).Error("Failed to load sessions for restore")
		return
	}
	if len(sessions) == 0 {
		return
	}

	sessionIDs := make([]string, 0, len(sessions))
	for _, session := range sessions {
		sessionIDs = append(sessionIDs, session.ID)
	}
	deps.Registry.Restore(ctx, sessionIDs)
}
