package internal

import (
	"github.com/yesapp/whatsapp-api/pkg/auth"
	"github.com/yesapp/whatsapp-api/pkg/ratelimit"
	"github.com/yesapp/whatsapp-api/pkg/store"
	"github.com/yesapp/whatsapp-api/pkg/webhook"
	pkgWhatsApp "github.com/yesapp/whatsapp-api/pkg/whatsapp"
)

// Deps holds the shared service objects, constructed once in main and
// threaded through routes, startup and routines.
type Deps struct {
	Store      *store.Store
	Auth       *auth.Service
	Limiter    *ratelimit.Limiter
	Notifier   *webhook.Notifier
	Registry   *pkgWhatsApp.Registry
	Dispatcher *pkgWhatsApp.Dispatcher
}
