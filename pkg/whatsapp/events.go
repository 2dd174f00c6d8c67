package whatsapp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/yesapp/whatsapp-api/pkg/log"
	"github.com/yesapp/whatsapp-api/pkg/store"
	"github.com/yesapp/whatsapp-api/pkg/webhook"
)

// InboundMessage is a received message after text extraction.
type InboundMessage struct {
	ProviderID string
	From       string
	Chat       string
	Body       string
	MediaType  string
	Timestamp  time.Time
}

// EventSink receives session lifecycle and message events from the
// registry's client handlers.
type EventSink interface {
	OnPairingChallenge(sessionID, qrDataURL string)
	OnReady(sessionID, phoneNumber string)
	OnAuthFailure(sessionID string)
	OnDisconnected(sessionID string)
	OnMessage(sessionID string, msg InboundMessage)
}

// Bridge mirrors client events into the store and forwards them to the
// session's webhook URL when one is configured.
type Bridge struct {
	store    *store.Store
	notifier *webhook.Notifier
}

func NewBridge(s *store.Store, n *webhook.Notifier) *Bridge {
	return &Bridge{store: s, notifier: n}
}

const bridgeOpTimeout = 5 * time.Second

func (b *Bridge) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), bridgeOpTimeout)
}

func (b *Bridge) webhookURL(ctx context.Context, sessionID string) string {
	session, err := b.store.GetSession(ctx, sessionID)
	if err != nil || session.WebhookURL == nil {
		return ""
	}
	return *session.WebhookURL
}

func (b *Bridge) notify(ctx context.Context, sessionID string, event webhook.EventType, data map[string]interface{}) {
	if b.notifier == nil {
		return
	}
	b.notifier.Notify(b.webhookURL(ctx, sessionID), webhook.Event{
		Event:     event,
		SessionID: sessionID,
		Data:      data,
	})
}

func (b *Bridge) OnPairingChallenge(sessionID, qrDataURL string) {
	ctx, cancel := b.opContext()
	defer cancel()

	if err := b.store.UpdateSessionState(ctx, sessionID, store.SessionPending, &qrDataURL, nil); err != nil {
		log.Session(sessionID).WithError(err).Error("failed to persist pairing code")
	}
}

func (b *Bridge) OnReady(sessionID, phoneNumber string) {
	ctx, cancel := b.opContext()
	defer cancel()

	if err := b.store.UpdateSessionState(ctx, sessionID, store.SessionConnected, nil, &phoneNumber); err != nil {
		log.Session(sessionID).WithError(err).Error("failed to persist connected state")
	}
	log.Session(sessionID).Info("client connected as " + maskPhoneForLog(phoneNumber))
	b.notify(ctx, sessionID, webhook.EventConnectionConnected, map[string]interface{}{
		"phone_number": phoneNumber,
	})
}

func (b *Bridge) OnAuthFailure(sessionID string) {
	ctx, cancel := b.opContext()
	defer cancel()

	if err := b.store.UpdateSessionState(ctx, sessionID, store.SessionDisconnected, nil, nil); err != nil {
		log.Session(sessionID).WithError(err).Error("failed to persist auth failure")
	}
	log.Session(sessionID).Warn("client logged out")
	b.notify(ctx, sessionID, webhook.EventConnectionLoggedOut, nil)
}

func (b *Bridge) OnDisconnected(sessionID string) {
	ctx, cancel := b.opContext()
	defer cancel()

	session, err := b.store.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	// Keep the stored phone number across transient drops.
	if err := b.store.UpdateSessionState(ctx, sessionID, store.SessionDisconnected, nil, session.PhoneNumber); err != nil {
		log.Session(sessionID).WithError(err).Error("failed to persist disconnected state")
	}
	log.Session(sessionID).Warn("client disconnected")
	b.notify(ctx, sessionID, webhook.EventConnectionDisconnected, nil)
}

func (b *Bridge) OnMessage(sessionID string, msg InboundMessage) {
	ctx, cancel := b.opContext()
	defer cancel()

	session, err := b.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Session(sessionID).WithError(err).Error("failed to load session for inbound message")
		return
	}
	toNumber := ""
	if session.PhoneNumber != nil {
		toNumber = *session.PhoneNumber
	}

	metadata, _ := json.Marshal(map[string]interface{}{
		"provider_id": msg.ProviderID,
		"chat":        msg.Chat,
		"timestamp":   msg.Timestamp.UnixMilli(),
	})

	record := &store.Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Direction:  store.DirectionInbound,
		FromNumber: msg.From,
		ToNumber:   toNumber,
		Body:       msg.Body,
		Status:     store.MessageSent,
		Metadata:   string(metadata),
	}
	if msg.MediaType != "" {
		record.MediaType = &msg.MediaType
	}
	if err := b.store.CreateMessage(ctx, record); err != nil {
		log.Session(sessionID).WithError(err).Error("failed to persist inbound message")
		return
	}
	_ = b.store.TouchSessionActivity(ctx, sessionID)

	if b.notifier != nil && session.WebhookURL != nil {
		b.notifier.Notify(*session.WebhookURL, webhook.Event{
			Event:     webhook.EventMessageReceived,
			SessionID: sessionID,
			Data: map[string]interface{}{
				"message_id": record.ID,
				"from":       msg.From,
				"chat":       msg.Chat,
				"body":       msg.Body,
				"media_type": msg.MediaType,
				"timestamp":  msg.Timestamp.Unix(),
			},
		})
	}
}

func maskPhoneForLog(phone string) string {
	if len(phone) <= 4 {
		return "xxxx"
	}
	return phone[:len(phone)-4] + "xxxx"
}
