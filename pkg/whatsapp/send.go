package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sunshineplan/imgconv"
	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"github.com/yesapp/whatsapp-api/pkg/env"
	"github.com/yesapp/whatsapp-api/pkg/ratelimit"
	"github.com/yesapp/whatsapp-api/pkg/store"
	"github.com/yesapp/whatsapp-api/pkg/webhook"
)

var ErrRecipientNotRegistered = errors.New("recipient phone number is not registered on WhatsApp")

// MediaPayload is a decoded outbound attachment.
type MediaPayload struct {
	MimeType string
	Data     []byte
	FileName string
}

// SendRequest is one outbound message against a session.
type SendRequest struct {
	Session *store.Session
	To      string
	Text    string
	Media   *MediaPayload
}

// Dispatcher runs the outbound send pipeline: admission through the
// rate limiter, pending bookkeeping, delivery, then final state.
type Dispatcher struct {
	registry    *Registry
	store       *store.Store
	limiter     *ratelimit.Limiter
	notifier    *webhook.Notifier
	sendTimeout time.Duration
}

func NewDispatcher(registry *Registry, s *store.Store, limiter *ratelimit.Limiter, notifier *webhook.Notifier) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		store:       s,
		limiter:     limiter,
		notifier:    notifier,
		sendTimeout: env.GetEnvDurationOrDefault("WHATSAPP_SEND_TIMEOUT", 30*time.Second),
	}
}

// Send delivers a text or media message. The Message record is created
// pending before delivery is attempted, so a crash mid-send leaves an
// auditable row. The returned admission carries rate-limit headers.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*store.Message, *ratelimit.Admission, error) {
	address, err := ClassifyAddress(req.To)
	if err != nil {
		return nil, nil, err
	}

	client, err := d.registry.Client(req.Session.ID)
	if err != nil {
		return nil, nil, err
	}

	admission, err := d.limiter.Acquire(req.Session.ID)
	if err != nil {
		return nil, nil, err
	}

	fromNumber := ""
	if req.Session.PhoneNumber != nil {
		fromNumber = *req.Session.PhoneNumber
	}
	record := &store.Message{
		ID:         uuid.NewString(),
		SessionID:  req.Session.ID,
		Direction:  store.DirectionOutbound,
		FromNumber: fromNumber,
		ToNumber:   address.Canonical,
		Body:       req.Text,
	}
	if req.Media != nil {
		record.MediaType = &req.Media.MimeType
	}
	if err := d.store.CreateMessage(ctx, record); err != nil {
		return nil, nil, err
	}

	if err := d.limiter.Wait(ctx, req.Session.ID); err != nil {
		return d.fail(ctx, record, err), admission, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	remoteJID := address.JID
	if address.Kind == AddressPhone {
		remoteJID, err = resolvePhone(sendCtx, client, address)
		if err != nil {
			return d.fail(ctx, record, err), admission, err
		}
	}

	providerID, mediaURL, err := d.deliver(sendCtx, client, remoteJID, req)
	if err != nil {
		return d.fail(ctx, record, err), admission, err
	}

	metadata, _ := json.Marshal(map[string]interface{}{
		"provider_id":  providerID,
		"resolved_jid": remoteJID.String(),
	})
	var uploadedURL *string
	if mediaURL != "" {
		uploadedURL = &mediaURL
	}
	if err := d.store.MarkMessageSent(ctx, record.ID, string(metadata), uploadedURL); err != nil {
		return nil, admission, err
	}
	_ = d.store.TouchSessionActivity(ctx, req.Session.ID)

	if req.Session.WebhookURL != nil {
		d.notifier.Notify(*req.Session.WebhookURL, webhook.Event{
			Event:     webhook.EventMessageSent,
			SessionID: req.Session.ID,
			Data: map[string]interface{}{
				"message_id":  record.ID,
				"provider_id": providerID,
				"to":          address.Canonical,
			},
		})
	}

	updated, err := d.store.GetMessage(ctx, req.Session.ID, record.ID)
	if err != nil {
		return nil, admission, err
	}
	return updated, admission, nil
}

func (d *Dispatcher) fail(ctx context.Context, record *store.Message, cause error) *store.Message {
	_ = d.store.MarkMessageFailed(ctx, record.ID, cause.Error())
	updated, err := d.store.GetMessage(ctx, record.SessionID, record.ID)
	if err != nil {
		return record
	}
	return updated
}

// resolvePhone confirms an E.164 number is registered and returns its
// canonical JID.
func resolvePhone(ctx context.Context, client *whatsmeow.Client, address Address) (types.JID, error) {
	infos, err := client.IsOnWhatsApp(ctx, []string{"+" + address.JID.User})
	if err != nil {
		return types.EmptyJID, err
	}
	if len(infos) == 0 || !infos[0].IsIn {
		return types.EmptyJID, ErrRecipientNotRegistered
	}
	return infos[0].JID, nil
}

// deliver dispatches by media type and returns the provider message ID
// plus the uploaded media URL when an attachment was sent.
func (d *Dispatcher) deliver(ctx context.Context, client *whatsmeow.Client, remoteJID types.JID, req SendRequest) (string, string, error) {
	if req.Media == nil {
		providerID, err := sendText(ctx, client, remoteJID, req.Text)
		return providerID, "", err
	}

	mimeType := strings.ToLower(req.Media.MimeType)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return sendImage(ctx, client, remoteJID, req.Media, req.Text)
	case strings.HasPrefix(mimeType, "video/"):
		return sendVideo(ctx, client, remoteJID, req.Media, req.Text)
	case strings.HasPrefix(mimeType, "audio/"):
		return sendAudio(ctx, client, remoteJID, req.Media)
	default:
		return sendDocument(ctx, client, remoteJID, req.Media, req.Text)
	}
}

func sendText(ctx context.Context, client *whatsmeow.Client, remoteJID types.JID, text string) (string, error) {
	msgExtra := whatsmeow.SendRequestExtra{ID: client.GenerateMessageID()}
	msgContent := &waE2E.Message{
		Conversation: proto.String(text),
	}
	if _, err := client.SendMessage(ctx, remoteJID, msgContent, msgExtra); err != nil {
		return "", err
	}
	return msgExtra.ID, nil
}

func sendImage(ctx context.Context, client *whatsmeow.Client, remoteJID types.JID, media *MediaPayload, caption string) (string, string, error) {
	imageBytes := media.Data
	imageType := media.MimeType

	// WebP is not accepted as an inline image, re-encode to PNG.
	if imageType == "image/webp" {
		decoded, err := imgconv.Decode(bytes.NewReader(imageBytes))
		if err != nil {
			return "", "", errors.New("failed to decode webp image")
		}
		encoded := new(bytes.Buffer)
		if err := imgconv.Write(encoded, decoded, &imgconv.FormatOption{Format: imgconv.PNG}); err != nil {
			return "", "", errors.New("failed to re-encode webp image")
		}
		imageBytes = encoded.Bytes()
		imageType = "image/png"
	}

	thumbDecoded, err := imgconv.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return "", "", errors.New("failed to decode image for thumbnail")
	}
	thumbEncoded := new(bytes.Buffer)
	err = imgconv.Write(thumbEncoded,
		imgconv.Resize(thumbDecoded, &imgconv.ResizeOption{Width: 72}),
		&imgconv.FormatOption{Format: imgconv.JPEG})
	if err != nil {
		return "", "", errors.New("failed to encode image thumbnail")
	}

	uploaded, err := client.Upload(ctx, imageBytes, whatsmeow.MediaImage)
	if err != nil {
		return "", "", err
	}

	msgExtra := whatsmeow.SendRequestExtra{ID: client.GenerateMessageID()}
	msgContent := &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			Mimetype:      proto.String(imageType),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(uploaded.FileLength),
			FileSHA256:    uploaded.FileSHA256,
			FileEncSHA256: uploaded.FileEncSHA256,
			MediaKey:      uploaded.MediaKey,
			JPEGThumbnail: thumbEncoded.Bytes(),
		},
	}
	if _, err := client.SendMessage(ctx, remoteJID, msgContent, msgExtra); err != nil {
		return "", "", err
	}
	return msgExtra.ID, uploaded.URL, nil
}

func sendVideo(ctx context.Context, client *whatsmeow.Client, remoteJID types.JID, media *MediaPayload, caption string) (string, string, error) {
	uploaded, err := client.Upload(ctx, media.Data, whatsmeow.MediaVideo)
	if err != nil {
		return "", "", err
	}

	msgExtra := whatsmeow.SendRequestExtra{ID: client.GenerateMessageID()}
	msgContent := &waE2E.Message{
		VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			Mimetype:      proto.String(media.MimeType),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(uploaded.FileLength),
			FileSHA256:    uploaded.FileSHA256,
			FileEncSHA256: uploaded.FileEncSHA256,
			MediaKey:      uploaded.MediaKey,
		},
	}
	if _, err := client.SendMessage(ctx, remoteJID, msgContent, msgExtra); err != nil {
		return "", "", err
	}
	return msgExtra.ID, uploaded.URL, nil
}

func sendAudio(ctx context.Context, client *whatsmeow.Client, remoteJID types.JID, media *MediaPayload) (string, string, error) {
	uploaded, err := client.Upload(ctx, media.Data, whatsmeow.MediaAudio)
	if err != nil {
		return "", "", err
	}

	msgExtra := whatsmeow.SendRequestExtra{ID: client.GenerateMessageID()}
	msgContent := &waE2E.Message{
		AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			Mimetype:      proto.String(media.MimeType),
			FileLength:    proto.Uint64(uploaded.FileLength),
			FileSHA256:    uploaded.FileSHA256,
			FileEncSHA256: uploaded.FileEncSHA256,
			MediaKey:      uploaded.MediaKey,
		},
	}
	if _, err := client.SendMessage(ctx, remoteJID, msgContent, msgExtra); err != nil {
		return "", "", err
	}
	return msgExtra.ID, uploaded.URL, nil
}

func sendDocument(ctx context.Context, client *whatsmeow.Client, remoteJID types.JID, media *MediaPayload, caption string) (string, string, error) {
	uploaded, err := client.Upload(ctx, media.Data, whatsmeow.MediaDocument)
	if err != nil {
		return "", "", err
	}

	fileName := media.FileName
	if fileName == "" {
		fileName = "document"
	}

	msgExtra := whatsmeow.SendRequestExtra{ID: client.GenerateMessageID()}
	msgContent := &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			Mimetype:      proto.String(media.MimeType),
			FileName:      proto.String(fileName),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(uploaded.FileLength),
			FileSHA256:    uploaded.FileSHA256,
			FileEncSHA256: uploaded.FileEncSHA256,
			MediaKey:      uploaded.MediaKey,
		},
	}
	if _, err := client.SendMessage(ctx, remoteJID, msgContent, msgExtra); err != nil {
		return "", "", err
	}
	return msgExtra.ID, uploaded.URL, nil
}
