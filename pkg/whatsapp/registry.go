package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	mathrand "math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	qrCode "github.com/skip2/go-qrcode"
	"golang.org/x/sync/errgroup"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/yesapp/whatsapp-api/pkg/env"
	"github.com/yesapp/whatsapp-api/pkg/log"
)

var (
	ErrSessionNotFound = errors.New("no client exists for this session")
	ErrSessionNotReady = errors.New("client is not connected and logged in")
)

const qrChannelWaitTimeout = 2 * time.Minute

// Handle is one session's live client and its auth datastore.
type Handle struct {
	SessionID string
	Client    *whatsmeow.Client
	container *sqlstore.Container
	dbPath    string

	pairCancel   context.CancelFunc
	reconnecting atomic.Bool
	destroyed    atomic.Bool
}

// Registry owns the live whatsmeow clients, one per session. All
// lifecycle transitions flow through the configured EventSink.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	sink    EventSink

	sessionsPath string
	retries      int
	backoffBase  time.Duration
	backoffMax   time.Duration
}

func NewRegistry(sink EventSink) (*Registry, error) {
	sessionsPath := env.GetEnvStringOrDefault("SESSIONS_PATH", "data/sessions")
	if err := os.MkdirAll(sessionsPath, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}

	return &Registry{
		handles:      make(map[string]*Handle),
		sink:         sink,
		sessionsPath: sessionsPath,
		retries:      env.GetEnvIntOrDefault("WHATSAPP_RECONNECT_RETRIES", 5),
		backoffBase:  env.GetEnvDurationOrDefault("WHATSAPP_RECONNECT_BACKOFF_BASE", 2*time.Second),
		backoffMax:   env.GetEnvDurationOrDefault("WHATSAPP_RECONNECT_BACKOFF_MAX", 30*time.Second),
	}, nil
}

func (r *Registry) getHandle(sessionID string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[sessionID]
}

func (r *Registry) sessionDBPath(sessionID string) string {
	return filepath.Join(r.sessionsPath, sessionID+".db")
}

func (r *Registry) openContainer(ctx context.Context, sessionID string) (*sqlstore.Container, string, error) {
	dbPath := r.sessionDBPath(sessionID)
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)
	container, err := sqlstore.New(ctx, "sqlite", dsn, nil)
	return container, dbPath, err
}

// Create initializes the client for a session, connecting immediately
// when auth data exists and starting QR pairing otherwise. Idempotent
// for an already registered session. A handle whose initiation fails is
// unregistered again, so the next Create starts clean.
func (r *Registry) Create(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	if _, ok := r.handles[sessionID]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	container, dbPath, err := r.openContainer(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("open session datastore: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return fmt.Errorf("load session device: %w", err)
	}

	client := whatsmeow.NewClient(device, nil)
	client.EnableAutoReconnect = false
	client.AutoTrustIdentity = true
	client.AddEventHandler(r.handleEvents(sessionID))

	handle := &Handle{
		SessionID: sessionID,
		Client:    client,
		container: container,
		dbPath:    dbPath,
	}

	r.mu.Lock()
	if _, ok := r.handles[sessionID]; ok {
		r.mu.Unlock()
		container.Close()
		return nil
	}
	r.handles[sessionID] = handle
	r.mu.Unlock()

	if client.Store.ID == nil {
		if err := r.startPairing(handle); err != nil {
			r.discard(handle)
			return fmt.Errorf("start pairing: %w", err)
		}
		return nil
	}
	if err := client.Connect(); err != nil {
		r.discard(handle)
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// discard unregisters a handle and tears down its client and
// datastore. The handle leaves the map even when teardown fails, so a
// dead client can never shadow a later Create.
func (r *Registry) discard(handle *Handle) {
	r.mu.Lock()
	if r.handles[handle.SessionID] == handle {
		delete(r.handles, handle.SessionID)
	}
	r.mu.Unlock()

	handle.destroyed.Store(true)
	if handle.pairCancel != nil {
		handle.pairCancel()
	}
	handle.Client.Disconnect()
	if err := handle.container.Close(); err != nil {
		log.Session(handle.SessionID).WithError(err).Warn("failed to close session datastore")
	}
}

// startPairing connects with a QR channel and forwards every code to
// the sink until pairing succeeds or the channel closes. The channel
// must be requested before the first Connect.
func (r *Registry) startPairing(handle *Handle) error {
	pairCtx, cancel := context.WithTimeout(context.Background(), qrChannelWaitTimeout)
	handle.pairCancel = cancel

	qrChan, err := handle.Client.GetQRChannel(pairCtx)
	if err != nil {
		cancel()
		return err
	}
	if err := handle.Client.Connect(); err != nil {
		cancel()
		return err
	}

	go func() {
		defer cancel()
		for {
			select {
			case <-pairCtx.Done():
				if !handle.destroyed.Load() {
					log.Session(handle.SessionID).Warn("pairing window expired")
					r.sink.OnAuthFailure(handle.SessionID)
				}
				return
			case evt, ok := <-qrChan:
				if !ok {
					return
				}
				switch evt.Event {
				case "code":
					dataURL, err := generateQRDataURL(evt.Code)
					if err != nil {
						log.Session(handle.SessionID).WithError(err).Error("failed to encode pairing code")
						continue
					}
					r.sink.OnPairingChallenge(handle.SessionID, dataURL)
				case whatsmeow.QRChannelSuccess.Event:
					return
				case whatsmeow.QRChannelTimeout.Event, whatsmeow.QRChannelErrUnexpectedEvent.Event,
					whatsmeow.QRChannelClientOutdated.Event, whatsmeow.QRChannelScannedWithoutMultidevice.Event,
					"error":
					if !handle.destroyed.Load() {
						log.Session(handle.SessionID).Warn("pairing failed: " + evt.Event)
						r.sink.OnAuthFailure(handle.SessionID)
					}
					return
				}
			}
		}
	}()
	return nil
}

func generateQRDataURL(code string) (string, error) {
	qrPNG, err := qrCode.Encode(code, qrCode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrPNG), nil
}

func (r *Registry) handleEvents(sessionID string) func(interface{}) {
	return func(evt interface{}) {
		handle := r.getHandle(sessionID)
		if handle == nil || handle.destroyed.Load() {
			return
		}
		switch e := evt.(type) {
		case *events.Connected:
			if handle.Client.Store.ID != nil {
				r.sink.OnReady(sessionID, "+"+handle.Client.Store.ID.User)
			}
		case *events.LoggedOut, *events.StreamReplaced:
			handle.Client.Disconnect()
			r.sink.OnAuthFailure(sessionID)
		case *events.Disconnected:
			r.sink.OnDisconnected(sessionID)
			r.superviseReconnect(handle)
		case *events.Message:
			if e.Info.IsFromMe {
				return
			}
			body, mediaType := extractMessageBody(e.Message)
			if body == "" && mediaType == "" {
				return
			}
			r.sink.OnMessage(sessionID, InboundMessage{
				ProviderID: e.Info.ID,
				From:       e.Info.Sender.ToNonAD().String(),
				Chat:       e.Info.Chat.String(),
				Body:       body,
				MediaType:  mediaType,
				Timestamp:  e.Info.Timestamp,
			})
		}
	}
}

func extractMessageBody(msg *waE2E.Message) (body string, mediaType string) {
	if msg == nil {
		return "", ""
	}
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation(), ""
	case msg.GetExtendedTextMessage().GetText() != "":
		return msg.GetExtendedTextMessage().GetText(), ""
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption(), msg.GetImageMessage().GetMimetype()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption(), msg.GetVideoMessage().GetMimetype()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption(), msg.GetDocumentMessage().GetMimetype()
	case msg.GetAudioMessage() != nil:
		return "", msg.GetAudioMessage().GetMimetype()
	}
	return "", ""
}

// superviseReconnect kicks off reconnection after an unexpected drop.
// The per-handle guard inside Reconnect keeps it to a single loop.
func (r *Registry) superviseReconnect(handle *Handle) {
	go func() {
		if err := r.Reconnect(handle.SessionID); err != nil {
			log.Session(handle.SessionID).WithError(err).Warn("reconnect failed")
		}
	}()
}

// Reconnect re-establishes a session's connection. The first attempt
// runs inline; when it fails the remaining attempts continue in the
// background with exponential backoff, and exhausting them discards
// the handle and registers a fresh client in its place. A session that
// lost its pairing is rebuilt immediately, restarting the QR flow.
// Returns without error when a reconnect loop is already running.
func (r *Registry) Reconnect(sessionID string) error {
	handle := r.getHandle(sessionID)
	if handle == nil {
		return ErrSessionNotFound
	}
	if !handle.reconnecting.CompareAndSwap(false, true) {
		return nil
	}

	if handle.Client.Store.ID == nil {
		handle.reconnecting.Store(false)
		return r.recreate(handle)
	}

	handle.Client.Disconnect()
	if err := handle.Client.Connect(); err == nil {
		handle.reconnecting.Store(false)
		return nil
	}

	go func() {
		defer handle.reconnecting.Store(false)
		if err := r.retryConnect(handle); err != nil {
			log.Session(sessionID).WithError(err).Warn("reconnect attempts exhausted, rebuilding client")
			if err := r.recreate(handle); err != nil {
				log.Session(sessionID).WithError(err).Error("failed to rebuild client")
			}
		}
	}()
	return nil
}

// retryConnect loops with exponential backoff and jitter up to the
// configured attempt limit.
func (r *Registry) retryConnect(handle *Handle) error {
	var lastErr error
	for attempt := 1; attempt <= r.retries; attempt++ {
		if handle.destroyed.Load() {
			return ErrSessionNotFound
		}

		backoff := r.backoffBase * time.Duration(1<<(attempt-1))
		if backoff > r.backoffMax {
			backoff = r.backoffMax
		}
		jitter := time.Duration(mathrand.Int64N(int64(500*time.Millisecond) + 1))
		time.Sleep(backoff + jitter)

		handle.Client.Disconnect()
		if lastErr = handle.Client.Connect(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// recreate discards a dead handle and registers a fresh client for the
// same session.
func (r *Registry) recreate(handle *Handle) error {
	r.discard(handle)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return r.Create(ctx, handle.SessionID)
}

// IsReady reports whether the session has a connected, logged-in
// client.
func (r *Registry) IsReady(sessionID string) bool {
	handle := r.getHandle(sessionID)
	return handle != nil && handle.Client.IsConnected() && handle.Client.IsLoggedIn()
}

// Exists reports whether the session has a registered client at all.
func (r *Registry) Exists(sessionID string) bool {
	return r.getHandle(sessionID) != nil
}

// Client returns the session's client when it is ready for use.
func (r *Registry) Client(sessionID string) (*whatsmeow.Client, error) {
	handle := r.getHandle(sessionID)
	if handle == nil {
		return nil, ErrSessionNotFound
	}
	if !handle.Client.IsConnected() || !handle.Client.IsLoggedIn() {
		return nil, ErrSessionNotReady
	}
	return handle.Client, nil
}

// Destroy removes the handle unconditionally, then tears down the
// client and deletes its auth datastore best-effort.
func (r *Registry) Destroy(ctx context.Context, sessionID string) {
	r.mu.Lock()
	handle, ok := r.handles[sessionID]
	delete(r.handles, sessionID)
	r.mu.Unlock()
	if !ok {
		return
	}

	handle.destroyed.Store(true)
	if handle.Client.IsLoggedIn() {
		logoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := handle.Client.Logout(logoutCtx); err != nil {
			log.Session(sessionID).WithError(err).Warn("logout failed during destroy")
		}
		cancel()
	}
	r.discard(handle)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(handle.dbPath + suffix)
	}
}

// Restore re-registers clients for previously created sessions, a few
// at a time with startup jitter.
func (r *Registry) Restore(ctx context.Context, sessionIDs []string) {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(env.GetEnvIntOrDefault("WHATSAPP_RESTORE_CONCURRENCY", 5))

	var restored, failed atomic.Int64
	for _, sessionID := range sessionIDs {
		sessionID := sessionID
		group.Go(func() error {
			jitterSleep(env.GetEnvDurationOrDefault("WHATSAPP_RESTORE_JITTER_MAX", 5*time.Second))
			log.Session(sessionID).Info("restoring client")
			if err := r.Create(ctx, sessionID); err != nil {
				log.Session(sessionID).WithError(err).Warn("failed to restore client")
				r.sink.OnDisconnected(sessionID)
				failed.Add(1)
				return nil
			}
			restored.Add(1)
			return nil
		})
	}
	_ = group.Wait()

	log.Print(nil).
		WithField("restored", restored.Load()).
		WithField("failed", failed.Load()).
		Info("session restore pass complete")
}

func jitterSleep(max time.Duration) {
	if max <= 0 {
		return
	}
	ms := mathrand.Int64N(max.Milliseconds() + 1)
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// Shutdown disconnects every client and closes the auth datastores.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, handle := range r.handles {
		handles = append(handles, handle)
	}
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	var group errgroup.Group
	for _, handle := range handles {
		handle := handle
		group.Go(func() error {
			handle.destroyed.Store(true)
			if handle.pairCancel != nil {
				handle.pairCancel()
			}
			handle.Client.Disconnect()
			return handle.container.Close()
		})
	}
	_ = group.Wait()
}

// Stats summarizes the live clients for the admin surface.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ready := 0
	for _, handle := range r.handles {
		if handle.Client.IsConnected() && handle.Client.IsLoggedIn() {
			ready++
		}
	}
	return map[string]int{
		"clients": len(r.handles),
		"ready":   ready,
	}
}
