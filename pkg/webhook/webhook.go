package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/yesapp/whatsapp-api/pkg/env"
	"github.com/yesapp/whatsapp-api/pkg/log"
)

type EventType string

const (
	EventMessageReceived        EventType = "message.received"
	EventMessageSent            EventType = "message.sent"
	EventMessageFailed          EventType = "message.failed"
	EventConnectionConnected    EventType = "connection.connected"
	EventConnectionDisconnected EventType = "connection.disconnected"
	EventConnectionLoggedOut    EventType = "connection.logged_out"
)

type Event struct {
	Event     EventType              `json:"event"`
	SessionID string                 `json:"session_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

type task struct {
	url   string
	event Event
}

// Notifier posts session events to per-session webhook URLs through a
// bounded queue and a fixed worker pool. A full queue drops the event
// rather than blocking the caller.
type Notifier struct {
	httpClient *http.Client
	queue      chan *task
	secret     string
	retryLimit int
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewNotifier() *Notifier {
	workers := env.GetEnvIntOrDefault("WEBHOOK_WORKERS", 4)
	if workers <= 0 {
		workers = 4
	}
	retryLimit := env.GetEnvIntOrDefault("WEBHOOK_RETRY_LIMIT", 3)
	if retryLimit <= 0 {
		retryLimit = 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan *task, 1000),
		secret:     env.GetEnvStringOrDefault("WEBHOOK_SECRET", ""),
		retryLimit: retryLimit,
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

// Shutdown stops the workers. The queue is never closed so concurrent
// Notify calls from event handlers stay safe during teardown.
func (n *Notifier) Shutdown() {
	n.cancel()
	n.wg.Wait()
}

// Notify enqueues an event for delivery. No-op when the session has no
// webhook URL configured or the notifier is shut down.
func (n *Notifier) Notify(url string, event Event) {
	if url == "" || n.ctx.Err() != nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case n.queue <- &task{url: url, event: event}:
	default:
		log.Session(event.SessionID).Warn("webhook queue full, dropping " + string(event.Event))
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case t := <-n.queue:
			n.deliver(t)
		}
	}
}

func (n *Notifier) deliver(t *task) {
	payload, err := json.Marshal(t.event)
	if err != nil {
		log.Session(t.event.SessionID).WithError(err).Error("webhook payload marshal failed")
		return
	}

	var lastErr error
	for attempt := 1; attempt <= n.retryLimit; attempt++ {
		req, err := http.NewRequestWithContext(n.ctx, http.MethodPost, t.url, bytes.NewReader(payload))
		if err != nil {
			lastErr = err
			break
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Event", string(t.event.Event))
		if n.secret != "" {
			req.Header.Set("X-Webhook-Signature", signature(payload, n.secret))
		}

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return
			}
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		}

		if attempt < n.retryLimit {
			select {
			case <-n.ctx.Done():
				return
			case <-time.After(time.Duration(attempt*2) * time.Second):
			}
		}
	}

	log.Session(t.event.SessionID).WithError(lastErr).
		Warn("webhook delivery failed: " + string(t.event.Event))
}

func signature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
