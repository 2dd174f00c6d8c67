package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierDeliversEvent(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- r
		bodies <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	t.Setenv("WEBHOOK_SECRET", "test-secret")
	n := NewNotifier()
	defer n.Shutdown()

	n.Notify(server.URL, Event{
		Event:     EventMessageSent,
		SessionID: "s1",
		Data:      map[string]interface{}{"message_id": "m1"},
	})

	select {
	case r := <-received:
		body := <-bodies

		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, string(EventMessageSent), r.Header.Get("X-Webhook-Event"))

		mac := hmac.New(sha256.New, []byte("test-secret"))
		mac.Write(body)
		expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
		assert.Equal(t, expected, r.Header.Get("X-Webhook-Signature"))

		var event Event
		require.NoError(t, json.Unmarshal(body, &event))
		assert.Equal(t, EventMessageSent, event.Event)
		assert.Equal(t, "s1", event.SessionID)
		assert.Equal(t, "m1", event.Data["message_id"])
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was never delivered")
	}
}

func TestNotifyIgnoresEmptyURL(t *testing.T) {
	n := NewNotifier()
	defer n.Shutdown()

	n.Notify("", Event{Event: EventMessageSent, SessionID: "s1"})
	assert.Empty(t, n.queue)
}

func TestNotifyAfterShutdownIsSafe(t *testing.T) {
	n := NewNotifier()
	n.Shutdown()

	assert.NotPanics(t, func() {
		n.Notify("http://127.0.0.1:9/hook", Event{Event: EventMessageSent, SessionID: "s1"})
	})
	assert.Empty(t, n.queue)
}
