package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createTestSession(t *testing.T, s *Store) *Session {
	t.Helper()
	session, err := s.CreateSession(context.Background(), uuid.NewString(), "test session", "{}", nil)
	require.NoError(t, err)
	return session
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	webhookURL := "https://example.com/hook"
	session, err := s.CreateSession(ctx, uuid.NewString(), "orders", `{"retries":2}`, &webhookURL)
	require.NoError(t, err)

	assert.Equal(t, "orders", session.Name)
	assert.Equal(t, SessionPending, session.Status)
	assert.Nil(t, session.QRCode)
	assert.Nil(t, session.PhoneNumber)
	require.NotNil(t, session.WebhookURL)
	assert.Equal(t, webhookURL, *session.WebhookURL)
	assert.Equal(t, `{"retries":2}`, session.Settings)
	assert.Greater(t, session.CreatedAt, int64(0))
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStateTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := createTestSession(t, s)

	qr := "data:image/png;base64,abc"
	require.NoError(t, s.UpdateSessionState(ctx, session.ID, SessionPending, &qr, nil))

	loaded, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionPending, loaded.Status)
	require.NotNil(t, loaded.QRCode)
	assert.Equal(t, qr, *loaded.QRCode)

	// Connecting clears the code and records the identity.
	phone := "+6281234567890"
	require.NoError(t, s.UpdateSessionState(ctx, session.ID, SessionConnected, nil, &phone))

	loaded, err = s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionConnected, loaded.Status)
	assert.Nil(t, loaded.QRCode)
	require.NotNil(t, loaded.PhoneNumber)
	assert.Equal(t, phone, *loaded.PhoneNumber)
}

func TestUpdateSessionStateNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateSessionState(context.Background(), uuid.NewString(), SessionConnected, nil, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessionsByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := createTestSession(t, s)
	createTestSession(t, s)
	require.NoError(t, s.UpdateSessionState(ctx, first.ID, SessionDisconnected, nil, nil))

	all, err := s.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	disconnected, err := s.ListSessions(ctx, SessionDisconnected)
	require.NoError(t, err)
	require.Len(t, disconnected, 1)
	assert.Equal(t, first.ID, disconnected[0].ID)
}

func TestDeleteSessionCascadesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := createTestSession(t, s)

	msg := &Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		ToNumber:  "6281234567890@s.whatsapp.net",
		Body:      "hello",
	}
	require.NoError(t, s.CreateMessage(ctx, msg))

	require.NoError(t, s.DeleteSession(ctx, session.ID))
	assert.ErrorIs(t, s.DeleteSession(ctx, session.ID), ErrNotFound)

	_, err := s.GetMessage(ctx, session.ID, msg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := createTestSession(t, s)

	msg := &Message{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		FromNumber: "+6289876543210",
		ToNumber:   "6281234567890@s.whatsapp.net",
		Body:       "hello",
	}
	require.NoError(t, s.CreateMessage(ctx, msg))
	assert.Equal(t, MessagePending, msg.Status)
	assert.Equal(t, DirectionOutbound, msg.Direction)

	mediaURL := "https://mmg.whatsapp.net/d/f/abc"
	require.NoError(t, s.MarkMessageSent(ctx, msg.ID, `{"provider_id":"ABC123"}`, &mediaURL))
	loaded, err := s.GetMessage(ctx, session.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, MessageSent, loaded.Status)
	assert.Nil(t, loaded.Error)
	assert.Contains(t, loaded.Metadata, "ABC123")
	assert.Equal(t, "+6289876543210", loaded.FromNumber)
	assert.Equal(t, "6281234567890@s.whatsapp.net", loaded.ToNumber)
	require.NotNil(t, loaded.MediaURL)
	assert.Equal(t, mediaURL, *loaded.MediaURL)

	require.NoError(t, s.MarkMessageFailed(ctx, msg.ID, "timed out"))
	loaded, err = s.GetMessage(ctx, session.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, MessageFailed, loaded.Status)
	require.NotNil(t, loaded.Error)
	assert.Equal(t, "timed out", *loaded.Error)
}

func TestMessageScopedToSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := createTestSession(t, s)
	second := createTestSession(t, s)

	msg := &Message{
		ID:        uuid.NewString(),
		SessionID: first.ID,
		ToNumber:  "6281234567890@s.whatsapp.net",
		Body:      "hello",
	}
	require.NoError(t, s.CreateMessage(ctx, msg))

	_, err := s.GetMessage(ctx, second.ID, msg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMessagesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := createTestSession(t, s)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateMessage(ctx, &Message{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			ToNumber:  "6281234567890@s.whatsapp.net",
			Body:      "msg",
		}))
	}
	require.NoError(t, s.CreateMessage(ctx, &Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Direction: DirectionInbound,
		ToNumber:  "6289876543210@s.whatsapp.net",
		Body:      "reply",
		Status:    MessageSent,
	}))

	messages, total, err := s.ListMessages(ctx, session.ID, 4, 0, "")
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
	assert.Len(t, messages, 4)

	messages, total, err = s.ListMessages(ctx, session.ID, 4, 4, "")
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
	assert.Len(t, messages, 2)

	inbound, total, err := s.ListMessages(ctx, session.ID, 10, 0, DirectionInbound)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, inbound, 1)
	assert.Equal(t, "reply", inbound[0].Body)
}

func TestMessageStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := createTestSession(t, s)

	sent := &Message{ID: uuid.NewString(), SessionID: session.ID, ToNumber: "a@s.whatsapp.net", Body: "x"}
	require.NoError(t, s.CreateMessage(ctx, sent))
	require.NoError(t, s.MarkMessageSent(ctx, sent.ID, "{}", nil))

	failed := &Message{ID: uuid.NewString(), SessionID: session.ID, ToNumber: "a@s.whatsapp.net", Body: "y"}
	require.NoError(t, s.CreateMessage(ctx, failed))
	require.NoError(t, s.MarkMessageFailed(ctx, failed.ID, "boom"))

	require.NoError(t, s.CreateMessage(ctx, &Message{
		ID: uuid.NewString(), SessionID: session.ID, Direction: DirectionInbound,
		ToNumber: "b@s.whatsapp.net", Body: "z", Status: MessageSent,
	}))

	stats, err := s.GetMessageStats(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Sent)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Pending)
	assert.Equal(t, int64(1), stats.Inbound)
	assert.Equal(t, int64(2), stats.Outbound)
}

func TestDeleteMessagesBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := createTestSession(t, s)

	require.NoError(t, s.CreateMessage(ctx, &Message{
		ID: uuid.NewString(), SessionID: session.ID, ToNumber: "a@s.whatsapp.net", Body: "old",
	}))

	removed, err := s.DeleteMessagesBefore(ctx, time.Now().Add(time.Hour).UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = s.DeleteMessagesBefore(ctx, time.Now().Add(-time.Hour).UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestAPIKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key, err := s.CreateAPIKey(ctx, "digest-1", "ci", `["read"]`, nil)
	require.NoError(t, err)
	assert.Equal(t, "ci", key.Name)
	assert.Nil(t, key.ExpiresAt)
	assert.Nil(t, key.LastUsedAt)

	require.NoError(t, s.TouchAPIKey(ctx, "digest-1"))
	key, err = s.GetAPIKey(ctx, "digest-1")
	require.NoError(t, err)
	assert.NotNil(t, key.LastUsedAt)

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, s.DeleteAPIKey(ctx, "digest-1"))
	assert.ErrorIs(t, s.DeleteAPIKey(ctx, "digest-1"), ErrNotFound)

	_, err = s.GetAPIKey(ctx, "digest-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := createTestSession(t, s)

	require.NoError(t, s.CreateMessage(ctx, &Message{
		ID: uuid.NewString(), SessionID: session.ID, ToNumber: "a@s.whatsapp.net", Body: "x",
	}))
	_, err := s.CreateAPIKey(ctx, "digest-2", "ops", "", nil)
	require.NoError(t, err)

	counts, err := s.CountSessionsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[SessionPending])

	messages, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), messages)

	apiKeys, err := s.CountAPIKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), apiKeys)
}
