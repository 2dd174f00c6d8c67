package whatsapp

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
)

type nopSink struct{}

func (nopSink) OnPairingChallenge(string, string) {}
func (nopSink) OnReady(string, string)            {}
func (nopSink) OnAuthFailure(string)              {}
func (nopSink) OnDisconnected(string)             {}
func (nopSink) OnMessage(string, InboundMessage)  {}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	t.Setenv("SESSIONS_PATH", t.TempDir())
	r, err := NewRegistry(nopSink{})
	require.NoError(t, err)
	return r
}

func registerTestHandle(t *testing.T, r *Registry, sessionID string) *Handle {
	t.Helper()
	ctx := context.Background()

	container, dbPath, err := r.openContainer(ctx, sessionID)
	require.NoError(t, err)
	device, err := container.GetFirstDevice(ctx)
	require.NoError(t, err)

	handle := &Handle{
		SessionID: sessionID,
		Client:    whatsmeow.NewClient(device, nil),
		container: container,
		dbPath:    dbPath,
	}
	r.mu.Lock()
	r.handles[sessionID] = handle
	r.mu.Unlock()
	return handle
}

func TestDiscardUnregistersHandle(t *testing.T) {
	r := newTestRegistry(t)
	handle := registerTestHandle(t, r, uuid.NewString())
	require.True(t, r.Exists(handle.SessionID))

	r.discard(handle)

	assert.False(t, r.Exists(handle.SessionID))
	assert.True(t, handle.destroyed.Load())
}

func TestDiscardKeepsReplacementHandle(t *testing.T) {
	r := newTestRegistry(t)
	sessionID := uuid.NewString()
	stale := registerTestHandle(t, r, sessionID)
	r.discard(stale)
	replacement := registerTestHandle(t, r, sessionID)

	// Discarding the stale handle again must not evict the replacement.
	r.discard(stale)

	assert.True(t, r.Exists(sessionID))
	assert.False(t, replacement.destroyed.Load())
}

func TestDestroyAlwaysRemovesHandle(t *testing.T) {
	r := newTestRegistry(t)
	handle := registerTestHandle(t, r, uuid.NewString())

	// Close the datastore up front so teardown has nothing healthy left.
	require.NoError(t, handle.container.Close())

	r.Destroy(context.Background(), handle.SessionID)

	assert.False(t, r.Exists(handle.SessionID))
	_, err := os.Stat(handle.dbPath)
	assert.True(t, os.IsNotExist(err))
}

func TestReconnectUnknownSession(t *testing.T) {
	r := newTestRegistry(t)
	assert.ErrorIs(t, r.Reconnect(uuid.NewString()), ErrSessionNotFound)
}

func TestReconnectSingleLoopPerHandle(t *testing.T) {
	r := newTestRegistry(t)
	handle := registerTestHandle(t, r, uuid.NewString())
	jid := types.NewJID("6281234567890", types.DefaultUserServer)
	handle.Client.Store.ID = &jid

	// A running loop owns the handle; a second call returns at once.
	handle.reconnecting.Store(true)
	require.NoError(t, r.Reconnect(handle.SessionID))

	assert.True(t, r.Exists(handle.SessionID))
	assert.True(t, handle.reconnecting.Load())
}
