package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"lanmsg/internal/relay"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMessages struct {
	mu sync.Mutex
	n  int64
}

func (m *fakeMessages) CreateMessage(_ context.Context, _, _ int64, _, _ string) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.n++
	return m.n, time.Now(), nil
}

func (m *fakeMessages) count() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.n
}

func bootstrapWS(t *testing.T) (*httptest.Server, *fakeUsers, *fakeMessages) {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	sugar := logger.Sugar()

	users := newFakeUsers("alice", "bob")
	messages := &fakeMessages{}
	registry := relay.NewRegistry(sugar, users)
	engine := relay.NewEngine(sugar, registry, users, messages)

	mux := http.NewServeMux()
	mux.Handle("/ws/", http.HandlerFunc(newWSHandler(sugar, engine, users).serve))

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return ts, users, messages
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestWebsocketRelay(t *testing.T) {
	t.Parallel()

	ts, users, messages := bootstrapWS(t)

	sender := dialWS(t, ts, "/ws/1")
	receiver := dialWS(t, ts, "/ws/2")

	// binds run in the per-connection goroutines after the handshake
	require.Eventually(t, func() bool {
		return users.isOnline(1) && users.isOnline(2)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, sender.WriteJSON(map[string]interface{}{
		"to":      2,
		"type":    "text",
		"content": "hi",
	}))

	require.NoError(t, receiver.SetReadDeadline(time.Now().Add(5*time.Second)))

	var out relay.Outbound
	require.NoError(t, receiver.ReadJSON(&out))
	require.Equal(t, int64(1), out.SenderID)
	require.Equal(t, int64(2), out.ReceiverID)
	require.Equal(t, "text", out.MessageType)
	require.Equal(t, "hi", out.Content)
	require.True(t, out.Sender.IsOnline)
	require.Equal(t, "alice", out.Sender.Username)
	require.Equal(t, int64(1), messages.count())
}

func TestWebsocketDisconnectFlipsPresence(t *testing.T) {
	t.Parallel()

	ts, users, _ := bootstrapWS(t)

	conn := dialWS(t, ts, "/ws/1")
	require.Eventually(t, func() bool { return users.isOnline(1) }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !users.isOnline(1) }, 5*time.Second, 10*time.Millisecond)
}

func TestWebsocketUnknownUser(t *testing.T) {
	t.Parallel()

	ts, _, _ := bootstrapWS(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/999"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Equal(t, websocket.ErrBadHandshake, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestWebsocketBadUserID(t *testing.T) {
	t.Parallel()

	ts, _, _ := bootstrapWS(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/alice"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Equal(t, websocket.ErrBadHandshake, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
