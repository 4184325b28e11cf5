package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lanmsg/internal/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDirectory struct {
	mu    sync.Mutex
	users map[int64]storage.User
	err   error
}

func (d *fakeDirectory) UserByID(_ context.Context, id int64) (storage.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return storage.User{}, d.err
	}
	u, ok := d.users[id]
	if !ok {
		return storage.User{}, storage.ErrUserNotExist
	}
	return u, nil
}

func (d *fakeDirectory) SetOnline(_ context.Context, id int64, online bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if u, ok := d.users[id]; ok {
		u.Online = online
		d.users[id] = u
	}
	return nil
}

type appendedMessage struct {
	sender, receiver int64
	msgType, content string
}

type fakeMessageLog struct {
	mu      sync.Mutex
	appends []appendedMessage
	err     error
}

func (l *fakeMessageLog) CreateMessage(_ context.Context, sender, receiver int64, msgType, content string) (int64, time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return 0, time.Time{}, l.err
	}
	l.appends = append(l.appends, appendedMessage{sender, receiver, msgType, content})
	id := int64(len(l.appends))
	return id, time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Second), nil
}

func (l *fakeMessageLog) appended() []appendedMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]appendedMessage(nil), l.appends...)
}

func newTestEngine(t *testing.T) (*Engine, *Registry, *fakeDirectory, *fakeMessageLog) {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	sugar := logger.Sugar()

	directory := &fakeDirectory{users: map[int64]storage.User{
		1: {ID: 1, Username: "alice"},
		2: {ID: 2, Username: "bob"},
	}}
	messages := &fakeMessageLog{}
	registry := NewRegistry(sugar, directory)

	return NewEngine(sugar, registry, directory, messages), registry, directory, messages
}

func TestRelayDeliversToReceiver(t *testing.T) {
	t.Parallel()

	engine, registry, _, messages := newTestEngine(t)

	receiver := &fakeChannel{}
	registry.Bind(context.Background(), 2, receiver)

	sender := &fakeChannel{frames: [][]byte{
		[]byte(`{"to":2,"type":"text","content":"hi"}`),
	}}
	engine.Run(context.Background(), 1, sender)

	require.Equal(t, []appendedMessage{{1, 2, "text", "hi"}}, messages.appended())

	sent := receiver.sentPayloads()
	require.Len(t, sent, 1)

	out, ok := sent[0].(Outbound)
	require.True(t, ok)
	require.Equal(t, int64(1), out.ID)
	require.Equal(t, int64(1), out.SenderID)
	require.Equal(t, int64(2), out.ReceiverID)
	require.Equal(t, "text", out.MessageType)
	require.Equal(t, "hi", out.Content)
	require.NotEmpty(t, out.Timestamp)
	require.Equal(t, SenderInfo{ID: 1, Username: "alice", IsOnline: true}, out.Sender)
}

func TestOfflineReceiverStillPersisted(t *testing.T) {
	t.Parallel()

	engine, _, directory, messages := newTestEngine(t)

	sender := &fakeChannel{frames: [][]byte{
		[]byte(`{"to":2,"type":"text","content":"hi"}`),
	}}
	engine.Run(context.Background(), 1, sender)

	require.Equal(t, []appendedMessage{{1, 2, "text", "hi"}}, messages.appended())
	require.True(t, sender.isClosed())
	require.False(t, directory.users[1].Online)
}

func TestUnknownReceiverNotPersisted(t *testing.T) {
	t.Parallel()

	engine, registry, _, messages := newTestEngine(t)

	receiver := &fakeChannel{}
	registry.Bind(context.Background(), 2, receiver)

	sender := &fakeChannel{frames: [][]byte{
		[]byte(`{"to":999,"type":"text","content":"lost"}`),
		[]byte(`{"to":2,"type":"text","content":"hi"}`),
	}}
	engine.Run(context.Background(), 1, sender)

	// the rejected envelope leaves no record and does not end the connection
	require.Equal(t, []appendedMessage{{1, 2, "text", "hi"}}, messages.appended())
	require.Len(t, receiver.sentPayloads(), 1)
}

func TestMalformedEnvelopeDropped(t *testing.T) {
	t.Parallel()

	engine, registry, _, messages := newTestEngine(t)

	receiver := &fakeChannel{}
	registry.Bind(context.Background(), 2, receiver)

	sender := &fakeChannel{frames: [][]byte{
		[]byte(`not json at all`),
		[]byte(`{"to":"two","type":"text","content":"hi"}`),
		[]byte(`{"to":2,"content":"hi"}`),
		[]byte(`{"to":2,"type":"text","content":"hi"}`),
	}}
	engine.Run(context.Background(), 1, sender)

	require.Equal(t, []appendedMessage{{1, 2, "text", "hi"}}, messages.appended())
	require.Len(t, receiver.sentPayloads(), 1)
}

func TestPersistFailureClosesConnection(t *testing.T) {
	t.Parallel()

	engine, _, directory, messages := newTestEngine(t)
	messages.err = errors.New("store unavailable")

	sender := &fakeChannel{frames: [][]byte{
		[]byte(`{"to":2,"type":"text","content":"first"}`),
		[]byte(`{"to":2,"type":"text","content":"second"}`),
	}}
	engine.Run(context.Background(), 1, sender)

	// loop must stop at the first fatal failure, leaving the second frame unread
	require.Empty(t, messages.appended())
	require.True(t, sender.isClosed())
	require.Len(t, sender.frames, 1)
	require.False(t, directory.users[1].Online)
}

func TestDisconnectFlipsPresenceOnce(t *testing.T) {
	t.Parallel()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	sugar := logger.Sugar()

	presence := &fakePresence{}
	registry := NewRegistry(sugar, presence)
	directory := &fakeDirectory{users: map[int64]storage.User{1: {ID: 1, Username: "alice"}}}
	engine := NewEngine(sugar, registry, directory, &fakeMessageLog{})

	engine.Run(context.Background(), 1, &fakeChannel{})

	require.Equal(t, []presenceCall{{1, true}, {1, false}}, presence.recorded())
}
