package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Channel is a single client's bidirectional transport connection. Send
// must be safe for concurrent use; Close must be idempotent and unblock a
// pending Read.
type Channel interface {
	Read() ([]byte, error)
	Send(v interface{}) error
	Close() error
}

// Presence is the registry's write surface on the user directory.
type Presence interface {
	SetOnline(ctx context.Context, id int64, online bool) error
}

// Registry maps user ids to their single active channel and owns presence
// transitions. All mutations of the mapping go through its lock.
type Registry struct {
	logger   *zap.SugaredLogger
	presence Presence

	mu    sync.RWMutex
	conns map[int64]Channel
}

func NewRegistry(logger *zap.SugaredLogger, presence Presence) *Registry {
	return &Registry{
		logger:   logger,
		presence: presence,
		conns:    make(map[int64]Channel),
	}
}

// Bind registers ch as the active channel for userID, force-closing any
// superseded channel, and marks the user online. The presence write is
// best-effort: a directory failure is logged and does not abort the bind.
func (r *Registry) Bind(ctx context.Context, userID int64, ch Channel) {
	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = ch
	r.mu.Unlock()

	if prev != nil && prev != ch {
		r.logger.Infof("Superseding existing connection for user %d", userID)
		_ = prev.Close()
	}

	if err := r.presence.SetOnline(ctx, userID, true); err != nil {
		r.logger.Errorf("Setting user %d online: %v", userID, err)
	}
}

// Unbind removes the binding for userID and marks the user offline, but
// only if ch is the channel currently registered: a stale unbind from a
// superseded connection must not clear a newer binding. Safe to call
// multiple times.
func (r *Registry) Unbind(ctx context.Context, userID int64, ch Channel) {
	r.mu.Lock()
	cur, ok := r.conns[userID]
	if !ok || cur != ch {
		r.mu.Unlock()
		return
	}
	delete(r.conns, userID)
	r.mu.Unlock()

	if err := r.presence.SetOnline(ctx, userID, false); err != nil {
		r.logger.Errorf("Setting user %d offline: %v", userID, err)
	}
}

// Send delivers payload to the channel bound for userID, reporting whether
// delivery happened. A missing binding is the normal delivery-miss outcome.
// A failed transport write takes the same cleanup path as a disconnect.
func (r *Registry) Send(userID int64, payload interface{}) bool {
	r.mu.RLock()
	ch, ok := r.conns[userID]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	if err := ch.Send(payload); err != nil {
		r.logger.Warnf("Sending to user %d: %v", userID, err)
		r.Unbind(context.Background(), userID, ch)
		_ = ch.Close()
		return false
	}

	return true
}
