package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lanmsg/internal/storage"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// Directory is the engine's read surface on the user directory.
type Directory interface {
	UserByID(ctx context.Context, id int64) (storage.User, error)
}

// MessageLog is the durable append log of messages between user pairs.
type MessageLog interface {
	CreateMessage(ctx context.Context, sender, receiver int64, msgType, content string) (int64, time.Time, error)
}

// Engine drives one channel for exactly one user id from bind to unbind:
// decode inbound envelope, persist, forward to the receiver's channel if
// one is bound.
//
// Stage failures split two ways. Malformed envelopes and unknown receivers
// drop the envelope and keep the connection alive; persistence and
// directory failures terminate it, since forwarding an unpersisted message
// would break the durability-precedes-delivery guarantee.
type Engine struct {
	logger    *zap.SugaredLogger
	registry  *Registry
	directory Directory
	messages  MessageLog
	parsers   fastjson.ParserPool
}

func NewEngine(logger *zap.SugaredLogger, registry *Registry, directory Directory, messages MessageLog) *Engine {
	return &Engine{
		logger:    logger,
		registry:  registry,
		directory: directory,
		messages:  messages,
	}
}

// Run binds ch for userID, relays inbound envelopes until the channel is
// closed or a fatal stage failure occurs, then unbinds exactly once.
// Connection termination is final; the client must reconnect.
func (e *Engine) Run(ctx context.Context, userID int64, ch Channel) {
	e.registry.Bind(ctx, userID, ch)
	defer func() {
		e.registry.Unbind(ctx, userID, ch)
		_ = ch.Close()
	}()

	for {
		data, err := ch.Read()
		if err != nil {
			e.logger.Debugf("Connection of user %d closed: %v", userID, err)
			return
		}

		if err := e.relay(ctx, userID, data); err != nil {
			e.logger.Errorf("Closing connection of user %d: %v", userID, err)
			return
		}
	}
}

// relay processes a single inbound frame. A nil return keeps the
// connection alive; a non-nil return is fatal to it.
func (e *Engine) relay(ctx context.Context, senderID int64, data []byte) error {
	parser := e.parsers.Get()
	in, err := decodeInbound(parser, data)
	e.parsers.Put(parser)
	if err != nil {
		e.logger.Warnf("Dropping malformed envelope from user %d: %v", senderID, err)
		return nil
	}

	receiver, err := e.directory.UserByID(ctx, in.To)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			e.logger.Warnf("Dropping envelope from user %d to unknown user %d", senderID, in.To)
			return nil
		}
		return fmt.Errorf("resolving receiver %d: %w", in.To, err)
	}

	// persistence strictly precedes forwarding
	id, createdAt, err := e.messages.CreateMessage(ctx, senderID, receiver.ID, in.Type, in.Content)
	if err != nil {
		return fmt.Errorf("persisting message: %w", err)
	}

	sender, err := e.directory.UserByID(ctx, senderID)
	if err != nil {
		return fmt.Errorf("resolving sender %d: %w", senderID, err)
	}

	out := Outbound{
		ID:          id,
		SenderID:    sender.ID,
		ReceiverID:  receiver.ID,
		MessageType: in.Type,
		Content:     in.Content,
		Timestamp:   createdAt.Format(time.RFC3339Nano),
		Sender: SenderInfo{
			ID:       sender.ID,
			Username: sender.Username,
			IsOnline: sender.Online,
		},
	}

	if !e.registry.Send(receiver.ID, out) {
		e.logger.Debugf("User %d is offline, message %d kept for history only", receiver.ID, id)
	}

	return nil
}
