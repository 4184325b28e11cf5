package relay

import (
	"errors"

	"github.com/valyala/fastjson"
)

var (
	errBadReceiver = errors.New(`field "to" must be a user id greater than zero`)
	errBadType     = errors.New(`field "type" must be a string and have non-zero length`)
	errBadContent  = errors.New(`field "content" must be a string`)
)

// Inbound is the client-submitted envelope: one message addressed to
// another user.
type Inbound struct {
	To      int64
	Type    string
	Content string
}

// Outbound is the envelope forwarded to the receiver's channel after the
// message has been persisted.
type Outbound struct {
	ID          int64      `json:"id"`
	SenderID    int64      `json:"sender_id"`
	ReceiverID  int64      `json:"receiver_id"`
	MessageType string     `json:"message_type"`
	Content     string     `json:"content"`
	Timestamp   string     `json:"timestamp"`
	Sender      SenderInfo `json:"sender"`
}

// SenderInfo is a snapshot of the sender's directory record at forward time.
type SenderInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsOnline bool   `json:"is_online"`
}

// decodeInbound parses a raw frame into an Inbound envelope
func decodeInbound(parser *fastjson.Parser, data []byte) (Inbound, error) {
	v, err := parser.ParseBytes(data)
	if err != nil {
		return Inbound{}, err
	}

	if !v.Exists("to") {
		return Inbound{}, errBadReceiver
	}
	to, err := v.Get("to").Int64()
	if err != nil || to < 1 {
		return Inbound{}, errBadReceiver
	}

	if !v.Exists("type") {
		return Inbound{}, errBadType
	}
	msgType, err := v.Get("type").StringBytes()
	if err != nil || len(msgType) == 0 {
		return Inbound{}, errBadType
	}

	if !v.Exists("content") {
		return Inbound{}, errBadContent
	}
	content, err := v.Get("content").StringBytes()
	if err != nil {
		return Inbound{}, errBadContent
	}

	return Inbound{
		To:      to,
		Type:    string(msgType),
		Content: string(content),
	}, nil
}
