// Package wire defines the JSON messages exchanged on the live notification
// channel. Every frame is an object tagged by its "type" field.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nhle/notifybell/internal/model"
)

// Server to client tags.
const (
	TypeInit         = "init"
	TypeNotification = "notification"
	TypeUnreadCount  = "unread_count"
	TypePong         = "pong"
)

// Client to server tags.
const (
	TypePing        = "ping"
	TypeMarkRead    = "mark_read"
	TypeMarkAllRead = "mark_all_read"
)

// ErrMalformed is wrapped by Decode when a frame is not a tagged JSON object.
var ErrMalformed = errors.New("malformed frame")

// ServerMessage is one of Init, NotificationPush, UnreadCount, Pong or Unknown.
type ServerMessage interface {
	Tag() string
}

// Init is sent once after the channel opens.
type Init struct {
	UnreadCount int `json:"unread_count"`
}

// NotificationPush carries a newly created notification.
type NotificationPush struct {
	Notification model.Notification `json:"notification"`
}

// UnreadCount is an authoritative correction of the unread counter.
type UnreadCount struct {
	Count int `json:"count"`
}

// Pong acknowledges a ping.
type Pong struct{}

// Unknown is any frame whose tag this client does not understand.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Init) Tag() string             { return TypeInit }
func (NotificationPush) Tag() string { return TypeNotification }
func (UnreadCount) Tag() string      { return TypeUnreadCount }
func (Pong) Tag() string             { return TypePong }
func (u Unknown) Tag() string        { return u.Type }

type envelope struct {
	Type string `json:"type"`
}

// Decode parses a server frame. Frames with an unrecognised tag decode to
// Unknown without error; frames that are not JSON objects with a string
// "type" return an error wrapping ErrMalformed.
func Decode(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var (
		msg ServerMessage
		err error
	)
	switch env.Type {
	case TypeInit:
		var m Init
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeNotification:
		var m NotificationPush
		err = json.Unmarshal(data, &m)
		if err == nil && m.Notification.ID == "" {
			err = errors.New("notification without id")
		}
		msg = m
	case TypeUnreadCount:
		var m UnreadCount
		err = json.Unmarshal(data, &m)
		msg = m
	case TypePong:
		msg = Pong{}
	default:
		msg = Unknown{Type: env.Type, Raw: append(json.RawMessage(nil), data...)}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return msg, nil
}

// ClientMessage is a frame sent by the client.
type ClientMessage struct {
	Type           string `json:"type"`
	NotificationID string `json:"notification_id,omitempty"`
}

// Ping is the heartbeat frame.
func Ping() ClientMessage { return ClientMessage{Type: TypePing} }

// MarkRead asks the server to mark one notification read.
func MarkRead(id string) ClientMessage {
	return ClientMessage{Type: TypeMarkRead, NotificationID: id}
}

// MarkAllRead asks the server to mark every notification read.
func MarkAllRead() ClientMessage { return ClientMessage{Type: TypeMarkAllRead} }

// Encode serialises a client frame.
func Encode(m ClientMessage) ([]byte, error) {
	return json.Marshal(m)
}
